package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type session struct {
	identity  domain.Identity
	expiresAt time.Time
}

// SessionResolver хранит токены сессий в памяти.
type SessionResolver struct {
	mu       sync.RWMutex
	sessions map[string]session
	now      func() time.Time
}

// NewSessionResolver создаёт пустое хранилище сессий.
func NewSessionResolver() *SessionResolver {
	return &SessionResolver{
		sessions: make(map[string]session),
		now:      time.Now,
	}
}

// Issue регистрирует токен. Нулевой expiresAt означает бессрочную сессию.
func (r *SessionResolver) Issue(token string, identity domain.Identity, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = session{identity: identity, expiresAt: expiresAt}
}

// Resolve возвращает клиента по токену или ErrUnauthorized.
func (r *SessionResolver) Resolve(_ context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, domain.ErrUnauthorized
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[credential]
	if !ok {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	if !s.expiresAt.IsZero() && !s.expiresAt.After(r.now()) {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return s.identity, nil
}

var _ domain.SessionResolver = (*SessionResolver)(nil)
