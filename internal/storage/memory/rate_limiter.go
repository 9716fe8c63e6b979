package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter: лимитер с фиксированным окном в памяти процесса.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewRateLimiter создаёт in-memory лимитер.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow засчитывает попытку и решает, укладывается ли она в лимит окна.
func (l *RateLimiter) Allow(_ context.Context, identifier string, limit int, win time.Duration) (domain.RateLimitDecision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(win)}
		l.windows[identifier] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
