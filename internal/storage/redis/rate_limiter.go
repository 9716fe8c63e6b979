package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// RateLimiter: лимитер с фиксированным окном в Redis: INCR + EXPIRE NX + TTL одним pipeline.
// При недоступности Redis запрос пропускается (fail-open), ошибка только логируется.
type RateLimiter struct {
	client redis.Cmdable
	logger *log.Entry
	now    func() time.Time
}

// NewRateLimiter создаёт лимитер поверх клиента Redis.
func NewRateLimiter(client redis.Cmdable, logger *log.Entry) *RateLimiter {
	if logger == nil {
		logger = log.New().WithField("component", "rate-limiter")
	}
	return &RateLimiter{client: client, logger: logger, now: time.Now}
}

// Allow засчитывает попытку identifier в текущем окне.
func (l *RateLimiter) Allow(ctx context.Context, identifier string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	key := fmt.Sprintf(KeyRateLimit, identifier)
	now := l.now()

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		l.logger.WithError(err).WithField("identifier", identifier).Warn("rate limiter unavailable, allowing request")
		return domain.RateLimitDecision{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	count := int(incr.Val())
	resetIn := ttl.Val()
	if resetIn <= 0 {
		resetIn = window
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   now.Add(resetIn),
	}, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
