package redis

import "time"

const (
	// Счётчик фиксированного окна лимитера: ratelimit:checkout:{identifier}.
	KeyRateLimit = "ratelimit:checkout:%s"

	// Ответ на запрос с idempotency-key: idem:checkout:{key} -> JSON IdempotencyRecord.
	KeyIdempotency = "idem:checkout:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
)
