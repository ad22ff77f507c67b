package factory

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/engram-io/engram/internal/config"
	"github.com/engram-io/engram/internal/idempotency"
)

// NewGuard builds the Redis-backed idempotency guard. The guard fails open,
// so a down Redis never blocks writes.
func NewGuard(cfg *config.Config, log zerolog.Logger) *idempotency.Guard {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	return idempotency.New(rdb, cfg.IdempotencyTTL(), log)
}
