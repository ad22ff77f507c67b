// Package idempotency implements the duplicate-request guard in front of the
// write path. It is an availability optimization: when Redis is down the
// guard fails open and the storage unique constraint on
// (owner_id, idempotency_key) catches duplicates instead.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// reservation is the value stored under a key. MemoryID is empty while the
// original request is still in flight.
type reservation struct {
	OwnerID  string `json:"ownerId"`
	MemoryID string `json:"memoryId"`
}

// acquireScript reserves the key only if absent and returns the existing
// value otherwise, in one round trip.
var acquireScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
    return {0, existing}
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return {1, ''}
`)

// Guard wraps a Redis client with the check-and-set protocol.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

// New builds a guard. The TTL bounds how long a key dedupes retries.
func New(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *Guard {
	return &Guard{rdb: rdb, ttl: ttl, log: log.With().Str("component", "idempotency").Logger()}
}

// Acquisition is the outcome of Acquire.
type Acquisition struct {
	// IsNew is true when this request reserved the key.
	IsNew bool
	// MemoryID is the resolved memory for a duplicate, empty if the original
	// request has not finished yet.
	MemoryID string
}

func (g *Guard) key(ownerID, idemKey string) string {
	return fmt.Sprintf("engram:idem:%s:%s", ownerID, idemKey)
}

// Acquire reserves the (owner, key) pair. On Redis failure it logs and
// reports a fresh acquisition so writes keep flowing.
func (g *Guard) Acquire(ctx context.Context, ownerID, idemKey string) (Acquisition, error) {
	val, err := json.Marshal(reservation{OwnerID: ownerID})
	if err != nil {
		return Acquisition{}, err
	}
	res, err := acquireScript.Run(ctx, g.rdb,
		[]string{g.key(ownerID, idemKey)}, string(val), g.ttl.Milliseconds()).Slice()
	if err != nil {
		g.log.Warn().Err(err).Msg("guard unavailable, failing open")
		return Acquisition{IsNew: true}, nil
	}
	if len(res) != 2 {
		g.log.Warn().Int("len", len(res)).Msg("unexpected guard script reply, failing open")
		return Acquisition{IsNew: true}, nil
	}
	if fresh, _ := res[0].(int64); fresh == 1 {
		return Acquisition{IsNew: true}, nil
	}
	raw, _ := res[1].(string)
	var existing reservation
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		g.log.Warn().Err(err).Msg("unreadable guard reservation, failing open")
		return Acquisition{IsNew: true}, nil
	}
	return Acquisition{IsNew: false, MemoryID: existing.MemoryID}, nil
}

// MarkResolved records the memory id behind the key so later duplicates can
// be answered with the original resource. Keeps the remaining TTL.
func (g *Guard) MarkResolved(ctx context.Context, ownerID, idemKey, memoryID string) {
	val, err := json.Marshal(reservation{OwnerID: ownerID, MemoryID: memoryID})
	if err != nil {
		return
	}
	if err := g.rdb.Set(ctx, g.key(ownerID, idemKey), string(val), redis.KeepTTL).Err(); err != nil {
		g.log.Warn().Err(err).Str("memory_id", memoryID).Msg("failed to resolve guard reservation")
	}
}

// Release frees the key after a failed write so the client can retry.
func (g *Guard) Release(ctx context.Context, ownerID, idemKey string) {
	if err := g.rdb.Del(ctx, g.key(ownerID, idemKey)).Err(); err != nil {
		g.log.Warn().Err(err).Msg("failed to release guard reservation")
	}
}

// Ping reports guard backend health.
func (g *Guard) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}
