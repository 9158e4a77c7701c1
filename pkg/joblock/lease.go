package joblock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/regscope-ai/platform/pkg/common/logger"
)

const keyPrefix = "poller:lease:"

// releaseScript deletes the lease only when the caller still owns it, so a
// run that outlived its TTL cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is an atomic per-source lock backed by Redis SET NX with an expiry.
// It fronts the progress-row check: the SET either wins or loses in one
// round trip, leaving no check-then-insert window. The TTL mirrors the
// progress row's stale-lock cutoff, so a crashed run frees itself.
type Lease struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Lease {
	return &Lease{client: client, ttl: ttl}
}

// Acquire attempts to take the lease for a source. A nil Lease (Redis not
// configured) always grants, degrading to the row-based check alone.
func (l *Lease) Acquire(ctx context.Context, source string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}

	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, keyPrefix+source, token, l.ttl).Result()
	if err != nil {
		// Redis being down must not wedge ingestion; fall back to the
		// progress-row check.
		logger.Log.WithError(err).WithField("source", source).Warn("lease acquire failed, falling back to row lock")
		return "", true, nil
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lease if the token still owns it.
func (l *Lease) Release(ctx context.Context, source, token string) {
	if l == nil || l.client == nil || token == "" {
		return
	}
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + source}, token).Err(); err != nil && err != redis.Nil {
		logger.Log.WithError(err).WithField("source", source).Warn("lease release failed, will expire via TTL")
	}
}
