package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease provides named mutual exclusion for periodic jobs across a fleet of
// workers. A lease is taken with SET NX and a TTL of maxHold, so an abandoned
// run self-expires. Releasing before minHold has elapsed does not delete the
// key; it shortens the TTL to the remainder of minHold instead, which stops an
// immediately re-triggered run from doing the same work twice.
type Lease struct {
	client *redis.Client
}

// NewLease creates a Lease backed by the given Redis client.
func NewLease(client *redis.Client) *Lease {
	return &Lease{client: client}
}

// Only the holder of the token may delete or re-expire the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[2]) > 0 then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire attempts to take the named lease. It returns acquired=false (with a
// nil release func) when another worker currently holds it. The returned
// release function is safe to call exactly once, typically via defer.
func (l *Lease) Acquire(ctx context.Context, name string, minHold, maxHold time.Duration) (release func(), acquired bool, err error) {
	key := "lease:" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, maxHold).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	start := time.Now()
	release = func() {
		remainder := minHold - time.Since(start)
		if remainder < 0 {
			remainder = 0
		}
		// Release errors are not actionable; the maxHold TTL bounds the damage.
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token, remainder.Milliseconds()).Err()
	}
	return release, true, nil
}
