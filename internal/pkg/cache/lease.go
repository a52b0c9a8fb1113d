package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a redis-backed mutual exclusion token. The billing processor
// takes one per sweep so overlapping scheduler triggers cannot double-charge.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// AcquireLease tries to take the named lease for ttl. It returns (nil, false)
// without error when somebody else holds it.
func AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	l := &Lease{
		client: GetClient(),
		key:    "lease:" + name,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// releaseScript deletes the lease only when we still own it, so a lease that
// expired and was re-acquired by another run is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release gives the lease back. Safe to call after expiry.
func (l *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
