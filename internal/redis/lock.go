package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseIfOwner deletes the lock only while it still carries the caller's token.
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore reserves a driver for one dispatch attempt at a time.
type LockStore struct {
	client redis.Cmdable
}

// NewLockStore creates a new LockStore.
func NewLockStore(client redis.Cmdable) *LockStore {
	return &LockStore{client: client}
}

// AcquireDriverLock reserves driverID for owner, normally the request being
// dispatched. It reports false when another owner holds the driver.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, driverLockKey(driverID), owner, ttl).Result()
}

// ReleaseDriverLock drops the reservation if owner still holds it. A lock that
// expired and was taken by another dispatcher is left alone.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	return releaseIfOwner.Run(ctx, s.client, []string{driverLockKey(driverID)}, owner).Err()
}

func driverLockKey(driverID string) string {
	return "lock:driver:" + driverID
}
