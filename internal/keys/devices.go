package keys

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// deviceScript admits a fingerprint iff it is already known or the set is
// still under the limit. Membership test, cardinality check and insert run
// as one script so concurrent redemptions cannot jointly exceed the limit.
var deviceScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return 1
end
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('SADD', KEYS[1], ARGV[1])
return 1
`)

// DeviceRegistry tracks distinct device fingerprints per key in Redis.
// Fingerprint derivation is the caller's policy; this registry only
// enforces the distinct-count limit.
type DeviceRegistry struct {
	client *redis.Client
}

// NewDeviceRegistry constructs a DeviceRegistry.
func NewDeviceRegistry(client *redis.Client) *DeviceRegistry {
	return &DeviceRegistry{client: client}
}

func deviceSetKey(keyID uuid.UUID) string {
	return fmt.Sprintf("keygate:key:%s:devices", keyID)
}

// Register records the fingerprint for the key. It returns false when the
// fingerprint is new and the key already reached its device limit.
func (r *DeviceRegistry) Register(ctx context.Context, keyID uuid.UUID, fingerprint string, limit int32) (bool, error) {
	res, err := deviceScript.Run(ctx, r.client, []string{deviceSetKey(keyID)}, fingerprint, limit).Int()
	if err != nil {
		return false, fmt.Errorf("keys: register device: %w", err)
	}
	return res == 1, nil
}

// Forget clears the fingerprint set, used when a key is rotated so the
// successor starts with a clean device slate.
func (r *DeviceRegistry) Forget(ctx context.Context, keyID uuid.UUID) error {
	return r.client.Del(ctx, deviceSetKey(keyID)).Err()
}
