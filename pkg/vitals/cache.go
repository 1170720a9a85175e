package vitals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Every write bumps the patient's generation and drops the entry. A refill
// only lands if the generation it read before querying the database is still
// current, so a reader holding an older row cannot overwrite a newer write.
var (
	refillScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false then current = '' end
if current ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

	invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('DEL', KEYS[2])
return 1
`)
)

// LatestCache is a read-through cache of each patient's latest vital.
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLatestCache(client *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{client: client, ttl: ttl}
}

func latestKey(patientID string) string {
	return "vitals:latest:" + patientID
}

func generationKey(patientID string) string {
	return "vitals:latest-gen:" + patientID
}

// Get returns nil without error on a miss.
func (c *LatestCache) Get(ctx context.Context, patientID string) (*Vital, error) {
	data, err := c.client.Get(ctx, latestKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var v Vital
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding cached vital: %w", err)
	}
	return &v, nil
}

// Generation returns the patient's current write generation; "" means no
// write has been recorded.
func (c *LatestCache) Generation(ctx context.Context, patientID string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey(patientID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// Refill stores v unless a write bumped the generation after gen was read.
// It reports whether the entry was stored.
func (c *LatestCache) Refill(ctx context.Context, v *Vital, gen string) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	stored, err := refillScript.Run(ctx, c.client,
		[]string{generationKey(v.PatientID), latestKey(v.PatientID)},
		gen, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *LatestCache) Invalidate(ctx context.Context, patientID string) error {
	return invalidateScript.Run(ctx, c.client,
		[]string{generationKey(patientID), latestKey(patientID)},
	).Err()
}
