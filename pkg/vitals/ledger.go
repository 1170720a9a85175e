package vitals

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Outcome int

const (
	Fresh Outcome = iota
	Duplicate
)

// Ledger records (device, token) pairs. For a given pair at most one Record
// call observes Fresh; an empty token is always Fresh and leaves no record.
// Release drops a pair so a failed write can be retried.
type Ledger interface {
	Record(ctx context.Context, deviceID, token string) (Outcome, error)
	Release(ctx context.Context, deviceID, token string) error
}

// GormLedger relies on the composite primary key; the losing concurrent insert
// is absorbed by ON CONFLICT DO NOTHING and reported as Duplicate.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) AutoMigrate() error {
	return l.db.AutoMigrate(&IdempotencyRecord{})
}

func (l *GormLedger) Record(ctx context.Context, deviceID, token string) (Outcome, error) {
	if token == "" {
		return Fresh, nil
	}

	rec := IdempotencyRecord{
		DeviceID:  deviceID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "token"}},
			DoNothing: true,
		}).
		Create(&rec)
	if result.Error != nil {
		return Fresh, fmt.Errorf("recording idempotency key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Duplicate, nil
	}
	return Fresh, nil
}

func (l *GormLedger) Release(ctx context.Context, deviceID, token string) error {
	if token == "" {
		return nil
	}
	return l.db.WithContext(ctx).
		Where("device_id = ? AND token = ?", deviceID, token).
		Delete(&IdempotencyRecord{}).Error
}

// CleanupExpired removes records older than ttl. A zero ttl keeps everything.
func (l *GormLedger) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	result := l.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&IdempotencyRecord{})
	return result.RowsAffected, result.Error
}

// RedisLedger claims keys with SET NX; entries expire after ttl.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Record(ctx context.Context, deviceID, token string) (Outcome, error) {
	if token == "" {
		return Fresh, nil
	}
	ok, err := l.client.SetNX(ctx, ledgerKey(deviceID, token), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return Fresh, fmt.Errorf("recording idempotency key: %w", err)
	}
	if !ok {
		return Duplicate, nil
	}
	return Fresh, nil
}

func (l *RedisLedger) Release(ctx context.Context, deviceID, token string) error {
	if token == "" {
		return nil
	}
	return l.client.Del(ctx, ledgerKey(deviceID, token)).Err()
}

// ledgerKey length-prefixes the device id so no (device, token) pair can
// collide with another.
func ledgerKey(deviceID, token string) string {
	return fmt.Sprintf("vitals:idem:%d:%s:%s", len(deviceID), deviceID, token)
}
