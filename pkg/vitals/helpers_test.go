package vitals

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smarthospital/vitals/pkg/devices"
	"github.com/smarthospital/vitals/pkg/validation"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// One in-memory database per test; a single connection serializes writers.
	dsn := "file:vitals_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, NewStore(db, nil).AutoMigrate())
	require.NoError(t, NewGormLedger(db).AutoMigrate())
	return db
}

func openTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type stubDevices map[string]*devices.Device

func (s stubDevices) Lookup(_ context.Context, id string) (*devices.Device, error) {
	d, ok := s[id]
	if !ok {
		return nil, devices.ErrDeviceNotFound
	}
	return d, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

func intp(n int) *int { return &n }

func ts(hour int) time.Time {
	return time.Date(2025, 1, 1, hour, 0, 0, 0, time.UTC)
}

func submission(deviceID string, at time.Time, heartRate int) validation.VitalSubmission {
	return validation.VitalSubmission{
		Timestamp: at,
		HeartRate: intp(heartRate),
		DeviceID:  deviceID,
	}
}
