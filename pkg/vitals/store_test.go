package vitals

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendAt(t *testing.T, store *Store, patientID string, at time.Time, heartRate int) string {
	t.Helper()
	id, err := store.Append(context.Background(), &Vital{
		PatientID:  patientID,
		ObservedAt: at,
		HeartRate:  intp(heartRate),
		DeviceID:   "dev-1",
	})
	require.NoError(t, err)
	return id
}

func TestLatestNoReadings(t *testing.T) {
	store := NewStore(openTestDB(t), nil)

	_, err := store.Latest(context.Background(), "p-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestUsesObservationTime(t *testing.T) {
	store := NewStore(openTestDB(t), nil)

	// Inserted out of order; the newest observation must win.
	appendAt(t, store, "p-1", ts(5), 75)
	appendAt(t, store, "p-1", ts(9), 90)
	appendAt(t, store, "p-1", ts(1), 60)
	appendAt(t, store, "p-2", ts(12), 100)

	v, err := store.Latest(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 90, *v.HeartRate)
	assert.True(t, ts(9).Equal(v.ObservedAt))
}

func TestLatestTieBreaksOnLaterAppend(t *testing.T) {
	store := NewStore(openTestDB(t), nil)

	first := appendAt(t, store, "p-1", ts(3), 70)
	second := appendAt(t, store, "p-1", ts(3), 71)
	assert.Less(t, first, second)

	v, err := store.Latest(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, second, v.ID)
}

func TestAppendNeverOverwrites(t *testing.T) {
	store := NewStore(openTestDB(t), nil)

	a := appendAt(t, store, "p-1", ts(1), 70)
	b := appendAt(t, store, "p-1", ts(1), 70)
	assert.NotEqual(t, a, b)

	_, total, err := store.History(context.Background(), HistoryQuery{PatientID: "p-1", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestHistoryOrderingRangeAndPagination(t *testing.T) {
	store := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	for h := 0; h < 10; h++ {
		appendAt(t, store, "p-1", ts(h), 60+h)
	}
	appendAt(t, store, "p-2", ts(4), 99)

	rows, total, err := store.History(ctx, HistoryQuery{PatientID: "p-1", Page: 1, PageSize: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 10, total)
	require.Len(t, rows, 10)
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i-1].ObservedAt.After(rows[i].ObservedAt))
	}

	from, to := ts(2), ts(6)
	rows, total, err = store.History(ctx, HistoryQuery{PatientID: "p-1", From: &from, To: &to, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total, "bounds are inclusive")
	require.Len(t, rows, 2)
	assert.Equal(t, 66, *rows[0].HeartRate)
	assert.Equal(t, 65, *rows[1].HeartRate)

	rows, _, err = store.History(ctx, HistoryQuery{PatientID: "p-1", From: &from, To: &to, Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 62, *rows[0].HeartRate)

	rows, total, err = store.History(ctx, HistoryQuery{PatientID: "p-1", From: &from, To: &to, Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Empty(t, rows)

	rows, total, err = store.History(ctx, HistoryQuery{PatientID: "nobody", Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestHistoryClampsPageSize(t *testing.T) {
	store := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		appendAt(t, store, "p-1", ts(i), 70)
	}

	rows, _, err := store.History(ctx, HistoryQuery{PatientID: "p-1", Page: 0, PageSize: 0})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, _, err = store.History(ctx, HistoryQuery{PatientID: "p-1", Page: -4, PageSize: 10000})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestHistoryPagePastTheEnd(t *testing.T) {
	store := NewStore(openTestDB(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		appendAt(t, store, "p-1", ts(i), 70)
	}

	for _, q := range []HistoryQuery{
		{PatientID: "p-1", Page: 2, PageSize: 3},
		{PatientID: "p-1", Page: 4, PageSize: 1},
		{PatientID: "p-1", Page: 1 << 62, PageSize: MaxPageSize},
		{PatientID: "p-1", Page: math.MaxInt, PageSize: 2},
	} {
		rows, total, err := store.History(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, rows, "page %d", q.Page)
		assert.NotNil(t, rows)
		assert.EqualValues(t, 3, total)
	}

	rows, _, err := store.History(ctx, HistoryQuery{PatientID: "p-1", Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{1, 100, 1, 100},
		{0, 0, 1, 1},
		{-3, -10, 1, 1},
		{2, 10000, 2, 500},
		{5, 500, 5, 500},
		{5, 501, 5, 500},
	}
	for _, tt := range tests {
		page, size := ClampPage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestReadingBloodPressureIsAllOrNothing(t *testing.T) {
	with := Vital{Systolic: intp(118), Diastolic: intp(76)}
	r := with.Reading()
	require.NotNil(t, r.BP)
	assert.Equal(t, 118, r.BP.Systolic)
	assert.Equal(t, 76, r.BP.Diastolic)

	assert.Nil(t, Vital{}.Reading().BP)
	assert.Nil(t, Vital{Systolic: intp(118)}.Reading().BP)
}

func TestLatestCacheReadThroughAndInvalidate(t *testing.T) {
	mr, client := openTestRedis(t)
	store := NewStore(openTestDB(t), NewLatestCache(client, time.Minute))
	ctx := context.Background()

	appendAt(t, store, "p-1", ts(1), 70)
	v, err := store.Latest(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 70, *v.HeartRate)
	assert.True(t, mr.Exists(latestKey("p-1")))

	cached, err := store.Latest(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, cached.ID)

	appendAt(t, store, "p-1", ts(2), 80)
	assert.False(t, mr.Exists(latestKey("p-1")))

	v, err = store.Latest(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 80, *v.HeartRate)
}

func TestLatestCacheRefillLosesToConcurrentAppend(t *testing.T) {
	mr, client := openTestRedis(t)
	db := openTestDB(t)
	cache := NewLatestCache(client, time.Minute)
	store := NewStore(db, cache)
	ctx := context.Background()

	appendAt(t, store, "p-1", ts(0), 60)

	// A reader records the generation and loads the current row...
	gen, err := cache.Generation(ctx, "p-1")
	require.NoError(t, err)
	var old Vital
	require.NoError(t, db.Where("patient_id = ?", "p-1").Take(&old).Error)

	// ...a newer reading commits before the reader refills.
	appendAt(t, store, "p-1", ts(1), 99)

	stored, err := cache.Refill(ctx, &old, gen)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(latestKey("p-1")))

	v, err := store.Latest(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 99, *v.HeartRate)
	assert.True(t, ts(1).Equal(v.ObservedAt))

	// The refill from that read was current and is served from the cache.
	assert.True(t, mr.Exists(latestKey("p-1")))
	cached, err := cache.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, v.ID, cached.ID)
}

func TestLatestCacheRefillWithoutPriorWrites(t *testing.T) {
	mr, client := openTestRedis(t)
	cache := NewLatestCache(client, time.Minute)
	ctx := context.Background()

	v := &Vital{ID: "v-1", PatientID: "p-1", ObservedAt: ts(0)}
	stored, err := cache.Refill(ctx, v, "")
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists(latestKey("p-1")))
	assert.Greater(t, mr.TTL(latestKey("p-1")), time.Duration(0))

	// A stale generation never lands.
	require.NoError(t, cache.Invalidate(ctx, "p-1"))
	stored, err = cache.Refill(ctx, v, "")
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestLatestCacheFailureFallsBackToDatabase(t *testing.T) {
	mr, client := openTestRedis(t)
	store := NewStore(openTestDB(t), NewLatestCache(client, time.Minute))
	ctx := context.Background()

	appendAt(t, store, "p-1", ts(1), 70)
	mr.Close()

	v, err := store.Latest(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 70, *v.HeartRate)
}
