package devices

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterProvisionsPatient(t *testing.T) {
	repo := openTestRepo(t)
	pub := &fakePublisher{}
	registry := NewRegistry(repo, pub, nil)
	ctx := context.Background()

	key, err := registry.Register(ctx, Registration{DeviceID: "dev-1", Type: TypeHeartRate, PatientID: "p-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, KeyPrefix))

	patient, err := repo.GetPatient(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", patient.Name)

	device, err := registry.Lookup(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, TypeHeartRate, device.Type)
	assert.Equal(t, "p-1", device.PatientID)
	assert.Equal(t, StatusActive, device.Status)
	assert.Equal(t, HashKey(key), device.APIKeyHash)
	assert.NotContains(t, device.APIKeyHash, key)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "device.registered", pub.events[0].Type)
	assert.NotContains(t, pub.events[0].Data, "api_key")
}

func TestRegisterKeepsExistingPatient(t *testing.T) {
	repo := openTestRepo(t)
	registry := NewRegistry(repo, nil, nil)
	ctx := context.Background()

	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.db.Create(&Patient{ID: "p-2", Name: "Jane Smith", DateOfBirth: &dob}).Error)

	_, err := registry.Register(ctx, Registration{DeviceID: "dev-2", Type: TypeMultiSensor, PatientID: "p-2"})
	require.NoError(t, err)

	patient, err := repo.GetPatient(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", patient.Name)
	require.NotNil(t, patient.DateOfBirth)
}

func TestRegisterDuplicateDeviceConflicts(t *testing.T) {
	repo := openTestRepo(t)
	registry := NewRegistry(repo, nil, nil)
	ctx := context.Background()

	first, err := registry.Register(ctx, Registration{DeviceID: "dev-3", Type: TypeTemperature, PatientID: "p-3"})
	require.NoError(t, err)

	_, err = registry.Register(ctx, Registration{DeviceID: "dev-3", Type: TypeTemperature, PatientID: "p-4"})
	assert.ErrorIs(t, err, ErrDeviceExists)

	// The first credential stays valid and the second patient was not provisioned.
	device, err := repo.GetDevice(ctx, "dev-3")
	require.NoError(t, err)
	assert.Equal(t, HashKey(first), device.APIKeyHash)
	_, err = repo.GetPatient(ctx, "p-4")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestRegisterIssuesDistinctKeys(t *testing.T) {
	repo := openTestRepo(t)
	registry := NewRegistry(repo, nil, nil)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for _, id := range []string{"a", "b", "c", "d"} {
		key, err := registry.Register(ctx, Registration{DeviceID: id, Type: TypeBloodPressure, PatientID: "p"})
		require.NoError(t, err)
		_, dup := seen[key]
		assert.False(t, dup)
		seen[key] = struct{}{}
	}
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	repo := openTestRepo(t)
	registry := NewRegistry(repo, nil, nil)
	ctx := context.Background()

	for _, dt := range DeviceTypes {
		_, err := registry.Register(ctx, Registration{DeviceID: "dev-" + string(dt), Type: dt, PatientID: "p-1"})
		assert.NoError(t, err, dt)
	}

	_, err := registry.Register(ctx, Registration{DeviceID: "dev-ecg", Type: "ecg", PatientID: "p-2"})
	assert.ErrorIs(t, err, ErrInvalidDeviceType)

	exists, err := repo.DeviceExists(ctx, "dev-ecg")
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = repo.GetPatient(ctx, "p-2")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}
