package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smarthospital/vitals/pkg/common/logger"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
)

var ErrInvalidDeviceType = errors.New("unknown device type")

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Registry struct {
	repo      *Repository
	publisher EventPublisher
	metrics   *metrics.Metrics
}

// NewRegistry accepts a nil publisher and nil metrics.
func NewRegistry(repo *Repository, publisher EventPublisher, m *metrics.Metrics) *Registry {
	return &Registry{repo: repo, publisher: publisher, metrics: m}
}

type Registration struct {
	DeviceID  string
	Type      DeviceType
	PatientID string
}

// Register stores the device and returns its credential. The plaintext
// credential is only ever available from this return value.
//
// An unknown patient id is provisioned as a minimal patient record. A device id
// that is already registered fails with ErrDeviceExists, and a type outside
// DeviceTypes with ErrInvalidDeviceType.
func (r *Registry) Register(ctx context.Context, reg Registration) (string, error) {
	if !reg.Type.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceType, reg.Type)
	}

	key, err := generateKey()
	if err != nil {
		return "", err
	}

	device := &Device{
		ID:           reg.DeviceID,
		Type:         reg.Type,
		PatientID:    reg.PatientID,
		APIKeyHash:   HashKey(key),
		Status:       StatusActive,
		RegisteredAt: time.Now().UTC(),
	}

	var provisioned bool
	err = r.repo.Transaction(ctx, func(tx *Repository) error {
		exists, err := tx.DeviceExists(ctx, reg.DeviceID)
		if err != nil {
			return fmt.Errorf("checking device: %w", err)
		}
		if exists {
			return ErrDeviceExists
		}

		provisioned, err = tx.EnsurePatient(ctx, reg.PatientID)
		if err != nil {
			return fmt.Errorf("provisioning patient: %w", err)
		}

		return tx.CreateDevice(ctx, device)
	})
	if err != nil {
		return "", err
	}

	logger.Log.WithFields(map[string]interface{}{
		"device_id":           device.ID,
		"patient_id":          device.PatientID,
		"type":                device.Type,
		"patient_provisioned": provisioned,
	}).Info("device registered")
	r.metrics.DeviceRegistered()

	if r.publisher != nil {
		payload := map[string]interface{}{
			"device_id":     device.ID,
			"patient_id":    device.PatientID,
			"type":          string(device.Type),
			"registered_at": device.RegisteredAt,
		}
		if err := r.publisher.PublishEvent(ctx, "device.registered", device.ID, payload); err != nil {
			logger.Log.WithError(err).WithField("device_id", device.ID).Warn("failed to publish registration event")
		}
	}

	return key, nil
}

// Lookup returns the registered device with the given id.
func (r *Registry) Lookup(ctx context.Context, deviceID string) (*Device, error) {
	return r.repo.GetDevice(ctx, deviceID)
}
