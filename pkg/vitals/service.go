package vitals

import (
	"context"
	"errors"
	"fmt"

	"github.com/smarthospital/vitals/pkg/common/logger"
	"github.com/smarthospital/vitals/pkg/devices"
	"github.com/smarthospital/vitals/pkg/observability/metrics"
	"github.com/smarthospital/vitals/pkg/validation"
	"gorm.io/datatypes"
)

// ErrUnknownDevice is returned when a submission names a device that was
// never registered.
var ErrUnknownDevice = errors.New("device is not registered")

type DeviceLookup interface {
	Lookup(ctx context.Context, deviceID string) (*devices.Device, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	store     *Store
	ledger    Ledger
	devices   DeviceLookup
	publisher EventPublisher
	metrics   *metrics.Metrics
}

// NewService accepts a nil publisher and nil metrics.
func NewService(store *Store, ledger Ledger, devices DeviceLookup, publisher EventPublisher, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		devices:   devices,
		publisher: publisher,
		metrics:   m,
	}
}

type SubmitResult struct {
	VitalID   string
	Duplicate bool
}

// Submit stores a validated reading for patientID. token is the caller's
// idempotency token; an empty token disables deduplication. A replayed token
// yields Duplicate without touching the store.
func (s *Service) Submit(ctx context.Context, patientID string, sub validation.VitalSubmission, token string) (SubmitResult, error) {
	if _, err := s.devices.Lookup(ctx, sub.DeviceID); err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			return SubmitResult{}, ErrUnknownDevice
		}
		return SubmitResult{}, fmt.Errorf("resolving device: %w", err)
	}

	outcome, err := s.ledger.Record(ctx, sub.DeviceID, token)
	if err != nil {
		return SubmitResult{}, err
	}
	if outcome == Duplicate {
		logger.Log.WithFields(map[string]interface{}{
			"patient_id": patientID,
			"device_id":  sub.DeviceID,
		}).Info("duplicate vital submission ignored")
		s.metrics.DuplicateIgnored()
		return SubmitResult{Duplicate: true}, nil
	}

	vital := newVital(patientID, sub)
	id, err := s.store.Append(ctx, vital)
	if err != nil {
		if relErr := s.ledger.Release(ctx, sub.DeviceID, token); relErr != nil {
			logger.Log.WithError(relErr).WithField("device_id", sub.DeviceID).Error("failed to release idempotency key")
		}
		return SubmitResult{}, err
	}
	s.metrics.VitalStored()

	if s.publisher != nil {
		payload := map[string]interface{}{
			"vital_id":   id,
			"patient_id": patientID,
			"device_id":  sub.DeviceID,
			"reading":    vital.Reading(),
		}
		if err := s.publisher.PublishEvent(ctx, "vital.stored", sub.DeviceID, payload); err != nil {
			logger.Log.WithError(err).WithField("vital_id", id).Warn("failed to publish vital event")
		}
	}

	return SubmitResult{VitalID: id}, nil
}

func (s *Service) Latest(ctx context.Context, patientID string) (*Vital, error) {
	return s.store.Latest(ctx, patientID)
}

func (s *Service) History(ctx context.Context, q HistoryQuery) ([]Vital, int64, error) {
	return s.store.History(ctx, q)
}

func newVital(patientID string, sub validation.VitalSubmission) *Vital {
	v := &Vital{
		PatientID:   patientID,
		ObservedAt:  sub.Timestamp,
		HeartRate:   sub.HeartRate,
		SpO2:        sub.SpO2,
		Temperature: sub.Temperature,
		DeviceID:    sub.DeviceID,
	}
	if sub.BP != nil {
		systolic, diastolic := sub.BP.Systolic, sub.BP.Diastolic
		v.Systolic = &systolic
		v.Diastolic = &diastolic
	}
	if len(sub.Raw) > 0 {
		v.Payload = datatypes.JSON(sub.Raw)
	}
	return v
}
