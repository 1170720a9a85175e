package vitals

import (
	"time"

	"github.com/smarthospital/vitals/pkg/common/models"
	"gorm.io/datatypes"
)

const (
	StatusStored           = "stored"
	StatusDuplicateIgnored = "duplicate_ignored"
)

// Vital is immutable once stored. Ordering is by ObservedAt, then ID; IDs are
// UUIDv7 so a later append sorts after an earlier one.
type Vital struct {
	ID          string         `json:"id" gorm:"primaryKey;column:id"`
	PatientID   string         `json:"patient_id" gorm:"column:patient_id;not null;index:idx_vitals_patient_observed,priority:1"`
	ObservedAt  time.Time      `json:"observed_at" gorm:"column:observed_at;not null;index:idx_vitals_patient_observed,priority:2"`
	HeartRate   *int           `json:"heart_rate,omitempty" gorm:"column:heart_rate"`
	Systolic    *int           `json:"systolic,omitempty" gorm:"column:bp_systolic"`
	Diastolic   *int           `json:"diastolic,omitempty" gorm:"column:bp_diastolic"`
	SpO2        *int           `json:"spo2,omitempty" gorm:"column:spo2"`
	Temperature *float64       `json:"temp,omitempty" gorm:"column:temp"`
	DeviceID    string         `json:"device_id" gorm:"column:device_id;not null;index"`
	Payload     datatypes.JSON `json:"payload,omitempty" gorm:"column:payload"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Vital) TableName() string {
	return "vitals"
}

func (v Vital) Reading() models.VitalReading {
	reading := models.VitalReading{
		ID:          v.ID,
		PatientID:   v.PatientID,
		Timestamp:   v.ObservedAt.UTC(),
		HeartRate:   v.HeartRate,
		SpO2:        v.SpO2,
		Temperature: v.Temperature,
		DeviceID:    v.DeviceID,
	}
	if v.Systolic != nil && v.Diastolic != nil {
		reading.BP = &models.BloodPressure{Systolic: *v.Systolic, Diastolic: *v.Diastolic}
	}
	return reading
}

// IdempotencyRecord is keyed by (device_id, token) and written at most once.
type IdempotencyRecord struct {
	DeviceID  string    `gorm:"primaryKey;column:device_id"`
	Token     string    `gorm:"primaryKey;column:token"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
