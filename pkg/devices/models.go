package devices

import "time"

type DeviceType string

const (
	TypeHeartRate        DeviceType = "hr"
	TypeBloodPressure    DeviceType = "bp"
	TypeOxygenSaturation DeviceType = "spo2"
	TypeTemperature      DeviceType = "temp"
	TypeMultiSensor      DeviceType = "multi"
)

// DeviceTypes lists every accepted device type in wire form.
var DeviceTypes = []DeviceType{
	TypeHeartRate,
	TypeBloodPressure,
	TypeOxygenSaturation,
	TypeTemperature,
	TypeMultiSensor,
}

func (t DeviceType) Valid() bool {
	for _, known := range DeviceTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type Patient struct {
	ID          string     `json:"id" gorm:"primaryKey;column:id"`
	Name        string     `json:"name" gorm:"column:name"`
	DateOfBirth *time.Time `json:"dob,omitempty" gorm:"column:dob"`
	ClinicianID *string    `json:"clinician_id,omitempty" gorm:"column:clinician_id"`
	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at"`
}

func (Patient) TableName() string {
	return "patients"
}

// Device stores only the SHA-256 digest of its credential.
type Device struct {
	ID           string     `json:"device_id" gorm:"primaryKey;column:id"`
	Type         DeviceType `json:"type" gorm:"column:type;not null"`
	PatientID    string     `json:"patient_id" gorm:"column:patient_id;not null;index"`
	APIKeyHash   string     `json:"-" gorm:"column:api_key_hash;not null;uniqueIndex"`
	Status       string     `json:"status" gorm:"column:status;not null;default:active"`
	RegisteredAt time.Time  `json:"registered_at" gorm:"column:registered_at"`
}

func (Device) TableName() string {
	return "devices"
}

func (d Device) Active() bool {
	return d.Status == StatusActive
}
