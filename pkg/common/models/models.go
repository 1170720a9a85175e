package models

import "time"

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // vital.stored, device.registered
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// VitalReading is the wire shape of a stored vital. Absent measurements are
// encoded as null; BP is never partial.
type VitalReading struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patient_id"`
	Timestamp   time.Time      `json:"timestamp"`
	HeartRate   *int           `json:"heart_rate"`
	BP          *BloodPressure `json:"bp"`
	SpO2        *int           `json:"spo2"`
	Temperature *float64       `json:"temp"`
	DeviceID    string         `json:"device_id"`
}

type HistoryPage struct {
	Results  []VitalReading `json:"results"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int64          `json:"total"`
}

type RegisterDeviceResponse struct {
	DeviceID string `json:"device_id"`
	APIKey   string `json:"api_key"`
	Status   string `json:"status"`
}

type SubmitVitalResponse struct {
	VitalID string `json:"vital_id,omitempty"`
	Status  string `json:"status"`
}
