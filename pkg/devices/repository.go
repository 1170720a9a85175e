package devices

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrDeviceExists    = errors.New("device already registered")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Patient{}, &Device{})
}

// Transaction runs fn against a repository bound to a single transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// EnsurePatient creates a minimal patient row when id is unknown and reports
// whether it did. Concurrent creators of the same id are tolerated.
func (r *Repository) EnsurePatient(ctx context.Context, id string) (bool, error) {
	patient := Patient{
		ID:        id,
		Name:      id,
		CreatedAt: time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&patient)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *Repository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var patient Patient
	err := r.db.WithContext(ctx).First(&patient, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *Repository) CreateDevice(ctx context.Context, device *Device) error {
	err := r.db.WithContext(ctx).Create(device).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDeviceExists
	}
	return err
}

func (r *Repository) DeviceExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Device{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *Repository) GetDevice(ctx context.Context, id string) (*Device, error) {
	var device Device
	err := r.db.WithContext(ctx).First(&device, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// DeviceByKeyHash is a point lookup on the unique api_key_hash index.
func (r *Repository) DeviceByKeyHash(ctx context.Context, hash string) (*Device, error) {
	var device Device
	err := r.db.WithContext(ctx).Where("api_key_hash = ?", hash).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *Repository) SetStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&Device{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
