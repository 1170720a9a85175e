package vitals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smarthospital/vitals/pkg/common/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("vital not found")

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

type HistoryQuery struct {
	PatientID string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// ClampPage forces page to at least 1 and pageSize into [1, MaxPageSize].
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Store is the append-only record of vitals. cache may be nil.
type Store struct {
	db    *gorm.DB
	cache *LatestCache
}

func NewStore(db *gorm.DB, cache *LatestCache) *Store {
	return &Store{db: db, cache: cache}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Vital{})
}

// Append assigns a fresh id and persists v. Existing rows are never touched.
func (s *Store) Append(ctx context.Context, v *Vital) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating vital id: %w", err)
	}
	v.ID = id.String()
	v.ObservedAt = v.ObservedAt.UTC()
	v.CreatedAt = time.Now().UTC()

	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return "", fmt.Errorf("persisting vital: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, v.PatientID); err != nil {
			logger.Log.WithError(err).WithField("patient_id", v.PatientID).Warn("failed to invalidate latest cache")
		}
	}
	return v.ID, nil
}

// Latest returns the vital with the greatest observation time; equal times
// resolve to the most recently appended record.
func (s *Store) Latest(ctx context.Context, patientID string) (*Vital, error) {
	// The generation is read before the database so a write committed while
	// this reader is in flight makes the refill below a no-op.
	var (
		gen    string
		genErr error
	)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, patientID)
		if err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("latest cache read failed")
		}
		if cached != nil {
			return cached, nil
		}
		gen, genErr = s.cache.Generation(ctx, patientID)
	}

	var v Vital
	err := s.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Clauses(newestFirst()).
		Take(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest vital: %w", err)
	}

	if s.cache != nil && genErr == nil {
		if _, err := s.cache.Refill(ctx, &v, gen); err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("failed to populate latest cache")
		}
	}
	return &v, nil
}

// History returns one page of the patient's vitals within the inclusive
// [From, To] window, newest first, plus the unpaginated match count.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]Vital, int64, error) {
	page, pageSize := ClampPage(q.Page, q.PageSize)

	exprs := []clause.Expression{
		clause.Eq{Column: clause.Column{Name: "patient_id"}, Value: q.PatientID},
	}
	if q.From != nil {
		exprs = append(exprs, clause.Gte{Column: clause.Column{Name: "observed_at"}, Value: q.From.UTC()})
	}
	if q.To != nil {
		exprs = append(exprs, clause.Lte{Column: clause.Column{Name: "observed_at"}, Value: q.To.UTC()})
	}
	where := clause.Where{Exprs: exprs}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Vital{}).Clauses(where).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting vitals: %w", err)
	}

	rows := make([]Vital, 0)
	// Pages past the end are empty; checking before multiplying keeps a huge
	// page number from overflowing the offset.
	if int64(page-1) >= (total+int64(pageSize)-1)/int64(pageSize) {
		return rows, total, nil
	}

	err := s.db.WithContext(ctx).
		Clauses(where, newestFirst()).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing vitals: %w", err)
	}
	return rows, total, nil
}

func newestFirst() clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "observed_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}}
}
