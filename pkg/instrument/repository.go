package instrument

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Instrument{})
}

// UpsertBatch inserts the batch, replacing any existing row that shares an
// external_id. Replacement is whole-row: a worker must always compute the
// full record before flushing, partial updates would destroy metadata from
// a previous run.
func (r *Repository) UpsertBatch(ctx context.Context, records []Instrument) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range records {
		if records[i].CreatedAt.IsZero() {
			records[i].CreatedAt = now
		}
		records[i].UpdatedAt = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		UpdateAll: true,
	}).Create(&records).Error
}

// MaxEffectiveDate returns the newest effective_date recorded for a source,
// or nil when the source has never produced data. Pollers use it as the
// incremental fetch watermark.
func (r *Repository) MaxEffectiveDate(ctx context.Context, source string) (*time.Time, error) {
	var result struct {
		Max *time.Time
	}
	err := r.db.WithContext(ctx).Model(&Instrument{}).
		Select("max(effective_date) as max").
		Where("source = ?", source).
		Scan(&result).Error
	if err != nil {
		return nil, err
	}
	return result.Max, nil
}

func (r *Repository) CountBySource(ctx context.Context, source string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Instrument{}).
		Where("source = ?", source).
		Count(&count).Error
	return count, err
}

// ListRecent returns the newest records for a source, for the dashboard's
// "what just landed" panel.
func (r *Repository) ListRecent(ctx context.Context, source string, limit int) ([]Instrument, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []Instrument
	query := r.db.WithContext(ctx).Order("updated_at desc").Limit(limit)
	if source != "" {
		query = query.Where("source = ?", source)
	}
	err := query.Find(&records).Error
	return records, err
}
