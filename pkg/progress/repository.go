package progress

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound signals that no matching run row exists.
	ErrNotFound = errors.New("poll run not found")
	// ErrLockHeld signals that another running row for the source already
	// exists, enforced by the partial unique index.
	ErrLockHeld = errors.New("another run is active for this source")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates the table plus the partial unique index that closes
// the check-then-insert race: at most one running row per source can exist,
// regardless of how many workers race the insert.
func (r *Repository) AutoMigrate() error {
	if err := r.db.AutoMigrate(&Run{}); err != nil {
		return err
	}
	return r.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_poll_runs_single_running
		 ON poll_runs (source_name) WHERE status = 'running'`,
	).Error
}

// ActiveRun returns the running row for a source if one exists and is
// younger than ttl. Rows older than ttl are treated as abandoned by a
// crashed run and do not block a new one.
func (r *Repository) ActiveRun(ctx context.Context, source string, ttl time.Duration) (*Run, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	var run Run
	result := r.db.WithContext(ctx).
		Where("source_name = ? AND status = ? AND started_at > ?", source, StatusRunning, cutoff).
		Order("started_at desc").
		First(&run)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &run, nil
}

// Begin inserts the running row, which is the lock acquisition. A unique
// violation from the partial index maps to ErrLockHeld. Stale running rows
// past the ttl are flipped to failed first so the index does not block the
// new run on a crashed one.
func (r *Repository) Begin(ctx context.Context, source, sessionID string, ttl time.Duration) (*Run, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	err := r.db.WithContext(ctx).Model(&Run{}).
		Where("source_name = ? AND status = ? AND started_at <= ?", source, StatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": "abandoned: lock TTL expired",
			"completed_at":  time.Now().UTC(),
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	run := &Run{
		ID:         uuid.New().String(),
		SourceName: source,
		Status:     StatusRunning,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if sessionID != "" {
		run.SessionID = &sessionID
	}

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrLockHeld
		}
		return nil, err
	}
	return run, nil
}

// IncrementFetched bumps the running counter as batches flush. The counter
// is monotonically non-decreasing within a run.
func (r *Repository) IncrementFetched(ctx context.Context, id string, delta int) error {
	if delta <= 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"records_fetched": gorm.Expr("records_fetched + ?", delta),
			"updated_at":      time.Now().UTC(),
		}).Error
}

// Finish finalizes the run. errMsg is truncated so an upstream stack trace
// cannot blow out the column.
func (r *Repository) Finish(ctx context.Context, id, status string, records int, errMsg string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"records_fetched": records,
			"error_message":   Truncate(errMsg),
			"completed_at":    now,
			"updated_at":      now,
		}).Error
}

// RecordAborted logs a conflict attempt. Only session-bearing (manual)
// invocations leave a trace; scheduled retries hitting the lock are routine.
func (r *Repository) RecordAborted(ctx context.Context, source, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	now := time.Now().UTC()
	run := &Run{
		ID:           uuid.New().String(),
		SessionID:    &sessionID,
		SourceName:   source,
		Status:       StatusAborted,
		StartedAt:    now,
		CompletedAt:  &now,
		UpdatedAt:    now,
		ErrorMessage: "aborted: another run is active",
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) ListRecent(ctx context.Context, source string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []Run
	query := r.db.WithContext(ctx).Order("started_at desc").Limit(limit)
	if source != "" {
		query = query.Where("source_name = ?", source)
	}
	err := query.Find(&runs).Error
	return runs, err
}

// Stats aggregates run history per source for the dashboard.
func (r *Repository) Stats(ctx context.Context) ([]SourceStats, error) {
	var stats []SourceStats
	err := r.db.WithContext(ctx).Model(&Run{}).
		Select(`source_name,
			count(*) as total_runs,
			count(*) filter (where status = 'completed') as completed_runs,
			count(*) filter (where status = 'failed') as failed_runs,
			coalesce(avg(extract(epoch from (completed_at - started_at))) filter (where completed_at is not null), 0) as avg_duration_sec,
			max(started_at) as last_run_at`).
		Group("source_name").
		Order("source_name").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	for i := range stats {
		if stats[i].TotalRuns > 0 {
			stats[i].SuccessRate = float64(stats[i].CompletedRuns) / float64(stats[i].TotalRuns)
		}
	}
	return stats, nil
}

// Truncate caps diagnostic text at MaxErrorLength bytes, trimming back to a
// rune boundary so a split multi-byte character never stores invalid UTF-8.
func Truncate(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	text := err.Error()
	return strings.Contains(text, "duplicate key") || strings.Contains(text, "23505")
}
