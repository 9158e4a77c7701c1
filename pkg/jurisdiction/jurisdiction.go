package jurisdiction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	LevelFederal = "federal"
	LevelState   = "state"
)

// CodeFederal is the jurisdiction code used by the federal pollers.
const CodeFederal = "US"

type Jurisdiction struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Code      string    `json:"code" gorm:"column:code;uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"column:name"`
	Level     string    `json:"level" gorm:"column:level"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Jurisdiction) TableName() string {
	return "jurisdictions"
}

// Repository resolves jurisdiction codes to row ids. Workers resolve once
// per run and reuse the id for every record they mint, so the lookup is
// cached in-process.
type Repository struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[string]string
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, cache: make(map[string]string)}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Jurisdiction{})
}

// Resolve returns the id for a jurisdiction code, creating the row on first
// sight. Codes are upper-cased two-letter state abbreviations or "US".
func (r *Repository) Resolve(ctx context.Context, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = CodeFederal
	}

	r.mu.RLock()
	id, ok := r.cache[code]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	level := LevelState
	if code == CodeFederal {
		level = LevelFederal
	}

	record := Jurisdiction{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      code,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Where(Jurisdiction{Code: code}).
		FirstOrCreate(&record).Error
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[code] = record.ID
	r.mu.Unlock()

	return record.ID, nil
}
