package instrument

import (
	"time"

	"gorm.io/datatypes"
)

// Source names, one per poller. A record's source is never overwritten
// across workers; each worker mints external ids inside its own namespace.
const (
	SourceFederalRegister  = "federal_register"
	SourceCongress         = "congress_gov"
	SourceStateRegulations = "state_regulations"
	SourceCannabisRegistry = "cannabis_registry"
	SourceKratom           = "kratom"
	SourceKava             = "kava"
	SourceCaseLaw          = "caselaw"
	SourceStateLegislature = "state_legislature"
)

// DefaultTitle fills in for sources that occasionally omit one. Titles are
// never null in the store.
const DefaultTitle = "Untitled regulatory document"

// Instrument is the canonical unit of ingested data. ExternalID is the
// conflict target for upserts; a later upsert with the same external id
// replaces the row in full.
type Instrument struct {
	ID             string         `json:"id" gorm:"primaryKey;column:id"`
	ExternalID     string         `json:"external_id" gorm:"column:external_id;uniqueIndex;not null"`
	Title          string         `json:"title" gorm:"column:title;not null"`
	Description    string         `json:"description" gorm:"column:description"`
	EffectiveDate  *time.Time     `json:"effective_date,omitempty" gorm:"column:effective_date"`
	JurisdictionID string         `json:"jurisdiction_id" gorm:"column:jurisdiction_id;index"`
	Source         string         `json:"source" gorm:"column:source;index"`
	URL            string         `json:"url" gorm:"column:url"`
	Metadata       datatypes.JSON `json:"metadata" gorm:"column:metadata"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Instrument) TableName() string {
	return "instruments"
}
