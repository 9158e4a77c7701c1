package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/regscope-ai/platform/pkg/instrument"
)

// Candidate is one normalized document emitted by a source before the
// shared relevance/persistence stages run. The source mints the external id
// inside its own namespace and fills a typed metadata bag; the runner adds
// inferred products and owns everything after that.
type Candidate struct {
	ExternalID    string
	Title         string
	Description   string
	EffectiveDate *time.Time
	URL           string
	Meta          instrument.Meta
}

// EmitFunc receives candidates in the source's deterministic page/term
// order. A non-nil return aborts the fetch.
type EmitFunc func(Candidate) error

// Source is one self-contained ingestion adapter for a single external
// regulatory data source.
type Source interface {
	// Name doubles as the Instrument source value and the lock domain.
	Name() string
	// JurisdictionCode is resolved once per run and stamped on every record.
	JurisdictionCode() string
	// CheckConfig fails fast before any network activity when a required
	// credential is missing.
	CheckConfig() error
	// Fetch pages through the upstream API from the since watermark and
	// emits candidates. Page-level trouble is handled inside: retried by the
	// fetch primitive, then skipped (429/5xx) or the term abandoned (other
	// 4xx). Only unrecoverable failures return an error.
	Fetch(ctx context.Context, since time.Time, emit EmitFunc) error
}

// ConfigError names the missing environment variable so the caller gets a
// 400 naming it instead of a silent no-op.
type ConfigError struct {
	Variable string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Variable)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
