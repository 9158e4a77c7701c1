package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/regscope-ai/platform/pkg/common/kafka"
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/observability/metrics"
	"github.com/regscope-ai/platform/pkg/progress"
	"github.com/regscope-ai/platform/pkg/relevance"
)

// Run outcomes surfaced to the HTTP layer.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeConflict  = "conflict"
)

// fetchEpoch is the lower bound used when a source has never produced data.
var fetchEpoch = time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

// InstrumentStore is the slice of the instrument repository the runner needs.
type InstrumentStore interface {
	UpsertBatch(ctx context.Context, records []instrument.Instrument) error
	MaxEffectiveDate(ctx context.Context, source string) (*time.Time, error)
}

// ProgressStore persists run rows; the running row doubles as the lock.
type ProgressStore interface {
	ActiveRun(ctx context.Context, source string, ttl time.Duration) (*progress.Run, error)
	Begin(ctx context.Context, source, sessionID string, ttl time.Duration) (*progress.Run, error)
	IncrementFetched(ctx context.Context, id string, delta int) error
	Finish(ctx context.Context, id, status string, records int, errMsg string) error
	RecordAborted(ctx context.Context, source, sessionID string) error
}

// Locker is the atomic lease fronting the progress-row check.
type Locker interface {
	Acquire(ctx context.Context, source string) (string, bool, error)
	Release(ctx context.Context, source, token string)
}

// JurisdictionResolver maps a jurisdiction code to its row id.
type JurisdictionResolver interface {
	Resolve(ctx context.Context, code string) (string, error)
}

// EventPublisher emits pipeline lifecycle events. Optional; nil disables it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
	PublishBatchUpserted(ctx context.Context, source string, externalIDs []string) error
}

// Result summarizes one worker invocation.
type Result struct {
	Outcome string
	Records int
	Skipped int
	Errors  []string
}

// Runner drives the per-source state machine shared by every worker:
// lock-check, incremental window, fetch/filter/normalize, batched upserts
// with progress updates, guaranteed finalization.
type Runner struct {
	instruments   InstrumentStore
	progress      ProgressStore
	locker        Locker
	jurisdictions JurisdictionResolver
	events        EventPublisher
	classifier    *relevance.Classifier
	lockTTL       time.Duration
	batchSize     int
}

func NewRunner(
	instruments InstrumentStore,
	progressStore ProgressStore,
	locker Locker,
	jurisdictions JurisdictionResolver,
	events EventPublisher,
	classifier *relevance.Classifier,
	lockTTL time.Duration,
	batchSize int,
) *Runner {
	if lockTTL <= 0 {
		lockTTL = 120 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if locker == nil {
		locker = noopLocker{}
	}
	return &Runner{
		instruments:   instruments,
		progress:      progressStore,
		locker:        locker,
		jurisdictions: jurisdictions,
		events:        events,
		classifier:    classifier,
		lockTTL:       lockTTL,
		batchSize:     batchSize,
	}
}

// Run executes one poll for src. The returned error is non-nil only for
// config errors and failures before the lock was acquired; once the running
// row exists every outcome is reported through Result and the row is
// finalized no matter what.
func (r *Runner) Run(ctx context.Context, src Source, sessionID string) (*Result, error) {
	if err := src.CheckConfig(); err != nil {
		return nil, err
	}

	source := src.Name()
	log := logger.ForSource(source)

	leaseToken, acquired, err := r.locker.Acquire(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("acquiring lease: %w", err)
	}
	if !acquired {
		metrics.IncLockConflict()
		if err := r.progress.RecordAborted(ctx, source, sessionID); err != nil {
			log.WithError(err).Warn("failed to record aborted attempt")
		}
		return &Result{Outcome: OutcomeConflict}, nil
	}
	defer func() {
		// The request context may already be canceled by the time the run
		// unwinds; release on a detached context so the lease never lingers
		// for its full TTL behind a dispatcher timeout.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		r.locker.Release(releaseCtx, source, leaseToken)
	}()

	// Belt over the lease: the lease can be granted on Redis fallback, so
	// the row check still runs. Rows older than the TTL do not block.
	if _, err := r.progress.ActiveRun(ctx, source, r.lockTTL); err == nil {
		metrics.IncLockConflict()
		if err := r.progress.RecordAborted(ctx, source, sessionID); err != nil {
			log.WithError(err).Warn("failed to record aborted attempt")
		}
		return &Result{Outcome: OutcomeConflict}, nil
	} else if err != progress.ErrNotFound {
		return nil, fmt.Errorf("checking active run: %w", err)
	}

	run, err := r.progress.Begin(ctx, source, sessionID, r.lockTTL)
	if err != nil {
		if err == progress.ErrLockHeld {
			metrics.IncLockConflict()
			return &Result{Outcome: OutcomeConflict}, nil
		}
		return nil, fmt.Errorf("beginning run: %w", err)
	}

	r.publish(ctx, kafka.EventRunStarted, source, map[string]interface{}{"run_id": run.ID})
	log.WithField("run_id", run.ID).Info("poll run started")

	result := &Result{Outcome: OutcomeFailed}
	var runErr error

	// The run row must be finalized on every path; an orphaned running row
	// blocks the source until the TTL elapses. A canceled request context
	// (dispatcher timeout, client disconnect) would make the Finish update
	// itself fail, so finalization runs on a detached context.
	defer func() {
		if rec := recover(); rec != nil {
			runErr = fmt.Errorf("panic: %v", rec)
			result.Outcome = OutcomeFailed
			result.Errors = append(result.Errors, runErr.Error())
		}
		finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		r.finalize(finalizeCtx, run.ID, source, result, runErr)
	}()

	since, err := r.fetchWindow(ctx, source)
	if err != nil {
		runErr = err
		return result, nil
	}
	log.WithField("since", since.Format("2006-01-02")).Debug("fetch window resolved")

	jurisdictionID, err := r.jurisdictions.Resolve(ctx, src.JurisdictionCode())
	if err != nil {
		runErr = fmt.Errorf("resolving jurisdiction: %w", err)
		return result, nil
	}

	flusher := newBatchFlusher(r, run.ID, source, result)

	emit := func(cand Candidate) error {
		if !r.classifier.Relevant(cand.Title, cand.Description) {
			result.Skipped++
			return nil
		}
		record, err := r.normalize(cand, source, jurisdictionID)
		if err != nil {
			result.Errors = append(result.Errors, progress.Truncate(err.Error()))
			return nil
		}
		return flusher.add(ctx, record)
	}

	if err := src.Fetch(ctx, since, emit); err != nil {
		flusher.flush(ctx)
		runErr = fmt.Errorf("fetching from %s: %w", source, err)
		return result, nil
	}

	flusher.flush(ctx)
	result.Outcome = OutcomeCompleted
	return result, nil
}

func (r *Runner) fetchWindow(ctx context.Context, source string) (time.Time, error) {
	max, err := r.instruments.MaxEffectiveDate(ctx, source)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolving fetch window: %w", err)
	}
	if max == nil {
		return fetchEpoch, nil
	}
	return max.Add(24 * time.Hour), nil
}

func (r *Runner) normalize(cand Candidate, source, jurisdictionID string) (instrument.Instrument, error) {
	title := cand.Title
	if title == "" {
		title = instrument.DefaultTitle
	}

	if tagger, ok := cand.Meta.(interface{ SetProducts([]string) }); ok {
		tagger.SetProducts(r.classifier.Products(cand.Title, cand.Description))
	}
	meta, err := instrument.EncodeMeta(cand.Meta)
	if err != nil {
		return instrument.Instrument{}, fmt.Errorf("encoding metadata for %s: %w", cand.ExternalID, err)
	}

	return instrument.Instrument{
		ID:             uuid.New().String(),
		ExternalID:     cand.ExternalID,
		Title:          title,
		Description:    cand.Description,
		EffectiveDate:  cand.EffectiveDate,
		JurisdictionID: jurisdictionID,
		Source:         source,
		URL:            cand.URL,
		Metadata:       meta,
	}, nil
}

func (r *Runner) finalize(ctx context.Context, runID, source string, result *Result, runErr error) {
	status := progress.StatusCompleted
	message := ""
	if result.Outcome != OutcomeCompleted {
		status = progress.StatusFailed
		if runErr != nil {
			message = runErr.Error()
		} else if len(result.Errors) > 0 {
			message = result.Errors[0]
		}
		metrics.IncRunFailed()
		r.publish(ctx, kafka.EventRunFailed, source, map[string]interface{}{
			"run_id": runID,
			"error":  progress.Truncate(message),
		})
	} else {
		metrics.IncRunCompleted()
		r.publish(ctx, kafka.EventRunCompleted, source, map[string]interface{}{
			"run_id":  runID,
			"records": result.Records,
			"skipped": result.Skipped,
		})
	}

	metrics.AddSkipped(result.Skipped)

	if err := r.progress.Finish(ctx, runID, status, result.Records, message); err != nil {
		logger.ForSource(source).WithError(err).Error("failed to finalize run row")
	}

	logger.ForSource(source).WithFields(map[string]interface{}{
		"run_id":  runID,
		"status":  status,
		"records": result.Records,
		"skipped": result.Skipped,
		"errors":  len(result.Errors),
	}).Info("poll run finished")
}

func (r *Runner) publish(ctx context.Context, eventType, source string, data map[string]interface{}) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishEvent(ctx, eventType, source, data); err != nil {
		logger.ForSource(source).WithError(err).Warn("failed to publish pipeline event")
	}
}

func (r *Runner) publishBatch(ctx context.Context, source string, externalIDs []string) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishBatchUpserted(ctx, source, externalIDs); err != nil {
		logger.ForSource(source).WithError(err).Warn("failed to publish batch event")
	}
}

// noopLocker stands in when no lease backend is configured; mutual
// exclusion then rests on the progress-row check alone.
type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, source string) (string, bool, error) {
	return "", true, nil
}

func (noopLocker) Release(ctx context.Context, source, token string) {}

// batchFlusher accumulates normalized records and flushes them in fixed-size
// batches, updating the progress counter after each flush. A failed batch is
// retried once in halves; a half that still fails is logged and dropped so
// one poison batch cannot sink the run.
type batchFlusher struct {
	runner *Runner
	runID  string
	source string
	result *Result
	batch  []instrument.Instrument
}

func newBatchFlusher(r *Runner, runID, source string, result *Result) *batchFlusher {
	return &batchFlusher{
		runner: r,
		runID:  runID,
		source: source,
		result: result,
		batch:  make([]instrument.Instrument, 0, r.batchSize),
	}
}

func (f *batchFlusher) add(ctx context.Context, record instrument.Instrument) error {
	f.batch = append(f.batch, record)
	if len(f.batch) >= f.runner.batchSize {
		f.flush(ctx)
	}
	return ctx.Err()
}

func (f *batchFlusher) flush(ctx context.Context) {
	if len(f.batch) == 0 {
		return
	}
	batch := f.batch
	f.batch = f.batch[:0]

	upserted := 0
	if err := f.runner.instruments.UpsertBatch(ctx, batch); err != nil {
		logger.ForSource(f.source).WithError(err).WithField("batch_size", len(batch)).
			Warn("batch upsert failed, retrying in halves")
		metrics.IncUpsertRetry()
		upserted = f.retryHalves(ctx, batch)
	} else {
		upserted = len(batch)
	}

	if upserted == 0 {
		return
	}

	f.result.Records += upserted
	metrics.AddUpserted(upserted)

	if err := f.runner.progress.IncrementFetched(ctx, f.runID, upserted); err != nil {
		logger.ForSource(f.source).WithError(err).Warn("failed to update progress counter")
	}

	ids := make([]string, 0, len(batch))
	for _, record := range batch {
		ids = append(ids, record.ExternalID)
	}
	f.runner.publishBatch(ctx, f.source, ids)
}

func (f *batchFlusher) retryHalves(ctx context.Context, batch []instrument.Instrument) int {
	if len(batch) == 1 {
		f.result.Errors = append(f.result.Errors,
			progress.Truncate(fmt.Sprintf("dropped record %s after failed upsert", batch[0].ExternalID)))
		return 0
	}

	upserted := 0
	mid := len(batch) / 2
	for _, half := range [][]instrument.Instrument{batch[:mid], batch[mid:]} {
		if len(half) == 0 {
			continue
		}
		if err := f.runner.instruments.UpsertBatch(ctx, half); err != nil {
			msg := fmt.Sprintf("dropped %d records after failed upsert retry: %v", len(half), err)
			logger.ForSource(f.source).WithError(err).WithField("batch_size", len(half)).
				Error("batch upsert retry failed, dropping half")
			f.result.Errors = append(f.result.Errors, progress.Truncate(msg))
			continue
		}
		upserted += len(half)
	}
	return upserted
}
