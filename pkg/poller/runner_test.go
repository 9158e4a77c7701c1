package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/regscope-ai/platform/pkg/common/kafka"
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/progress"
	"github.com/regscope-ai/platform/pkg/relevance"
)

func init() {
	logger.Init()
}

type fakeInstruments struct {
	rows        map[string]instrument.Instrument
	upsertCalls int
	failBatches int // fail this many UpsertBatch calls before succeeding
}

func newFakeInstruments() *fakeInstruments {
	return &fakeInstruments{rows: make(map[string]instrument.Instrument)}
}

func (f *fakeInstruments) UpsertBatch(ctx context.Context, records []instrument.Instrument) error {
	f.upsertCalls++
	if f.failBatches > 0 {
		f.failBatches--
		return errors.New("store unavailable")
	}
	for _, record := range records {
		f.rows[record.ExternalID] = record
	}
	return nil
}

func (f *fakeInstruments) MaxEffectiveDate(ctx context.Context, source string) (*time.Time, error) {
	var max *time.Time
	for _, record := range f.rows {
		if record.Source != source || record.EffectiveDate == nil {
			continue
		}
		if max == nil || record.EffectiveDate.After(*max) {
			max = record.EffectiveDate
		}
	}
	return max, nil
}

func (f *fakeInstruments) countBySource(source string) int {
	count := 0
	for _, record := range f.rows {
		if record.Source == source {
			count++
		}
	}
	return count
}

type fakeProgress struct {
	runs         map[string]*progress.Run
	aborted      int
	finishCtxErr error
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{runs: make(map[string]*progress.Run)}
}

func (f *fakeProgress) ActiveRun(ctx context.Context, source string, ttl time.Duration) (*progress.Run, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	for _, run := range f.runs {
		if run.SourceName == source && run.Status == progress.StatusRunning && run.StartedAt.After(cutoff) {
			return run, nil
		}
	}
	return nil, progress.ErrNotFound
}

func (f *fakeProgress) Begin(ctx context.Context, source, sessionID string, ttl time.Duration) (*progress.Run, error) {
	cutoff := time.Now().UTC().Add(-ttl)
	for _, run := range f.runs {
		if run.SourceName == source && run.Status == progress.StatusRunning {
			if run.StartedAt.After(cutoff) {
				return nil, progress.ErrLockHeld
			}
			run.Status = progress.StatusFailed
			run.ErrorMessage = "abandoned: lock TTL expired"
		}
	}
	run := &progress.Run{
		ID:         uuid.New().String(),
		SourceName: source,
		Status:     progress.StatusRunning,
		StartedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeProgress) IncrementFetched(ctx context.Context, id string, delta int) error {
	if run, ok := f.runs[id]; ok {
		run.RecordsFetched += delta
	}
	return nil
}

func (f *fakeProgress) Finish(ctx context.Context, id, status string, records int, errMsg string) error {
	f.finishCtxErr = ctx.Err()
	run, ok := f.runs[id]
	if !ok {
		return progress.ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.RecordsFetched = records
	run.ErrorMessage = progress.Truncate(errMsg)
	run.CompletedAt = &now
	return nil
}

func (f *fakeProgress) RecordAborted(ctx context.Context, source, sessionID string) error {
	f.aborted++
	return nil
}

func (f *fakeProgress) lastRun(source string) *progress.Run {
	var last *progress.Run
	for _, run := range f.runs {
		if run.SourceName != source {
			continue
		}
		if last == nil || run.StartedAt.After(last.StartedAt) {
			last = run
		}
	}
	return last
}

type fakeEvents struct {
	events  []string
	batches [][]string
}

func (f *fakeEvents) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakeEvents) PublishBatchUpserted(ctx context.Context, source string, externalIDs []string) error {
	f.batches = append(f.batches, externalIDs)
	return nil
}

type fakeLocker struct {
	released      bool
	releaseCtxErr error
}

func (l *fakeLocker) Acquire(ctx context.Context, source string) (string, bool, error) {
	return "lease-token", true, nil
}

func (l *fakeLocker) Release(ctx context.Context, source, token string) {
	l.released = true
	l.releaseCtxErr = ctx.Err()
}

type fakeJurisdictions struct{}

func (fakeJurisdictions) Resolve(ctx context.Context, code string) (string, error) {
	return "jur-" + code, nil
}

type fakeSource struct {
	name   string
	pages  [][]Candidate
	cfgErr error
	err    error
}

func (s *fakeSource) Name() string             { return s.name }
func (s *fakeSource) JurisdictionCode() string { return "US" }
func (s *fakeSource) CheckConfig() error       { return s.cfgErr }

func (s *fakeSource) Fetch(ctx context.Context, since time.Time, emit EmitFunc) error {
	for _, page := range s.pages {
		for _, cand := range page {
			if err := emit(cand); err != nil {
				return err
			}
		}
	}
	return s.err
}

func candidate(id, title string) Candidate {
	date := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	return Candidate{
		ExternalID:    id,
		Title:         title,
		Description:   "",
		EffectiveDate: &date,
		URL:           "https://example.gov/" + id,
		Meta:          &instrument.FederalRegisterMeta{DocumentNumber: id},
	}
}

func newTestRunner(instruments *fakeInstruments, progressStore *fakeProgress, batchSize int) *Runner {
	classifier := relevance.NewClassifier(relevance.DefaultKeywords())
	return NewRunner(instruments, progressStore, nil, fakeJurisdictions{}, nil, classifier, 2*time.Hour, batchSize)
}

func TestRunPersistsRelevantDocumentsAndSkipsOffTopic(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	// Three pages, two documents each; two are off-topic.
	src := &fakeSource{
		name: "federal_register",
		pages: [][]Candidate{
			{candidate("fr-1", "Marijuana Rescheduling Proposed Rule"), candidate("fr-2", "Hemp Testing Guidelines")},
			{candidate("fr-3", "Migratory Bird Permit Revisions"), candidate("fr-4", "Kratom Import Alert Update")},
			{candidate("fr-5", "Grain Inspection Fee Notice"), candidate("fr-6", "CBD Labeling Enforcement")},
		},
	}

	result, err := runner.Run(context.Background(), src, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", result.Outcome)
	}
	if result.Records != 4 {
		t.Fatalf("expected 4 records, got %d", result.Records)
	}
	if result.Skipped != 2 {
		t.Fatalf("expected 2 skipped, got %d", result.Skipped)
	}
	if got := instruments.countBySource("federal_register"); got != 4 {
		t.Fatalf("expected 4 stored rows, got %d", got)
	}

	run := progressStore.lastRun("federal_register")
	if run == nil || run.Status != progress.StatusCompleted {
		t.Fatalf("expected completed run row, got %+v", run)
	}
	if run.RecordsFetched != 4 {
		t.Fatalf("expected records_fetched 4, got %d", run.RecordsFetched)
	}
}

func TestRunIsIdempotentAcrossOverlappingWindows(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	src := &fakeSource{
		name: "federal_register",
		pages: [][]Candidate{
			{candidate("fr-1", "Marijuana Rescheduling Proposed Rule"), candidate("fr-2", "Hemp Testing Guidelines")},
		},
	}

	for i := 0; i < 2; i++ {
		result, err := runner.Run(context.Background(), src, "")
		if err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
		if result.Outcome != OutcomeCompleted {
			t.Fatalf("run %d outcome: %s", i+1, result.Outcome)
		}
	}

	if got := instruments.countBySource("federal_register"); got != 2 {
		t.Fatalf("expected 2 rows after reruns, got %d", got)
	}
}

func TestRunReplacesRowOnSameExternalID(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	first := &fakeSource{name: "federal_register", pages: [][]Candidate{
		{candidate("fr-1", "Cannabis Rule: Draft")},
	}}
	if _, err := runner.Run(context.Background(), first, ""); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	second := &fakeSource{name: "federal_register", pages: [][]Candidate{
		{candidate("fr-1", "Cannabis Rule: Final")},
	}}
	if _, err := runner.Run(context.Background(), second, ""); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	row, ok := instruments.rows["fr-1"]
	if !ok {
		t.Fatal("expected row fr-1")
	}
	if row.Title != "Cannabis Rule: Final" {
		t.Fatalf("expected replaced title, got %q", row.Title)
	}
	if len(instruments.rows) != 1 {
		t.Fatalf("expected single row, got %d", len(instruments.rows))
	}
}

func TestRunReturnsConflictWhileLockHeld(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	if _, err := progressStore.Begin(context.Background(), "kratom", "", 2*time.Hour); err != nil {
		t.Fatalf("seeding running row: %v", err)
	}

	src := &fakeSource{name: "kratom", pages: [][]Candidate{
		{candidate("kr-1", "Kratom Advisory")},
	}}
	result, err := runner.Run(context.Background(), src, "session-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeConflict {
		t.Fatalf("expected conflict, got %s", result.Outcome)
	}
	if instruments.upsertCalls != 0 {
		t.Fatalf("conflict must perform zero upserts, got %d", instruments.upsertCalls)
	}
	if progressStore.aborted != 1 {
		t.Fatalf("expected aborted attempt recorded, got %d", progressStore.aborted)
	}
}

func TestRunProceedsWhenLockOlderThanTTL(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	stale, _ := progressStore.Begin(context.Background(), "kratom", "", 2*time.Hour)
	stale.StartedAt = time.Now().UTC().Add(-3 * time.Hour)

	src := &fakeSource{name: "kratom", pages: [][]Candidate{
		{candidate("kr-1", "Kratom Advisory")},
	}}
	result, err := runner.Run(context.Background(), src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected stale lock to be ignored, got %s", result.Outcome)
	}
	if got := instruments.countBySource("kratom"); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
}

func TestRunFinalizesFailedOnFetchError(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	src := &fakeSource{
		name: "caselaw",
		pages: [][]Candidate{
			{candidate("cl-1", "Cannabis Licensing Appeal")},
		},
		err: errors.New(strings.Repeat("upstream exploded ", 50)),
	}

	result, err := runner.Run(context.Background(), src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}
	// Records flushed before the failure still count.
	if result.Records != 1 {
		t.Fatalf("expected 1 record flushed, got %d", result.Records)
	}

	run := progressStore.lastRun("caselaw")
	if run == nil || run.Status != progress.StatusFailed {
		t.Fatalf("expected failed run row, got %+v", run)
	}
	if run.ErrorMessage == "" {
		t.Fatal("expected error message on failed run")
	}
	if len(run.ErrorMessage) > progress.MaxErrorLength {
		t.Fatalf("error message not truncated: %d chars", len(run.ErrorMessage))
	}
}

// cancelingSource cancels the request context from inside Fetch, the way a
// dispatcher timeout or client disconnect lands mid-run.
type cancelingSource struct {
	fakeSource
	cancel context.CancelFunc
}

func (s *cancelingSource) Fetch(ctx context.Context, since time.Time, emit EmitFunc) error {
	s.cancel()
	return ctx.Err()
}

func TestRunFinalizesWhenRequestContextCanceled(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	locker := &fakeLocker{}
	classifier := relevance.NewClassifier(relevance.DefaultKeywords())
	runner := NewRunner(instruments, progressStore, locker, fakeJurisdictions{}, nil, classifier, 2*time.Hour, 50)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{fakeSource: fakeSource{name: "caselaw"}, cancel: cancel}

	result, err := runner.Run(ctx, src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", result.Outcome)
	}

	run := progressStore.lastRun("caselaw")
	if run == nil || run.Status != progress.StatusFailed {
		t.Fatalf("run row must be finalized after cancellation, got %+v", run)
	}
	if progressStore.finishCtxErr != nil {
		t.Fatalf("Finish must run on a live context, got %v", progressStore.finishCtxErr)
	}
	if !locker.released {
		t.Fatal("expected lease to be released")
	}
	if locker.releaseCtxErr != nil {
		t.Fatalf("Release must run on a live context, got %v", locker.releaseCtxErr)
	}
}

func TestRunFailsFastOnMissingConfig(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	src := &fakeSource{name: "congress_gov", cfgErr: &ConfigError{Variable: "CONGRESS_API_KEY"}}
	_, err := runner.Run(context.Background(), src, "")
	if err == nil || !IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if len(progressStore.runs) != 0 {
		t.Fatal("config error must not create run rows")
	}
	if instruments.upsertCalls != 0 {
		t.Fatal("config error must not touch the store")
	}
}

func TestRunRetriesFailedBatchInHalves(t *testing.T) {
	instruments := newFakeInstruments()
	instruments.failBatches = 1
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 4)

	var pages [][]Candidate
	var page []Candidate
	for i := 0; i < 4; i++ {
		page = append(page, candidate(fmt.Sprintf("fr-%d", i), fmt.Sprintf("Hemp Rule %d", i)))
	}
	pages = append(pages, page)

	src := &fakeSource{name: "federal_register", pages: pages}
	result, err := runner.Run(context.Background(), src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", result.Outcome)
	}
	// Whole batch failed once; both halves landed on retry.
	if result.Records != 4 {
		t.Fatalf("expected 4 records after halved retry, got %d", result.Records)
	}
	if got := instruments.countBySource("federal_register"); got != 4 {
		t.Fatalf("expected 4 rows, got %d", got)
	}
}

func TestRunContinuesAfterDroppedHalf(t *testing.T) {
	instruments := newFakeInstruments()
	instruments.failBatches = 2 // full batch, then first half
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 4)

	var page []Candidate
	for i := 0; i < 4; i++ {
		page = append(page, candidate(fmt.Sprintf("fr-%d", i), fmt.Sprintf("Hemp Rule %d", i)))
	}

	src := &fakeSource{name: "federal_register", pages: [][]Candidate{page}}
	result, err := runner.Run(context.Background(), src, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("a dropped half must not fail the run, got %s", result.Outcome)
	}
	if result.Records != 2 {
		t.Fatalf("expected 2 surviving records, got %d", result.Records)
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected dropped half to be recorded as an error")
	}
}

func TestRunPublishesBatchAndLifecycleEvents(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	events := &fakeEvents{}
	classifier := relevance.NewClassifier(relevance.DefaultKeywords())
	runner := NewRunner(instruments, progressStore, nil, fakeJurisdictions{}, events, classifier, 2*time.Hour, 50)

	src := &fakeSource{name: "federal_register", pages: [][]Candidate{
		{candidate("fr-1", "Marijuana Rescheduling Proposed Rule"), candidate("fr-2", "Hemp Testing Guidelines")},
	}}
	if _, err := runner.Run(context.Background(), src, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events.batches) != 1 {
		t.Fatalf("expected one batch event, got %d", len(events.batches))
	}
	if got := events.batches[0]; len(got) != 2 || got[0] != "fr-1" || got[1] != "fr-2" {
		t.Fatalf("batch event must carry the flushed external ids, got %v", got)
	}
	want := []string{kafka.EventRunStarted, kafka.EventRunCompleted}
	if len(events.events) != len(want) || events.events[0] != want[0] || events.events[1] != want[1] {
		t.Fatalf("expected lifecycle events %v, got %v", want, events.events)
	}
}

func TestRunStampsProductsAndJurisdiction(t *testing.T) {
	instruments := newFakeInstruments()
	progressStore := newFakeProgress()
	runner := newTestRunner(instruments, progressStore, 50)

	src := &fakeSource{name: "federal_register", pages: [][]Candidate{
		{candidate("fr-1", "Hemp and CBD Labeling Rule")},
	}}
	if _, err := runner.Run(context.Background(), src, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row := instruments.rows["fr-1"]
	if row.JurisdictionID != "jur-US" {
		t.Fatalf("expected resolved jurisdiction, got %q", row.JurisdictionID)
	}
	if !strings.Contains(string(row.Metadata), `"products":["hemp"]`) {
		t.Fatalf("expected hemp product tag in metadata, got %s", string(row.Metadata))
	}
}
