package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	recordsUpserted  atomic.Int64
	recordsSkipped   atomic.Int64
	runsCompleted    atomic.Int64
	runsFailed       atomic.Int64
	lockConflicts    atomic.Int64
	upsertRetries    atomic.Int64
	dispatchedCalls  atomic.Int64
	dispatchedSkips  atomic.Int64
	dispatchFailures atomic.Int64
)

func AddUpserted(n int)   { recordsUpserted.Add(int64(n)) }
func AddSkipped(n int)    { recordsSkipped.Add(int64(n)) }
func IncRunCompleted()    { runsCompleted.Add(1) }
func IncRunFailed()       { runsFailed.Add(1) }
func IncLockConflict()    { lockConflicts.Add(1) }
func IncUpsertRetry()     { upsertRetries.Add(1) }
func IncDispatched()      { dispatchedCalls.Add(1) }
func IncDispatchSkipped() { dispatchedSkips.Add(1) }
func IncDispatchFailed()  { dispatchFailures.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP regscope_pipeline_records_upserted_total Instrument rows upserted since process start.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_records_upserted_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_records_upserted_total %d\n", recordsUpserted.Load())

	fmt.Fprintf(w, "# HELP regscope_pipeline_records_skipped_total Fetched documents rejected by the relevance filter.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_records_skipped_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_records_skipped_total %d\n", recordsSkipped.Load())

	fmt.Fprintf(w, "# HELP regscope_pipeline_runs_completed_total Poll runs finalized as completed.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_runs_completed_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_runs_completed_total %d\n", runsCompleted.Load())

	fmt.Fprintf(w, "# HELP regscope_pipeline_runs_failed_total Poll runs finalized as failed.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_runs_failed_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_runs_failed_total %d\n", runsFailed.Load())

	fmt.Fprintf(w, "# HELP regscope_pipeline_lock_conflicts_total Poll attempts rejected because another run held the source lock.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_lock_conflicts_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_lock_conflicts_total %d\n", lockConflicts.Load())

	fmt.Fprintf(w, "# HELP regscope_pipeline_upsert_retries_total Reduced-size retries after a failed batch upsert.\n")
	fmt.Fprintf(w, "# TYPE regscope_pipeline_upsert_retries_total counter\n")
	fmt.Fprintf(w, "regscope_pipeline_upsert_retries_total %d\n", upsertRetries.Load())

	fmt.Fprintf(w, "# HELP regscope_dispatcher_invocations_total Worker invocations issued by the dispatcher.\n")
	fmt.Fprintf(w, "# TYPE regscope_dispatcher_invocations_total counter\n")
	fmt.Fprintf(w, "regscope_dispatcher_invocations_total %d\n", dispatchedCalls.Load())

	fmt.Fprintf(w, "# HELP regscope_dispatcher_skips_total Workers skipped because the hour was outside their schedule.\n")
	fmt.Fprintf(w, "# TYPE regscope_dispatcher_skips_total counter\n")
	fmt.Fprintf(w, "regscope_dispatcher_skips_total %d\n", dispatchedSkips.Load())

	fmt.Fprintf(w, "# HELP regscope_dispatcher_failures_total Worker invocations that returned an error or non-2xx.\n")
	fmt.Fprintf(w, "# TYPE regscope_dispatcher_failures_total counter\n")
	fmt.Fprintf(w, "regscope_dispatcher_failures_total %d\n", dispatchFailures.Load())
}
