package models

import "time"

// PollRequest is the optional body accepted by every poller endpoint.
// Scheduled invocations from the dispatcher carry no session id; manual
// invocations from the ops dashboard do, so aborted attempts can be
// correlated back to the click that caused them.
type PollRequest struct {
	SessionID  string `json:"sessionId,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
}

// PollResponse is the body returned by every poller endpoint.
type PollResponse struct {
	Success          bool     `json:"success"`
	RecordsProcessed int      `json:"recordsProcessed"`
	RecordsSkipped   int      `json:"recordsSkipped,omitempty"`
	Errors           []string `json:"errors,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// WorkerResult is one worker's outcome as aggregated by the dispatcher.
type WorkerResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RecordsAdded int    `json:"recordsAdded"`
}

// DispatchResponse is the dispatcher's aggregate reply for one tick.
type DispatchResponse struct {
	Success       bool                    `json:"success"`
	ExecutionTime string                  `json:"executionTime"`
	CurrentHour   int                     `json:"currentHour"`
	Timestamp     time.Time               `json:"timestamp"`
	Results       map[string]WorkerResult `json:"results"`
}

// Event bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run_started, run_completed, run_failed, batch_upserted
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
