package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/regscope-ai/platform/pkg/auth"
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/common/models"
	"github.com/regscope-ai/platform/pkg/observability/metrics"
)

// Dispatcher fans one scheduled tick out to the poller workers due at the
// current UTC hour. Workers are independent; one failing or running long
// never fails the tick itself, it only shows up in the aggregate results.
type Dispatcher struct {
	client        *http.Client
	baseURL       string
	tokens        *auth.TokenManager
	workers       []WorkerSchedule
	workerTimeout time.Duration
	nowFunc       func() time.Time
}

func New(client *http.Client, baseURL string, tokens *auth.TokenManager, schedule ScheduleConfig, workerTimeout time.Duration) *Dispatcher {
	if workerTimeout <= 0 {
		workerTimeout = 10 * time.Minute
	}
	return &Dispatcher{
		client:        client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokens:        tokens,
		workers:       schedule.Workers,
		workerTimeout: workerTimeout,
		nowFunc:       time.Now,
	}
}

// RunTick invokes every due worker sequentially and aggregates the
// outcomes. It always reports success; only the HTTP layer above it maps a
// dispatcher-side panic to a failure.
func (d *Dispatcher) RunTick(ctx context.Context) models.DispatchResponse {
	start := d.nowFunc()
	hour := start.UTC().Hour()
	results := make(map[string]models.WorkerResult, len(d.workers))

	for _, worker := range d.workers {
		if !worker.DueAt(hour) {
			metrics.IncDispatchSkipped()
			results[worker.Name] = models.WorkerResult{
				Success: true,
				Message: fmt.Sprintf("skipped: scheduled %s, current hour %d", worker.Describe(), hour),
			}
			continue
		}
		results[worker.Name] = d.invoke(ctx, worker)
	}

	return models.DispatchResponse{
		Success:       true,
		ExecutionTime: d.nowFunc().Sub(start).String(),
		CurrentHour:   hour,
		Timestamp:     d.nowFunc().UTC(),
		Results:       results,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, worker WorkerSchedule) models.WorkerResult {
	metrics.IncDispatched()
	log := logger.ForSource(worker.Name)

	callCtx, cancel := context.WithTimeout(ctx, d.workerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, d.baseURL+worker.Path, nil)
	if err != nil {
		metrics.IncDispatchFailed()
		return models.WorkerResult{Success: false, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if d.tokens != nil {
		token, err := d.tokens.Issue(worker.Name)
		if err != nil {
			metrics.IncDispatchFailed()
			return models.WorkerResult{Success: false, Message: "minting worker token: " + err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.IncDispatchFailed()
		log.WithError(err).Error("worker invocation failed")
		return models.WorkerResult{Success: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	var body models.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.IncDispatchFailed()
		return models.WorkerResult{Success: false, Message: fmt.Sprintf("status %d, unreadable body: %v", resp.StatusCode, err)}
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return models.WorkerResult{Success: true, Message: "skipped: another run already active"}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		message := "ok"
		if len(body.Errors) > 0 {
			message = fmt.Sprintf("partial: %d errors", len(body.Errors))
		}
		return models.WorkerResult{Success: true, Message: message, RecordsAdded: body.RecordsProcessed}
	default:
		metrics.IncDispatchFailed()
		message := body.Message
		if message == "" {
			message = fmt.Sprintf("worker returned status %d", resp.StatusCode)
		}
		log.WithField("status", resp.StatusCode).Error("worker reported failure")
		return models.WorkerResult{Success: false, Message: message, RecordsAdded: body.RecordsProcessed}
	}
}
