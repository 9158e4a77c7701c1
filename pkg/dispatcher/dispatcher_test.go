package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/regscope-ai/platform/pkg/auth"
	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/common/models"
)

func init() {
	logger.Init()
}

func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2024, time.June, 1, hour, 0, 0, 0, time.UTC)
	}
}

func testSchedule() ScheduleConfig {
	return ScheduleConfig{Workers: []WorkerSchedule{
		{Name: "federal_register", Path: "/api/v1/poll/federal_register", AlwaysRun: true},
		{Name: "congress_gov", Path: "/api/v1/poll/congress_gov", EveryNHours: 6, OffsetHours: 0},
		{Name: "kratom", Path: "/api/v1/poll/kratom", EveryNHours: 12, OffsetHours: 3},
	}}
}

func TestDueAt(t *testing.T) {
	cases := []struct {
		worker WorkerSchedule
		hour   int
		want   bool
	}{
		{WorkerSchedule{AlwaysRun: true}, 13, true},
		{WorkerSchedule{EveryNHours: 6, OffsetHours: 0}, 0, true},
		{WorkerSchedule{EveryNHours: 6, OffsetHours: 0}, 6, true},
		{WorkerSchedule{EveryNHours: 6, OffsetHours: 0}, 7, false},
		{WorkerSchedule{EveryNHours: 6, OffsetHours: 2}, 14, true},
		{WorkerSchedule{EveryNHours: 12, OffsetHours: 3}, 3, true},
		{WorkerSchedule{EveryNHours: 12, OffsetHours: 3}, 15, true},
		{WorkerSchedule{EveryNHours: 12, OffsetHours: 3}, 6, false},
		{WorkerSchedule{EveryNHours: 24, OffsetHours: 4}, 4, true},
		{WorkerSchedule{EveryNHours: 24, OffsetHours: 4}, 5, false},
	}

	for _, tc := range cases {
		if got := tc.worker.DueAt(tc.hour); got != tc.want {
			t.Errorf("DueAt(%d) for %+v: got %v, want %v", tc.hour, tc.worker, got, tc.want)
		}
	}
}

func TestRunTickGatesWorkersByHour(t *testing.T) {
	var mu sync.Mutex
	var invoked []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		invoked = append(invoked, r.URL.Path)
		mu.Unlock()
		json.NewEncoder(w).Encode(models.PollResponse{Success: true, RecordsProcessed: 3})
	}))
	defer server.Close()

	d := New(server.Client(), server.URL, nil, testSchedule(), time.Minute)
	d.nowFunc = fixedClock(6)

	response := d.RunTick(context.Background())
	if !response.Success {
		t.Fatal("dispatcher must report success")
	}
	if response.CurrentHour != 6 {
		t.Fatalf("expected hour 6, got %d", response.CurrentHour)
	}

	// Hour 6: always-on federal_register plus congress_gov (6h cadence);
	// kratom (12h offset 3) is skipped.
	if len(invoked) != 2 {
		t.Fatalf("expected 2 invocations, got %v", invoked)
	}
	if result := response.Results["kratom"]; !result.Success || !strings.Contains(result.Message, "skipped") {
		t.Fatalf("expected kratom skip result, got %+v", result)
	}
	if !strings.Contains(response.Results["kratom"].Message, "every 12h at offset 3") {
		t.Fatalf("skip message must name the schedule, got %q", response.Results["kratom"].Message)
	}
	if result := response.Results["congress_gov"]; result.RecordsAdded != 3 {
		t.Fatalf("expected records from worker response, got %+v", result)
	}
}

func TestRunTickRecordsWorkerFailureWithoutFailingTick(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(models.PollResponse{Success: false, Message: "run failed"})
	}))
	defer server.Close()

	d := New(server.Client(), server.URL, nil, testSchedule(), time.Minute)
	d.nowFunc = fixedClock(1)

	response := d.RunTick(context.Background())
	if !response.Success {
		t.Fatal("a worker failure must not fail the dispatch tick")
	}
	result := response.Results["federal_register"]
	if result.Success {
		t.Fatal("expected worker failure to be recorded")
	}
	if result.Message != "run failed" {
		t.Fatalf("expected worker message passthrough, got %q", result.Message)
	}
}

func TestRunTickTreatsConflictAsSkip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(models.PollResponse{Success: false, Message: "another run is active"})
	}))
	defer server.Close()

	d := New(server.Client(), server.URL, nil, testSchedule(), time.Minute)
	d.nowFunc = fixedClock(1)

	response := d.RunTick(context.Background())
	result := response.Results["federal_register"]
	if !result.Success {
		t.Fatalf("a lock conflict is not a failure, got %+v", result)
	}
}

func TestRunTickAttachesBearerToken(t *testing.T) {
	tokens, err := auth.NewTokenManager("super-secret-signing-key", time.Minute)
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}

	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(models.PollResponse{Success: true})
	}))
	defer server.Close()

	schedule := ScheduleConfig{Workers: []WorkerSchedule{
		{Name: "federal_register", Path: "/api/v1/poll/federal_register", AlwaysRun: true},
	}}
	d := New(server.Client(), server.URL, tokens, schedule, time.Minute)
	d.nowFunc = fixedClock(1)

	d.RunTick(context.Background())

	if !strings.HasPrefix(authorization, "Bearer ") {
		t.Fatalf("expected bearer token, got %q", authorization)
	}
	claims, err := tokens.Validate(strings.TrimPrefix(authorization, "Bearer "))
	if err != nil {
		t.Fatalf("token failed validation: %v", err)
	}
	if claims.Subject != "federal_register" {
		t.Fatalf("expected token scoped to worker, got %s", claims.Subject)
	}
}

func TestTickDeadlineCoversSequentialWorkers(t *testing.T) {
	schedule := testSchedule()
	workerTimeout := 10 * time.Minute

	deadline := schedule.TickDeadline(workerTimeout)
	if deadline <= time.Duration(len(schedule.Workers))*workerTimeout {
		t.Fatalf("deadline %s must exceed %d sequential worker timeouts of %s",
			deadline, len(schedule.Workers), workerTimeout)
	}
}

func TestLoadScheduleFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadSchedule("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Workers) != 8 {
		t.Fatalf("expected 8 workers in default schedule, got %d", len(cfg.Workers))
	}
	always := 0
	for _, worker := range cfg.Workers {
		if worker.AlwaysRun {
			always++
		}
	}
	if always == 0 {
		t.Fatal("expected at least one always-on worker")
	}
}
