package dispatcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerSchedule declares one worker's cadence as data. Dispatch logic
// never special-cases a worker; DueAt is the single predicate consulted for
// every entry.
type WorkerSchedule struct {
	Name        string `yaml:"name" json:"name"`
	Path        string `yaml:"path" json:"path"`
	EveryNHours int    `yaml:"every_n_hours" json:"every_n_hours"`
	OffsetHours int    `yaml:"offset_hours" json:"offset_hours"`
	AlwaysRun   bool   `yaml:"always_run" json:"always_run"`
}

// DueAt reports whether the worker should run on the given UTC hour.
func (w WorkerSchedule) DueAt(hour int) bool {
	if w.AlwaysRun {
		return true
	}
	if w.EveryNHours <= 0 {
		return false
	}
	return hour%w.EveryNHours == w.OffsetHours%w.EveryNHours
}

// Describe renders the cadence for skip messages.
func (w WorkerSchedule) Describe() string {
	if w.AlwaysRun {
		return "every hour"
	}
	return fmt.Sprintf("every %dh at offset %d", w.EveryNHours, w.OffsetHours%w.EveryNHours)
}

type ScheduleConfig struct {
	Workers []WorkerSchedule `yaml:"workers" json:"workers"`
}

// TickDeadline bounds one full dispatch tick: every worker invoked
// sequentially at its own timeout, plus slack to encode the aggregate
// response. The dispatcher's HTTP server must keep its write timeout above
// this, or a heavy tick gets cut off mid-handler.
func (c ScheduleConfig) TickDeadline(workerTimeout time.Duration) time.Duration {
	return time.Duration(len(c.Workers))*workerTimeout + time.Minute
}

func LoadSchedule(path string) (ScheduleConfig, error) {
	if path == "" {
		return DefaultSchedule(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultSchedule(), err
	}

	var cfg ScheduleConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return ScheduleConfig{}, err
	}

	if len(cfg.Workers) == 0 {
		return ScheduleConfig{}, errors.New("no workers configured in schedule")
	}

	return cfg, nil
}

// DefaultSchedule staggers the expensive sources across the day and keeps
// the cheap-to-rerun ones on every tick.
func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{Workers: []WorkerSchedule{
		{Name: "federal_register", Path: "/api/v1/poll/federal_register", AlwaysRun: true},
		{Name: "cannabis_registry", Path: "/api/v1/poll/cannabis_registry", AlwaysRun: true},
		{Name: "congress_gov", Path: "/api/v1/poll/congress_gov", EveryNHours: 6, OffsetHours: 0},
		{Name: "state_legislature", Path: "/api/v1/poll/state_legislature", EveryNHours: 6, OffsetHours: 1},
		{Name: "state_regulations", Path: "/api/v1/poll/state_regulations", EveryNHours: 6, OffsetHours: 2},
		{Name: "kratom", Path: "/api/v1/poll/kratom", EveryNHours: 12, OffsetHours: 3},
		{Name: "kava", Path: "/api/v1/poll/kava", EveryNHours: 12, OffsetHours: 9},
		{Name: "caselaw", Path: "/api/v1/poll/caselaw", EveryNHours: 24, OffsetHours: 4},
	}}
}
