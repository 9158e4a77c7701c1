package stateregs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/fetch"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/poller"
)

// The scraping layer that mirrors each state's administrative register is a
// separate system; this worker consumes its normalized JSON feed, one
// endpoint per state.
type feedPage struct {
	Items []feedItem `json:"items"`
}

type feedItem struct {
	RuleNumber    string `json:"rule_number"`
	Title         string `json:"title"`
	Summary       string `json:"summary"`
	Agency        string `json:"agency"`
	Register      string `json:"register"`
	EffectiveDate string `json:"effective_date"`
	URL           string `json:"url"`
}

// Source polls per-state rule register feeds. One state failing must not
// stop the rest; each state behaves like a search term in the federal
// pollers.
type Source struct {
	client  *http.Client
	tuning  fetch.Tuning
	feedURL string
	states  []string
}

func New(client *http.Client, tuning fetch.Tuning, feedURL string, states []string) *Source {
	return &Source{client: client, tuning: tuning, feedURL: strings.TrimRight(feedURL, "/"), states: states}
}

func (s *Source) Name() string             { return instrument.SourceStateRegulations }
func (s *Source) JurisdictionCode() string { return "US" }

func (s *Source) CheckConfig() error {
	if s.feedURL == "" {
		return &poller.ConfigError{Variable: "STATE_REGISTER_FEED_URL"}
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	for _, state := range s.states {
		url := fmt.Sprintf("%s/%s/rules.json?since=%s", s.feedURL, strings.ToLower(state), since.Format("2006-01-02"))

		var body feedPage
		status, err := fetch.GetJSON(ctx, s.client, url, nil, s.tuning, &body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("state", state).Warn("state feed fetch failed after retries, skipping state")
			continue
		}
		if status < 200 || status >= 300 {
			log.WithFields(map[string]interface{}{"state": state, "status": status}).
				Warn("state feed unavailable, skipping state")
			continue
		}

		for _, item := range body.Items {
			if err := emit(s.candidate(state, item)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Source) candidate(state string, item feedItem) poller.Candidate {
	state = strings.ToUpper(state)

	var effective *time.Time
	if parsed, err := time.Parse("2006-01-02", item.EffectiveDate); err == nil {
		effective = &parsed
	}

	return poller.Candidate{
		ExternalID:    fmt.Sprintf("statereg-%s-%s", strings.ToLower(state), item.RuleNumber),
		Title:         item.Title,
		Description:   item.Summary,
		EffectiveDate: effective,
		URL:           item.URL,
		Meta: &instrument.StateRegulationMeta{
			BaseMeta:   instrument.BaseMeta{OriginalURL: item.URL},
			State:      state,
			Agency:     item.Agency,
			RuleNumber: item.RuleNumber,
			Register:   item.Register,
		},
	}
}
