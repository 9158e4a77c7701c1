package cannabisregistry

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

type bulletinPage struct {
	Bulletins []bulletin `json:"bulletins"`
}

type bulletin struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Program     string `json:"program"` // adult-use, medical, hemp
	Type        string `json:"type"`    // rule, guidance, license-action
	PublishedAt string `json:"published_at"`
	URL         string `json:"url"`
}

// Source polls state cannabis and hemp program bulletin feeds mirrored by
// the scraping layer.
type Source struct {
	client  *http.Client
	tuning  fetch.Tuning
	feedURL string
	states  []string
}

func New(client *http.Client, tuning fetch.Tuning, feedURL string, states []string) *Source {
	return &Source{client: client, tuning: tuning, feedURL: strings.TrimRight(feedURL, "/"), states: states}
}

func (s *Source) Name() string             { return instrument.SourceCannabisRegistry }
func (s *Source) JurisdictionCode() string { return "US" }

func (s *Source) CheckConfig() error {
	if s.feedURL == "" {
		return &poller.ConfigError{Variable: "CANNABIS_REGISTRY_FEED_URL"}
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	for _, state := range s.states {
		url := fmt.Sprintf("%s/%s/bulletins.json?since=%s", s.feedURL, strings.ToLower(state), since.Format("2006-01-02"))

		var body bulletinPage
		status, err := fetch.GetJSON(ctx, s.client, url, nil, s.tuning, &body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("state", state).Warn("bulletin feed fetch failed after retries, skipping state")
			continue
		}
		if status < 200 || status >= 300 {
			log.WithFields(map[string]interface{}{"state": state, "status": status}).
				Warn("bulletin feed unavailable, skipping state")
			continue
		}

		for _, b := range body.Bulletins {
			if err := emit(s.candidate(state, b)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Source) candidate(state string, b bulletin) poller.Candidate {
	state = strings.ToUpper(state)

	var effective *time.Time
	if parsed, err := time.Parse("2006-01-02", b.PublishedAt); err == nil {
		effective = &parsed
	}

	return poller.Candidate{
		ExternalID:    fmt.Sprintf("cannabisreg-%s-%s", strings.ToLower(state), b.ID),
		Title:         b.Title,
		Description:   b.Summary,
		EffectiveDate: effective,
		URL:           b.URL,
		Meta: &instrument.RegistryBulletinMeta{
			BaseMeta:     instrument.BaseMeta{OriginalURL: b.URL},
			State:        state,
			Program:      b.Program,
			BulletinType: b.Type,
		},
	}
}
