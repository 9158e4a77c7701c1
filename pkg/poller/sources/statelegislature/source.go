package statelegislature

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/fetch"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/poller"
)

const (
	defaultBaseURL = "https://v3.openstates.org"
	pageSize       = 20
)

var searchTerms = []string{"cannabis", "marijuana", "hemp", "kratom", "nicotine"}

type billsPage struct {
	Results    []bill `json:"results"`
	Pagination struct {
		MaxPage int `json:"max_page"`
	} `json:"pagination"`
}

type bill struct {
	ID           string `json:"id"`
	Identifier   string `json:"identifier"`
	Title        string `json:"title"`
	Session      string `json:"session"`
	Jurisdiction struct {
		Name string `json:"name"`
	} `json:"jurisdiction"`
	FromOrganization struct {
		Name string `json:"name"`
	} `json:"from_organization"`
	LatestActionDate        string `json:"latest_action_date"`
	LatestActionDescription string `json:"latest_action_description"`
	OpenstatesURL           string `json:"openstates_url"`
}

// Source polls OpenStates for state legislature bills across every tracked
// state. The API key is mandatory.
type Source struct {
	client   *http.Client
	tuning   fetch.Tuning
	baseURL  string
	apiKey   string
	maxPages int
}

func New(client *http.Client, tuning fetch.Tuning, apiKey string, maxPages int) *Source {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Source{client: client, tuning: tuning, baseURL: defaultBaseURL, apiKey: apiKey, maxPages: maxPages}
}

func (s *Source) Name() string             { return instrument.SourceStateLegislature }
func (s *Source) JurisdictionCode() string { return "US" }

func (s *Source) CheckConfig() error {
	if s.apiKey == "" {
		return &poller.ConfigError{Variable: "OPENSTATES_API_KEY"}
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	header := http.Header{}
	header.Set("X-API-KEY", s.apiKey)

	for _, term := range searchTerms {
		for page := 1; page <= s.maxPages; page++ {
			var body billsPage
			status, err := fetch.GetJSON(ctx, s.client, s.pageURL(term, since, page), header, s.tuning, &body)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).WithField("term", term).Warn("bill page fetch failed after retries, skipping term")
				break
			}
			if status < 200 || status >= 300 {
				log.WithFields(map[string]interface{}{"term": term, "status": status}).
					Warn("openstates rejected query, skipping term")
				break
			}

			for _, b := range body.Results {
				if err := emit(s.candidate(b)); err != nil {
					return err
				}
			}

			if page >= body.Pagination.MaxPage || len(body.Results) == 0 {
				break
			}
		}
	}
	return nil
}

func (s *Source) pageURL(term string, since time.Time, page int) string {
	params := url.Values{}
	params.Set("q", term)
	params.Set("sort", "updated_asc")
	params.Set("updated_since", since.Format("2006-01-02"))
	params.Set("page", fmt.Sprintf("%d", page))
	params.Set("per_page", fmt.Sprintf("%d", pageSize))
	return s.baseURL + "/bills?" + params.Encode()
}

func (s *Source) candidate(b bill) poller.Candidate {
	var effective *time.Time
	if parsed, err := time.Parse("2006-01-02", b.LatestActionDate); err == nil {
		effective = &parsed
	}

	return poller.Candidate{
		ExternalID:    "openstates-" + strings.TrimPrefix(b.ID, "ocd-bill/"),
		Title:         b.Title,
		Description:   b.LatestActionDescription,
		EffectiveDate: effective,
		URL:           b.OpenstatesURL,
		Meta: &instrument.LegislatureMeta{
			BaseMeta:   instrument.BaseMeta{OriginalURL: b.OpenstatesURL},
			State:      b.Jurisdiction.Name,
			Session:    b.Session,
			BillNumber: b.Identifier,
			Chamber:    b.FromOrganization.Name,
		},
	}
}
