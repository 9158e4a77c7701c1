package caselaw

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/fetch"
	"github.com/regscope-ai/platform/pkg/instrument"
	"github.com/regscope-ai/platform/pkg/poller"
)

const defaultBaseURL = "https://www.courtlistener.com/api/rest/v4"

var searchTerms = []string{"cannabis", "marijuana", "hemp", "kratom", "vaping"}

type searchPage struct {
	Next    string    `json:"next"`
	Results []opinion `json:"results"`
}

type opinion struct {
	ID          int    `json:"id"`
	CaseName    string `json:"caseName"`
	Court       string `json:"court"`
	DocketID    int    `json:"docket_id"`
	DateFiled   string `json:"dateFiled"`
	Snippet     string `json:"snippet"`
	AbsoluteURL string `json:"absolute_url"`
}

// Source polls CourtListener opinion search. The token raises rate limits
// but is optional, so a missing one is not a config failure.
type Source struct {
	client   *http.Client
	tuning   fetch.Tuning
	baseURL  string
	token    string
	maxPages int
}

func New(client *http.Client, tuning fetch.Tuning, token string, maxPages int) *Source {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Source{client: client, tuning: tuning, baseURL: defaultBaseURL, token: token, maxPages: maxPages}
}

func (s *Source) Name() string             { return instrument.SourceCaseLaw }
func (s *Source) JurisdictionCode() string { return "US" }
func (s *Source) CheckConfig() error       { return nil }

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Token "+s.token)
	}

	for _, term := range searchTerms {
		next := s.searchURL(term, since)
		for page := 0; page < s.maxPages && next != ""; page++ {
			var body searchPage
			status, err := fetch.GetJSON(ctx, s.client, next, header, s.tuning, &body)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).WithField("term", term).Warn("search page fetch failed after retries, skipping term")
				break
			}
			if status < 200 || status >= 300 {
				log.WithFields(map[string]interface{}{"term": term, "status": status}).
					Warn("courtlistener rejected query, skipping term")
				break
			}

			for _, op := range body.Results {
				if err := emit(s.candidate(op, term)); err != nil {
					return err
				}
			}
			next = body.Next
		}
	}
	return nil
}

func (s *Source) searchURL(term string, since time.Time) string {
	params := url.Values{}
	params.Set("q", term)
	params.Set("type", "o")
	params.Set("filed_after", since.Format("2006-01-02"))
	params.Set("order_by", "dateFiled asc")
	return s.baseURL + "/search/?" + params.Encode()
}

func (s *Source) candidate(op opinion, term string) poller.Candidate {
	var effective *time.Time
	if parsed, err := time.Parse("2006-01-02", op.DateFiled); err == nil {
		effective = &parsed
	}

	link := op.AbsoluteURL
	if link != "" && link[0] == '/' {
		link = "https://www.courtlistener.com" + link
	}
	if link == "" {
		link = fmt.Sprintf("https://www.courtlistener.com/opinion/%d/", op.ID)
	}

	return poller.Candidate{
		ExternalID:    fmt.Sprintf("courtlistener-%d", op.ID),
		Title:         op.CaseName,
		Description:   op.Snippet,
		EffectiveDate: effective,
		URL:           link,
		Meta: &instrument.CaseLawMeta{
			BaseMeta:   instrument.BaseMeta{OriginalURL: op.AbsoluteURL, VerifiedURL: link},
			Court:      op.Court,
			DocketID:   fmt.Sprintf("%d", op.DocketID),
			DateFiled:  op.DateFiled,
			SearchTerm: term,
		},
	}
}
