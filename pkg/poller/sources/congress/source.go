package congress

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
	defaultBaseURL = "https://api.congress.gov/v3"
	pageSize       = 250
)

type billsPage struct {
	Bills []bill `json:"bills"`
}

type bill struct {
	Congress     int    `json:"congress"`
	Type         string `json:"type"`
	Number       string `json:"number"`
	Title        string `json:"title"`
	UpdateDate   string `json:"updateDate"`
	LatestAction struct {
		ActionDate string `json:"actionDate"`
		Text       string `json:"text"`
	} `json:"latestAction"`
	URL string `json:"url"`
}

// Source polls congress.gov for federal bills. The API key is mandatory;
// without it the worker fails fast instead of silently fetching nothing.
type Source struct {
	client   *http.Client
	tuning   fetch.Tuning
	baseURL  string
	apiKey   string
	maxPages int
}

func New(client *http.Client, tuning fetch.Tuning, apiKey string, maxPages int) *Source {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &Source{client: client, tuning: tuning, baseURL: defaultBaseURL, apiKey: apiKey, maxPages: maxPages}
}

func (s *Source) Name() string             { return instrument.SourceCongress }
func (s *Source) JurisdictionCode() string { return "US" }

func (s *Source) CheckConfig() error {
	if s.apiKey == "" {
		return &poller.ConfigError{Variable: "CONGRESS_API_KEY"}
	}
	return nil
}

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	for page := 0; page < s.maxPages; page++ {
		var body billsPage
		status, err := fetch.GetJSON(ctx, s.client, s.pageURL(since, page), nil, s.tuning, &body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("bill page fetch failed after retries, stopping pagination")
			return nil
		}
		if status < 200 || status >= 300 {
			log.WithField("status", status).Warn("congress.gov rejected query, stopping pagination")
			return nil
		}

		for _, b := range body.Bills {
			if err := emit(s.candidate(b)); err != nil {
				return err
			}
		}

		if len(body.Bills) < pageSize {
			return nil
		}
	}
	return nil
}

func (s *Source) pageURL(since time.Time, page int) string {
	params := url.Values{}
	params.Set("api_key", s.apiKey)
	params.Set("format", "json")
	// The documented sort syntax is "updateDate+asc" where + is an encoded
	// space; setting the literal + here would double-encode it to %2B.
	params.Set("sort", "updateDate asc")
	params.Set("fromDateTime", since.UTC().Format("2006-01-02T15:04:05Z"))
	params.Set("limit", fmt.Sprintf("%d", pageSize))
	params.Set("offset", fmt.Sprintf("%d", page*pageSize))
	return s.baseURL + "/bill?" + params.Encode()
}

func (s *Source) candidate(b bill) poller.Candidate {
	billType := strings.ToLower(b.Type)
	externalID := fmt.Sprintf("congress-%d-%s-%s", b.Congress, billType, b.Number)

	var effective *time.Time
	for _, raw := range []string{b.LatestAction.ActionDate, b.UpdateDate} {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			effective = &parsed
			break
		}
	}

	link := fmt.Sprintf("https://www.congress.gov/bill/%dth-congress/%s/%s",
		b.Congress, chamberSlug(billType), b.Number)

	return poller.Candidate{
		ExternalID:    externalID,
		Title:         b.Title,
		Description:   b.LatestAction.Text,
		EffectiveDate: effective,
		URL:           link,
		Meta: &instrument.CongressMeta{
			BaseMeta:     instrument.BaseMeta{OriginalURL: b.URL, VerifiedURL: link},
			Congress:     b.Congress,
			BillType:     billType,
			BillNumber:   b.Number,
			LatestAction: b.LatestAction.Text,
		},
	}
}

func chamberSlug(billType string) string {
	switch billType {
	case "s", "sres", "sjres", "sconres":
		return "senate-bill"
	default:
		return "house-bill"
	}
}
