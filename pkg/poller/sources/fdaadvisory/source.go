package fdaadvisory

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

const (
	defaultBaseURL = "https://api.fda.gov/food/enforcement.json"
	pageSize       = 100

	SubstanceKratom = "kratom"
	SubstanceKava   = "kava"
)

type enforcementPage struct {
	Results []enforcementAction `json:"results"`
}

type enforcementAction struct {
	RecallNumber       string `json:"recall_number"`
	ProductDescription string `json:"product_description"`
	ReasonForRecall    string `json:"reason_for_recall"`
	RecallingFirm      string `json:"recalling_firm"`
	Classification     string `json:"classification"`
	ReportDate         string `json:"report_date"` // YYYYMMDD
	State              string `json:"state"`
}

// Source polls openFDA food enforcement actions for one substance. Kratom
// and kava run as separate workers over the same upstream; the substance
// parameter keeps their lock domains and external-id namespaces apart.
type Source struct {
	client    *http.Client
	tuning    fetch.Tuning
	baseURL   string
	substance string // "kratom" or "kava"
	maxPages  int
}

func New(client *http.Client, tuning fetch.Tuning, substance string, maxPages int) *Source {
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Source{client: client, tuning: tuning, baseURL: defaultBaseURL, substance: substance, maxPages: maxPages}
}

func (s *Source) Name() string {
	if s.substance == SubstanceKava {
		return instrument.SourceKava
	}
	return instrument.SourceKratom
}

func (s *Source) JurisdictionCode() string { return "US" }

// CheckConfig is a no-op; openFDA allows keyless access at low rates and
// the fetch primitive absorbs the 429s.
func (s *Source) CheckConfig() error { return nil }

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	for page := 0; page < s.maxPages; page++ {
		var body enforcementPage
		status, err := fetch.GetJSON(ctx, s.client, s.pageURL(since, page), nil, s.tuning, &body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("enforcement page fetch failed after retries, stopping pagination")
			return nil
		}
		// openFDA signals an empty result window with 404.
		if status == http.StatusNotFound {
			return nil
		}
		if status < 200 || status >= 300 {
			log.WithField("status", status).Warn("openFDA rejected query, stopping pagination")
			return nil
		}

		for _, action := range body.Results {
			if err := emit(s.candidate(action)); err != nil {
				return err
			}
		}

		if len(body.Results) < pageSize {
			return nil
		}
	}
	return nil
}

func (s *Source) pageURL(since time.Time, page int) string {
	params := url.Values{}
	// openFDA joins terms with + meaning space; the query is built with real
	// spaces so Encode produces + rather than a double-encoded %2B.
	params.Set("search", fmt.Sprintf(`(product_description:%q OR reason_for_recall:%q) AND report_date:[%s TO %s]`,
		s.substance, s.substance, since.Format("20060102"), time.Now().UTC().Format("20060102")))
	params.Set("sort", "report_date:asc")
	params.Set("limit", fmt.Sprintf("%d", pageSize))
	params.Set("skip", fmt.Sprintf("%d", page*pageSize))
	return s.baseURL + "?" + params.Encode()
}

func (s *Source) candidate(action enforcementAction) poller.Candidate {
	var effective *time.Time
	if parsed, err := time.Parse("20060102", action.ReportDate); err == nil {
		effective = &parsed
	}

	link := "https://www.accessdata.fda.gov/scripts/ires/index.cfm?action=query.recall&recall_number=" +
		url.QueryEscape(action.RecallNumber)

	title := action.ProductDescription
	description := action.ReasonForRecall
	if action.RecallingFirm != "" {
		description = action.RecallingFirm + ": " + description
	}

	return poller.Candidate{
		ExternalID:    fmt.Sprintf("fda-%s-%s", s.substance, action.RecallNumber),
		Title:         title,
		Description:   description,
		EffectiveDate: effective,
		URL:           link,
		Meta: &instrument.AdvisoryMeta{
			BaseMeta:     instrument.BaseMeta{VerifiedURL: link},
			Substance:    s.substance,
			AdvisoryType: "enforcement-" + action.Classification,
			AlertNumber:  action.RecallNumber,
		},
	}
}
