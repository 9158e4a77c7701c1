package federalregister

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

const defaultBaseURL = "https://www.federalregister.gov/api/v1"

// searchTerms are queried one at a time, in order, so reruns page through
// the upstream identically.
var searchTerms = []string{
	"cannabis", "marijuana", "hemp", "kratom", "kava",
	"tobacco", "nicotine", "psilocybin",
}

type documentsPage struct {
	Count      int        `json:"count"`
	TotalPages int        `json:"total_pages"`
	Results    []document `json:"results"`
}

type document struct {
	DocumentNumber  string   `json:"document_number"`
	Title           string   `json:"title"`
	Abstract        string   `json:"abstract"`
	Type            string   `json:"type"`
	HTMLURL         string   `json:"html_url"`
	BodyHTMLURL     string   `json:"body_html_url"`
	PublicationDate string   `json:"publication_date"`
	AgencyNames     []string `json:"agency_names"`
}

// Source polls the Federal Register documents API.
type Source struct {
	client   *http.Client
	tuning   fetch.Tuning
	baseURL  string
	maxPages int
}

func New(client *http.Client, tuning fetch.Tuning, maxPages int) *Source {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &Source{client: client, tuning: tuning, baseURL: defaultBaseURL, maxPages: maxPages}
}

func (s *Source) Name() string             { return instrument.SourceFederalRegister }
func (s *Source) JurisdictionCode() string { return "US" }

// CheckConfig is a no-op; the Federal Register API is unauthenticated.
func (s *Source) CheckConfig() error { return nil }

func (s *Source) Fetch(ctx context.Context, since time.Time, emit poller.EmitFunc) error {
	log := logger.ForSource(s.Name())

	for _, term := range searchTerms {
		for page := 1; page <= s.maxPages; page++ {
			var body documentsPage
			status, err := fetch.GetJSON(ctx, s.client, s.pageURL(term, since, page), nil, s.tuning, &body)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).WithField("term", term).Warn("page fetch failed after retries, skipping term")
				break
			}
			if fetch.Retryable(status) {
				log.WithFields(map[string]interface{}{"term": term, "status": status}).
					Warn("upstream still erroring after retries, skipping term")
				break
			}
			if status < 200 || status >= 300 {
				log.WithFields(map[string]interface{}{"term": term, "status": status}).
					Warn("upstream rejected query, abandoning term")
				break
			}

			for _, doc := range body.Results {
				if err := emit(s.candidate(doc, term)); err != nil {
					return err
				}
			}

			if page >= body.TotalPages || len(body.Results) == 0 {
				break
			}
		}
	}
	return nil
}

func (s *Source) pageURL(term string, since time.Time, page int) string {
	params := url.Values{}
	params.Set("conditions[term]", term)
	params.Set("conditions[publication_date][gte]", since.Format("2006-01-02"))
	params.Set("order", "oldest")
	params.Set("per_page", "100")
	params.Set("page", fmt.Sprintf("%d", page))
	params.Add("fields[]", "document_number")
	params.Add("fields[]", "title")
	params.Add("fields[]", "abstract")
	params.Add("fields[]", "type")
	params.Add("fields[]", "html_url")
	params.Add("fields[]", "body_html_url")
	params.Add("fields[]", "publication_date")
	params.Add("fields[]", "agency_names")
	return s.baseURL + "/documents.json?" + params.Encode()
}

func (s *Source) candidate(doc document, term string) poller.Candidate {
	var effective *time.Time
	if parsed, err := time.Parse("2006-01-02", doc.PublicationDate); err == nil {
		effective = &parsed
	}

	// URL preference: agency body page, then the document HTML page, then a
	// generic link built from the document number.
	link := doc.BodyHTMLURL
	if link == "" {
		link = doc.HTMLURL
	}
	if link == "" {
		link = "https://www.federalregister.gov/documents/search?conditions[term]=" + url.QueryEscape(doc.DocumentNumber)
	}

	return poller.Candidate{
		ExternalID:    "federalregister-" + doc.DocumentNumber,
		Title:         doc.Title,
		Description:   doc.Abstract,
		EffectiveDate: effective,
		URL:           link,
		Meta: &instrument.FederalRegisterMeta{
			BaseMeta: instrument.BaseMeta{
				OriginalURL: doc.HTMLURL,
				VerifiedURL: doc.BodyHTMLURL,
			},
			DocumentNumber: doc.DocumentNumber,
			DocumentType:   doc.Type,
			Agencies:       doc.AgencyNames,
			SearchTerm:     term,
		},
	}
}
