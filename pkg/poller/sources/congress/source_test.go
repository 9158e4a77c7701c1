package congress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/regscope-ai/platform/pkg/common/logger"
	"github.com/regscope-ai/platform/pkg/fetch"
	"github.com/regscope-ai/platform/pkg/poller"
)

func init() {
	logger.Init()
}

func testTuning() fetch.Tuning {
	return fetch.Tuning{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: time.Second}
}

func TestCheckConfigRequiresAPIKey(t *testing.T) {
	src := New(http.DefaultClient, testTuning(), "", 5)
	err := src.CheckConfig()
	if err == nil {
		t.Fatal("expected config error without api key")
	}
	if !poller.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if err.Error() != "missing required configuration: CONGRESS_API_KEY" {
		t.Fatalf("error must name the missing variable, got %q", err.Error())
	}
}

func TestPageURLEncodesSortAsSpacedValue(t *testing.T) {
	src := New(http.DefaultClient, testTuning(), "test-key", 5)

	raw := src.pageURL(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	if strings.Contains(raw, "%2B") {
		t.Fatalf("sort value must not double-encode the plus, got %s", raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("bad page url: %v", err)
	}
	if got := parsed.Query().Get("sort"); got != "updateDate asc" {
		t.Fatalf("upstream must decode sort to %q, got %q", "updateDate asc", got)
	}
}

func TestFetchMintsCompositeExternalIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var page billsPage
		page.Bills = []bill{{
			Congress:   118,
			Type:       "HR",
			Number:     "1234",
			Title:      "Hemp Advancement Act",
			UpdateDate: "2024-02-10",
		}}
		page.Bills[0].LatestAction.ActionDate = "2024-02-09"
		page.Bills[0].LatestAction.Text = "Referred to committee"
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	src := New(server.Client(), testTuning(), "test-key", 5)
	src.baseURL = server.URL

	var got []poller.Candidate
	err := src.Fetch(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), func(c poller.Candidate) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].ExternalID != "congress-118-hr-1234" {
		t.Fatalf("unexpected external id: %s", got[0].ExternalID)
	}
	// Action date preferred over update date.
	if got[0].EffectiveDate == nil || got[0].EffectiveDate.Format("2006-01-02") != "2024-02-09" {
		t.Fatalf("unexpected effective date: %v", got[0].EffectiveDate)
	}
	if got[0].URL != "https://www.congress.gov/bill/118th-congress/house-bill/1234" {
		t.Fatalf("unexpected url: %s", got[0].URL)
	}
}
