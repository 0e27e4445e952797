package officefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const feedBody = `[
  {"official_source":"openstates","official_id":"ocd-person/1","office_type":"District","address_line1":"100 Main St","city":"Indianapolis","state":"IN","zip":"46204","lat":39.77,"lng":-86.15},
  {"official_source":"openstates","official_id":"ocd-person/1","office_type":"","phone":"317-555-0100"},
  {"official_source":"","official_id":"ocd-person/2","city":"Nowhere"},
  {"official_source":"openstates","official_id":"ocd-person/3","state":"ZZ"}
]`

func testIngestor(url string) *Ingestor {
	return &Ingestor{
		feedURL:    url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestFetch_NormalizesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	batch, err := testIngestor(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(batch.Offices) != 2 {
		t.Fatalf("expected 2 office drafts, got %d", len(batch.Offices))
	}
	if len(batch.Warnings) != 2 {
		t.Errorf("expected 2 warnings (missing ref, unknown state), got %d: %v", len(batch.Warnings), batch.Warnings)
	}

	first := batch.Offices[0]
	if first.OfficialSourceType != "openstates" || first.OfficialSourceID != "ocd-person/1" {
		t.Errorf("wrong official ref: %s/%s", first.OfficialSourceType, first.OfficialSourceID)
	}
	if first.OfficeType != "district" {
		t.Errorf("office type should be lowercased, got %q", first.OfficeType)
	}
	if first.Lat == nil || *first.Lat != 39.77 {
		t.Errorf("lat not carried through: %v", first.Lat)
	}

	second := batch.Offices[1]
	if second.OfficeType != "district" {
		t.Errorf("empty office type should default to district, got %q", second.OfficeType)
	}
}

func TestFetch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := testIngestor(srv.URL).Fetch(context.Background()); err == nil {
		t.Fatal("expected an error for a 500 feed response")
	}
}

func TestNew_SkippedWithoutURL(t *testing.T) {
	t.Setenv("OFFICE_FEED_URL", "")

	ing, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if ing != nil {
		t.Fatal("expected nil ingestor when OFFICE_FEED_URL is unset")
	}
}
