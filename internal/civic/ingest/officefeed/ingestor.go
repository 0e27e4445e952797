package officefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
)

func init() {
	ingest.Register("officefeed", New)
}

// feedRecord is one office location in the published feed. Records are
// keyed to officials by the provenance of another source, so the feed can
// enrich rosters it does not own.
type feedRecord struct {
	OfficialSource string   `json:"official_source"`
	OfficialID     string   `json:"official_id"`
	OfficeType     string   `json:"office_type"`
	Address1       string   `json:"address_line1"`
	Address2       string   `json:"address_line2"`
	City           string   `json:"city"`
	State          string   `json:"state"`
	Zip            string   `json:"zip"`
	Phone          string   `json:"phone"`
	Lat            *float64 `json:"lat"`
	Lng            *float64 `json:"lng"`
}

// Ingestor pulls office locations from a static JSON feed, typically a
// curated file published to object storage.
type Ingestor struct {
	feedURL    string
	httpClient *http.Client
}

// New builds the office feed ingestor. Returns (nil, nil) when
// OFFICE_FEED_URL is not set.
func New() (ingest.SourceIngestor, error) {
	feedURL := os.Getenv("OFFICE_FEED_URL")
	if feedURL == "" {
		return nil, nil
	}

	return &Ingestor{
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (i *Ingestor) Name() string { return "officefeed" }

func (i *Ingestor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, i.feedURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (i *Ingestor) Fetch(ctx context.Context) (ingest.Batch, error) {
	start := time.Now()
	ingest.LogRequest("officefeed", "GET", i.feedURL, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.feedURL, nil)
	if err != nil {
		return ingest.Batch{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		ingest.LogError("officefeed", "fetch", err)
		return ingest.Batch{}, fmt.Errorf("office feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("office feed status %d", resp.StatusCode)
		ingest.LogError("officefeed", "fetch", err)
		return ingest.Batch{}, err
	}

	var records []feedRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		ingest.LogError("officefeed", "decode", err)
		return ingest.Batch{}, fmt.Errorf("decode office feed: %w", err)
	}
	ingest.LogResponse("officefeed", resp.StatusCode, time.Since(start), len(records))

	var batch ingest.Batch
	for idx, rec := range records {
		if rec.OfficialSource == "" || rec.OfficialID == "" {
			batch.Warnings = append(batch.Warnings,
				fmt.Sprintf("officefeed: record %d missing official reference", idx))
			continue
		}
		if rec.State != "" && ingest.StateFIPS(rec.State) == "" {
			batch.Warnings = append(batch.Warnings,
				fmt.Sprintf("officefeed: record %d has unknown state %q", idx, rec.State))
			continue
		}

		batch.Offices = append(batch.Offices, ingest.OfficeDraft{
			OfficialSourceType: rec.OfficialSource,
			OfficialSourceID:   rec.OfficialID,
			OfficeType:         normalizeOfficeType(rec.OfficeType),
			Address1:           strings.TrimSpace(rec.Address1),
			Address2:           strings.TrimSpace(rec.Address2),
			City:               strings.TrimSpace(rec.City),
			State:              strings.ToUpper(strings.TrimSpace(rec.State)),
			Zip:                strings.TrimSpace(rec.Zip),
			Phone:              strings.TrimSpace(rec.Phone),
			Lat:                rec.Lat,
			Lng:                rec.Lng,
		})
	}

	return batch, nil
}

func normalizeOfficeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "district"
	}
	return t
}
