package ingest

import (
	"context"
	"sort"
	"time"
)

// DistrictKey is the natural identity of a district across all sources.
type DistrictKey struct {
	DistrictType string `json:"district_type"`
	StateFIPS    string `json:"state_fips"`
	DistrictCode string `json:"district_code"`
}

// DistrictDraft is a normalized, not-yet-persisted district candidate.
// BoundaryGeoJSON is set only by the boundary feed; roster sightings carry
// the key and name alone.
type DistrictDraft struct {
	DistrictKey
	Name            string `json:"name"`
	BoundaryGeoJSON string `json:"boundary_geojson,omitempty"`
}

// OfficialDraft is a normalized official candidate. SourceType/SourceID is
// the external identity used for upsert matching; District references the
// district by natural key, which may not have been seen yet.
type OfficialDraft struct {
	FullName    string     `json:"full_name"`
	OfficeTitle string     `json:"office_title"`
	Party       string     `json:"party"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Website     string     `json:"website"`
	TermStart   *time.Time `json:"term_start"`
	TermEnd     *time.Time `json:"term_end"`

	SourceType string      `json:"source_type"`
	SourceID   string      `json:"source_id"`
	District   DistrictKey `json:"district"`
}

// OfficeDraft is a normalized office-location candidate, keyed by the
// provenance of the official it belongs to. The full set of drafts for one
// official replaces that official's offices wholesale.
type OfficeDraft struct {
	OfficialSourceType string `json:"official_source_type"`
	OfficialSourceID   string `json:"official_source_id"`

	OfficeType string   `json:"office_type"`
	Address1   string   `json:"address_line1"`
	Address2   string   `json:"address_line2"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	Zip        string   `json:"zip"`
	Phone      string   `json:"phone"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
}

// Batch is everything one source produced in a single fetch.
type Batch struct {
	Districts []DistrictDraft
	Officials []OfficialDraft
	Offices   []OfficeDraft

	// FullBoundarySet marks a batch that covers the source's entire boundary
	// universe; synced districts absent from it go stale.
	FullBoundarySet bool

	// Warnings collect record-level oddities that did not stop the fetch.
	Warnings []string
}

// SourceIngestor pulls raw records from one upstream and normalizes them
// into canonical entity drafts. Implementations must respect ctx deadlines.
type SourceIngestor interface {
	// Name is the registry name and the provenance rank key.
	Name() string

	// Fetch returns the full draft batch for this source.
	Fetch(ctx context.Context) (Batch, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error
}

// Constructors may return (nil, nil) when the source is not configured
// (missing API key); Build skips those instead of failing startup.
type Constructor func() (SourceIngestor, error)

var registry = make(map[string]Constructor)

// Register adds an ingestor constructor. Called from init() in each source
// package.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Build constructs every registered, configured ingestor in name order.
func Build() ([]SourceIngestor, error) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []SourceIngestor
	for _, name := range names {
		ing, err := registry[name]()
		if err != nil {
			return nil, err
		}
		if ing == nil {
			LogSkipped(name)
			continue
		}
		out = append(out, ing)
	}
	return out, nil
}
