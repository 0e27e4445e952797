package tiger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
)

func init() {
	ingest.Register("tiger", New)
}

// Ingestor pulls legislative district boundaries from the Census TIGERweb
// service. It is the boundary authority: its batches carry geometry and
// cover the full universe for the configured states.
type Ingestor struct {
	client *Client
	states []string
}

// New builds the TIGERweb ingestor. Returns (nil, nil) when TIGER_STATES
// is not set; boundary pulls are heavy and must be opted into.
func New() (ingest.SourceIngestor, error) {
	raw := os.Getenv("TIGER_STATES")
	if raw == "" {
		return nil, nil
	}

	var states []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ingest.StateFIPS(part) == "" {
			return nil, fmt.Errorf("TIGER_STATES: unknown state abbreviation %q", part)
		}
		states = append(states, part)
	}
	if len(states) == 0 {
		return nil, nil
	}

	return &Ingestor{
		client: NewClient(),
		states: states,
	}, nil
}

func (i *Ingestor) Name() string { return "tiger" }

func (i *Ingestor) HealthCheck(ctx context.Context) error {
	return i.client.HealthCheck(ctx)
}

// Fetch pulls every legislative boundary layer for every configured state.
// The batch is a full boundary set; districts missing from it go stale.
func (i *Ingestor) Fetch(ctx context.Context) (ingest.Batch, error) {
	batch := ingest.Batch{FullBoundarySet: true}

	for _, state := range i.states {
		fips := ingest.StateFIPS(state)

		for _, layer := range layers {
			features, err := i.client.FetchLayer(ctx, layer.id, fips)
			if err != nil {
				return ingest.Batch{}, fmt.Errorf("layer %d state %s: %w", layer.id, state, err)
			}

			for _, f := range features {
				draft, warn := normalizeFeature(f, layer.districtType, fips)
				if warn != "" {
					batch.Warnings = append(batch.Warnings, warn)
					continue
				}
				batch.Districts = append(batch.Districts, draft)
			}
		}
	}

	return batch, nil
}

// normalizeFeature maps one TIGERweb polygon to a district draft. The
// district code is the GEOID with the state FIPS prefix stripped, matching
// what roster sources report.
func normalizeFeature(f Feature, districtType, fips string) (ingest.DistrictDraft, string) {
	geoID := f.Properties.GeoID
	if !strings.HasPrefix(geoID, fips) || len(geoID) <= len(fips) {
		return ingest.DistrictDraft{}, fmt.Sprintf("tiger: malformed GEOID %q for state %s", geoID, fips)
	}
	if len(f.Geometry) == 0 {
		return ingest.DistrictDraft{}, fmt.Sprintf("tiger: GEOID %q has no geometry", geoID)
	}

	code := strings.TrimLeft(geoID[len(fips):], "0")
	if code == "" {
		code = "0"
	}

	return ingest.DistrictDraft{
		DistrictKey: ingest.DistrictKey{
			DistrictType: districtType,
			StateFIPS:    fips,
			DistrictCode: code,
		},
		Name:            f.Properties.Name,
		BoundaryGeoJSON: string(f.Geometry),
	}, ""
}
