package openstates

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
)

func init() {
	ingest.Register("openstates", New)
}

// Ingestor pulls state legislators from the OpenStates API.
type Ingestor struct {
	client *Client
	states []string
}

// New builds the OpenStates ingestor. Returns (nil, nil) when
// OPENSTATES_API_KEY is not set so the source is skipped, not fatal.
func New() (ingest.SourceIngestor, error) {
	apiKey := os.Getenv("OPENSTATES_API_KEY")
	if apiKey == "" {
		return nil, nil
	}

	states := splitStates(os.Getenv("OPENSTATES_STATES"))
	if len(states) == 0 {
		return nil, fmt.Errorf("OPENSTATES_STATES must list at least one state abbreviation")
	}

	return &Ingestor{
		client: NewClient(apiKey),
		states: states,
	}, nil
}

func (i *Ingestor) Name() string { return "openstates" }

func (i *Ingestor) HealthCheck(ctx context.Context) error {
	return i.client.HealthCheck(ctx)
}

// Fetch pulls the current legislators for every configured state and
// normalizes them into district and official drafts.
func (i *Ingestor) Fetch(ctx context.Context) (ingest.Batch, error) {
	var batch ingest.Batch

	for _, state := range i.states {
		people, err := i.client.FetchPeople(ctx, strings.ToLower(state))
		if err != nil {
			return ingest.Batch{}, fmt.Errorf("fetch %s: %w", state, err)
		}

		fips := ingest.StateFIPS(state)
		if fips == "" {
			batch.Warnings = append(batch.Warnings,
				fmt.Sprintf("unknown state abbreviation %q", state))
			continue
		}

		for _, person := range people {
			draft, dist, warn := normalizePerson(person, fips)
			if warn != "" {
				batch.Warnings = append(batch.Warnings, warn)
				continue
			}
			batch.Districts = append(batch.Districts, dist)
			batch.Officials = append(batch.Officials, draft)
			batch.Offices = append(batch.Offices, normalizeOffices(person, state)...)
		}
	}

	return batch, nil
}

// normalizePerson maps one OpenStates person to an official draft plus the
// roster sighting of their district.
func normalizePerson(p Person, fips string) (ingest.OfficialDraft, ingest.DistrictDraft, string) {
	if p.CurrentRole == nil {
		return ingest.OfficialDraft{}, ingest.DistrictDraft{},
			fmt.Sprintf("person %s has no current role", p.ID)
	}

	districtType := chamberDistrictType(p.CurrentRole.OrgClassification)
	if districtType == "" {
		return ingest.OfficialDraft{}, ingest.DistrictDraft{},
			fmt.Sprintf("person %s has unmapped chamber %q", p.ID, p.CurrentRole.OrgClassification)
	}

	key := ingest.DistrictKey{
		DistrictType: districtType,
		StateFIPS:    fips,
		DistrictCode: strings.TrimSpace(p.CurrentRole.District),
	}

	draft := ingest.OfficialDraft{
		FullName:    strings.TrimSpace(p.Name),
		OfficeTitle: p.CurrentRole.Title,
		Party:       p.Party,
		Email:       p.Email,
		Website:     firstHomepage(p.Links),
		TermEnd:     parseEndDate(p.CurrentRole.EndDate),
		SourceType:  "openstates",
		SourceID:    p.ID,
		District:    key,
	}

	dist := ingest.DistrictDraft{
		DistrictKey: key,
		Name:        districtDisplayName(districtType, key.DistrictCode),
	}

	return draft, dist, ""
}

func normalizeOffices(p Person, state string) []ingest.OfficeDraft {
	var out []ingest.OfficeDraft
	for _, office := range p.Offices {
		if office.Phone == "" {
			continue
		}
		out = append(out, ingest.OfficeDraft{
			OfficialSourceType: "openstates",
			OfficialSourceID:   p.ID,
			OfficeType:         officeType(office.Name),
			State:              strings.ToUpper(state),
			Phone:              office.Phone,
		})
	}
	return out
}

// chamberDistrictType maps the OpenStates org classification to the
// canonical district type. Unmapped chambers (executive) are skipped.
func chamberDistrictType(orgClassification string) string {
	switch orgClassification {
	case "upper":
		return "STATE_UPPER"
	case "lower", "legislature":
		return "STATE_LOWER"
	default:
		return ""
	}
}

func districtDisplayName(districtType, code string) string {
	switch districtType {
	case "STATE_UPPER":
		return fmt.Sprintf("State Senate District %s", code)
	case "STATE_LOWER":
		return fmt.Sprintf("State House District %s", code)
	default:
		return code
	}
}

func officeType(name string) string {
	if strings.Contains(strings.ToLower(name), "capitol") {
		return "capitol"
	}
	return "district"
}

func firstHomepage(links []link) string {
	for _, l := range links {
		if l.Note == "homepage" || l.Note == "" {
			return l.URL
		}
	}
	if len(links) > 0 {
		return links[0].URL
	}
	return ""
}

// parseEndDate accepts the date-only form OpenStates uses; an empty or
// malformed value means the term is open-ended.
func parseEndDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func splitStates(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
