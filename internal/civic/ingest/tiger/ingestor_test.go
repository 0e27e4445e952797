package tiger

import (
	"encoding/json"
	"testing"
)

func boundaryFeature(geoID, name string) Feature {
	var f Feature
	f.Properties.GeoID = geoID
	f.Properties.Name = name
	f.Properties.State = geoID[:2]
	f.Geometry = json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[0,1],[1,1],[0,0]]]}`)
	return f
}

func TestNormalizeFeature_StripsStatePrefix(t *testing.T) {
	draft, warn := normalizeFeature(boundaryFeature("18040", "State Senate District 40"), "STATE_UPPER", "18")
	if warn != "" {
		t.Fatalf("unexpected warning: %s", warn)
	}
	if draft.DistrictType != "STATE_UPPER" || draft.StateFIPS != "18" {
		t.Errorf("wrong key: %+v", draft.DistrictKey)
	}
	if draft.DistrictCode != "40" {
		t.Errorf("expected code 40 (leading zeros stripped), got %q", draft.DistrictCode)
	}
	if draft.Name != "State Senate District 40" {
		t.Errorf("wrong name: %s", draft.Name)
	}
	if draft.BoundaryGeoJSON == "" {
		t.Error("boundary feed drafts must carry geometry")
	}
}

func TestNormalizeFeature_AllZeroCode(t *testing.T) {
	// At-large congressional districts use code 00.
	draft, warn := normalizeFeature(boundaryFeature("1800", "Congressional District (at Large)"), "CONGRESSIONAL", "18")
	if warn != "" {
		t.Fatalf("unexpected warning: %s", warn)
	}
	if draft.DistrictCode != "0" {
		t.Errorf("expected code 0, got %q", draft.DistrictCode)
	}
}

func TestNormalizeFeature_WrongStateRejected(t *testing.T) {
	_, warn := normalizeFeature(boundaryFeature("39040", "Ohio District"), "STATE_UPPER", "18")
	if warn == "" {
		t.Fatal("expected warning for GEOID of another state")
	}
}

func TestNormalizeFeature_MissingGeometryRejected(t *testing.T) {
	f := boundaryFeature("18040", "State Senate District 40")
	f.Geometry = nil
	_, warn := normalizeFeature(f, "STATE_UPPER", "18")
	if warn == "" {
		t.Fatal("expected warning for a feature without geometry")
	}
}
