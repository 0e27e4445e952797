package civic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ServiceStore is the slice of the canonical store the HTTP layer reads.
type ServiceStore interface {
	OfficialByID(ctx context.Context, id uuid.UUID) (*Official, error)
	OfficesByOfficial(ctx context.Context, officialID uuid.UUID) ([]Office, error)
	DistrictByID(ctx context.Context, id uuid.UUID) (*District, error)
	SearchDistricts(ctx context.Context, query, districtType, stateFIPS string) ([]DistrictFeature, error)
	DataSources(ctx context.Context) ([]DataSource, error)
}

// Service bundles the core engines behind the thin HTTP surface.
type Service struct {
	Store        ServiceStore
	Geo          GeometryStore
	Resolver     *Resolver
	Orchestrator *Orchestrator
	Cfg          Config
}

// GET /lookup?address=...
func (s *Service) LookupAddress(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		http.Error(w, "Missing address parameter", http.StatusBadRequest)
		return
	}

	t0 := time.Now()
	res, err := s.Resolver.ResolveAddress(r.Context(), address)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	addServerTiming(w, [2]string{"total", fmt.Sprintf("%d", time.Since(t0).Milliseconds())})
	writeJSON(w, res)
}

// GET /districts?lat=..&lng=..
// Returns the containing district boundaries as a GeoJSON FeatureCollection.
// A point outside all boundaries is a valid, empty collection.
func (s *Service) DistrictBoundaries(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		http.Error(w, "Missing or invalid lat/lng parameters", http.StatusBadRequest)
		return
	}

	features, err := s.Geo.ContainingDistrictFeatures(r.Context(), lat, lng)
	if err != nil {
		log.Printf("[districts] lat=%f lng=%f err=%v", lat, lng, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, featureCollection(features))
}

// GET /bulk-lookup?addresses=a&addresses=b (max 100)
func (s *Service) BulkLookup(w http.ResponseWriter, r *http.Request) {
	addresses := r.URL.Query()["addresses"]
	if len(addresses) == 0 {
		http.Error(w, "Missing addresses parameter", http.StatusBadRequest)
		return
	}

	results, err := s.Resolver.ResolveMany(r.Context(), addresses)
	if err != nil {
		// The only resolver-level error is an oversized batch; per-address
		// failures land in their own result slots.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{"results": results})
}

// GET /official/{id}
func (s *Service) OfficialDetail(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid official id", http.StatusBadRequest)
		return
	}

	official, err := s.Store.OfficialByID(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Official not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[official] id=%s err=%v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	offices, err := s.Store.OfficesByOfficial(r.Context(), id)
	if err != nil {
		log.Printf("[official] id=%s offices err=%v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := map[string]any{
		"official": official,
		"offices":  offices,
	}
	if district, err := s.Store.DistrictByID(r.Context(), official.DistrictID); err == nil {
		out["district"] = district
	}
	writeJSON(w, out)
}

// GET /districts/search?q=...&type=...&state=...
func (s *Service) SearchDistricts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "Missing q parameter", http.StatusBadRequest)
		return
	}

	features, err := s.Store.SearchDistricts(r.Context(),
		query, r.URL.Query().Get("type"), r.URL.Query().Get("state"))
	if err != nil {
		log.Printf("[districts] search q=%q err=%v", query, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, featureCollection(features))
}

// RunSync is invoked by an external scheduler. The server never
// schedules syncs itself.
func (s *Service) RunSync(w http.ResponseWriter, r *http.Request) {
	log.Printf("[sync] run requested from=%s", r.RemoteAddr)
	outcomes := s.Orchestrator.RunSync(r.Context())
	writeJSON(w, map[string]any{"sources": outcomes})
}

// SyncStatus returns the DataSource audit rows.
func (s *Service) SyncStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.DataSources(r.Context())
	if err != nil {
		log.Printf("[sync] status err=%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	writeJSON(w, map[string]any{"sources": rows})
}

func writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrTimeout):
		http.Error(w, "Geocoding service timeout", http.StatusRequestTimeout)
	case errors.Is(err, ErrLookupFailed):
		http.Error(w, "Address could not be resolved", http.StatusBadGateway)
	default:
		log.Printf("[lookup] err=%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func featureCollection(features []DistrictFeature) map[string]any {
	out := make([]map[string]any, 0, len(features))
	for _, f := range features {
		geom := f.Geometry
		if len(geom) == 0 {
			geom = json.RawMessage("null")
		}
		out = append(out, map[string]any{
			"type": "Feature",
			"properties": map[string]any{
				"id":              f.ID,
				"name":            f.Name,
				"district_type":   f.DistrictType,
				"state_fips":      f.StateFIPS,
				"district_code":   f.DistrictCode,
				"boundary_status": f.BoundaryStatus,
			},
			"geometry": geom,
		})
	}
	return map[string]any{
		"type":     "FeatureCollection",
		"features": out,
	}
}
