package civic

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func SetupRoutes(s *Service) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/lookup", s.LookupAddress)
	r.Get("/districts", s.DistrictBoundaries)
	r.Get("/districts/search", s.SearchDistricts)
	r.Get("/bulk-lookup", s.BulkLookup)
	r.Get("/official/{id}", s.OfficialDetail)

	// Sync surface for the external scheduler
	r.Post("/sync", s.RunSync)
	r.Get("/sync/status", s.SyncStatus)

	return r
}
