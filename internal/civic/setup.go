package civic

import (
	"context"
	"errors"
	"log"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/geocoding"
	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
	"github.com/CivicDataHub/CDH-Backend/internal/db"

	// Import sources to register them via init()
	_ "github.com/CivicDataHub/CDH-Backend/internal/civic/ingest/officefeed"
	_ "github.com/CivicDataHub/CDH-Backend/internal/civic/ingest/openstates"
	_ "github.com/CivicDataHub/CDH-Backend/internal/civic/ingest/tiger"
)

func Init() *Service {
	// Ensure the civic schema and the spatial extensions exist
	if err := db.EnsureSchema(db.DB, "civic"); err != nil {
		log.Fatal("Failed to ensure schema civic: ", err)
	}
	if err := db.EnsureExtension(db.DB, "uuid-ossp"); err != nil {
		log.Fatal("Failed to enable uuid-ossp extension: ", err)
	}
	if err := db.EnsureExtension(db.DB, "postgis"); err != nil {
		log.Fatal("Failed to enable postgis extension: ", err)
	}

	if err := db.DB.AutoMigrate(
		&District{},
		&Official{},
		&Office{},
		&DataSource{},
		&AddressCacheEntry{},
		&FieldProvenance{},
	); err != nil {
		log.Fatal("Failed to auto-migrate tables: ", err)
	}

	// Provenance identity is unique only when both halves are present;
	// scrape-only officials without source ids must not collide.
	if err := db.DB.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS officials_source_unique
        ON civic.officials (source_type, source_id)
        WHERE source_type <> '' AND source_id <> '';
    `).Error; err != nil {
		log.Fatal("Failed to create officials_source_unique: ", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	store := NewGormStore(db.DB)
	geo := NewPostGISStore(db.DB)
	recon := NewReconciler(store, geo, cfg)

	var geocoder Geocoder = unavailableGeocoder{}
	if client, err := geocoding.NewClient(); err != nil {
		log.Printf("[civic] WARNING: geocoder init failed: %v", err)
	} else if client == nil {
		log.Printf("[civic] GOOGLE_MAPS_API_KEY not set; address lookup disabled")
	} else {
		geocoder = googleGeocoder{client: client}
	}

	sources, err := ingest.Build()
	if err != nil {
		log.Fatal("Failed to build ingestors: ", err)
	}
	log.Printf("[civic] %d source(s) configured", len(sources))

	return &Service{
		Store:        store,
		Geo:          geo,
		Resolver:     NewResolver(store, geo, geocoder, cfg),
		Orchestrator: NewOrchestrator(sources, recon, store, cfg),
		Cfg:          cfg,
	}
}

// googleGeocoder adapts the Google client to the Geocoder contract.
type googleGeocoder struct {
	client *geocoding.Client
}

func (g googleGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	res, err := g.client.Geocode(ctx, address)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: res.Lat, Lng: res.Lng}, nil
}

// unavailableGeocoder keeps point lookups working when no geocoding key is
// configured; address lookups fail as retryable.
type unavailableGeocoder struct{}

func (unavailableGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	return Point{}, errors.New("no geocoder configured")
}
