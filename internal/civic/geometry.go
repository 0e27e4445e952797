package civic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GeometryStore is the contract over a backing store with native geometry
// support. The core never manipulates polygons itself; it asks the store to
// validate, persist, and query them.
type GeometryStore interface {
	// ValidateBoundary rejects malformed or self-intersecting geometry with
	// ErrValidation before anything is persisted.
	ValidateBoundary(ctx context.Context, geojson string) error

	// UpsertBoundary writes a district's multi-polygon and marks it synced.
	UpsertBoundary(ctx context.Context, districtID uuid.UUID, geojson string) error

	// ContainingDistricts returns every district whose boundary contains the
	// point. Multiple hits across district types are expected.
	ContainingDistricts(ctx context.Context, lat, lng float64) ([]District, error)

	// ContainingDistrictFeatures is ContainingDistricts plus each boundary
	// as GeoJSON, for the feature-collection endpoint.
	ContainingDistrictFeatures(ctx context.Context, lat, lng float64) ([]DistrictFeature, error)

	// UpsertOfficePoint writes an office's point location.
	UpsertOfficePoint(ctx context.Context, officeID uuid.UUID, lat, lng float64) error

	// WithinStateTolerance reports whether the point lies within toleranceKm
	// of any synced district boundary of the given state.
	WithinStateTolerance(ctx context.Context, stateFIPS string, lat, lng, toleranceKm float64) (bool, error)
}

// DistrictFeature pairs a district row with its boundary as GeoJSON.
type DistrictFeature struct {
	District
	Geometry json.RawMessage `json:"geometry"`
}

// PostGISStore implements GeometryStore on a PostGIS-enabled Postgres.
type PostGISStore struct {
	db *gorm.DB
}

func NewPostGISStore(db *gorm.DB) *PostGISStore {
	return &PostGISStore{db: db}
}

func (s *PostGISStore) ValidateBoundary(ctx context.Context, geojson string) error {
	var valid bool
	err := s.db.WithContext(ctx).Raw(`
		SELECT ST_IsValid(ST_Multi(ST_GeomFromGeoJSON(?)))
	`, geojson).Scan(&valid).Error
	if err != nil {
		// Unparseable GeoJSON surfaces as a query error, not a false result.
		return fmt.Errorf("%w: unparseable geometry: %v", ErrValidation, err)
	}
	if !valid {
		return fmt.Errorf("%w: self-intersecting or malformed multi-polygon", ErrValidation)
	}
	return nil
}

func (s *PostGISStore) UpsertBoundary(ctx context.Context, districtID uuid.UUID, geojson string) error {
	err := s.db.WithContext(ctx).Exec(`
		UPDATE civic.districts
		SET boundary = ST_SetSRID(ST_Multi(ST_GeomFromGeoJSON(?)), 4326),
		    boundary_status = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, geojson, BoundarySynced, districtID).Error
	if err != nil {
		return fmt.Errorf("upsert boundary for %s: %w", districtID, err)
	}
	return nil
}

func (s *PostGISStore) ContainingDistricts(ctx context.Context, lat, lng float64) ([]District, error) {
	var districts []District
	err := s.db.WithContext(ctx).Raw(`
		SELECT id, district_type, state_fips, district_code, name,
		       boundary_status, created_at, updated_at
		FROM civic.districts
		WHERE boundary IS NOT NULL
		  AND ST_Contains(boundary, ST_SetSRID(ST_MakePoint(?, ?), 4326))
	`, lng, lat).Scan(&districts).Error
	if err != nil {
		return nil, fmt.Errorf("containment query failed: %w", err)
	}
	return districts, nil
}

func (s *PostGISStore) ContainingDistrictFeatures(ctx context.Context, lat, lng float64) ([]DistrictFeature, error) {
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id, district_type, state_fips, district_code, name,
		       boundary_status, ST_AsGeoJSON(boundary) AS geometry
		FROM civic.districts
		WHERE boundary IS NOT NULL
		  AND ST_Contains(boundary, ST_SetSRID(ST_MakePoint(?, ?), 4326))
	`, lng, lat).Rows()
	if err != nil {
		return nil, fmt.Errorf("containment query failed: %w", err)
	}
	defer rows.Close()

	var features []DistrictFeature
	for rows.Next() {
		var f DistrictFeature
		var geom string
		if err := rows.Scan(&f.ID, &f.DistrictType, &f.StateFIPS, &f.DistrictCode,
			&f.Name, &f.BoundaryStatus, &geom); err != nil {
			return nil, fmt.Errorf("scan district feature: %w", err)
		}
		f.Geometry = json.RawMessage(geom)
		features = append(features, f)
	}
	return features, rows.Err()
}

func (s *PostGISStore) UpsertOfficePoint(ctx context.Context, officeID uuid.UUID, lat, lng float64) error {
	err := s.db.WithContext(ctx).Exec(`
		UPDATE civic.offices
		SET location = ST_SetSRID(ST_MakePoint(?, ?), 4326)
		WHERE id = ?
	`, lng, lat, officeID).Error
	if err != nil {
		return fmt.Errorf("upsert office point for %s: %w", officeID, err)
	}
	return nil
}

func (s *PostGISStore) WithinStateTolerance(ctx context.Context, stateFIPS string, lat, lng, toleranceKm float64) (bool, error) {
	var within bool
	err := s.db.WithContext(ctx).Raw(`
		SELECT EXISTS (
			SELECT 1
			FROM civic.districts
			WHERE state_fips = ?
			  AND boundary IS NOT NULL
			  AND ST_DWithin(
				boundary::geography,
				ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography,
				?
			  )
		)
	`, stateFIPS, lng, lat, toleranceKm*1000).Scan(&within).Error
	if err != nil {
		return false, fmt.Errorf("tolerance query failed: %w", err)
	}
	return within, nil
}
