package civic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the canonical store over Postgres. It implements
// ReconcileStore, ResolverStore, and StatusStore.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- districts ---

func (s *GormStore) DistrictByKey(ctx context.Context, districtType, stateFIPS, code string) (*District, error) {
	var d District
	err := s.db.WithContext(ctx).
		Where("district_type = ? AND state_fips = ? AND district_code = ?", districtType, stateFIPS, code).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *GormStore) DistrictByID(ctx context.Context, id uuid.UUID) (*District, error) {
	var d District
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *GormStore) InsertDistrict(ctx context.Context, d *District) error {
	// Boundary goes through the geometry adapter, never through GORM.
	return s.db.WithContext(ctx).Omit("Boundary").Create(d).Error
}

func (s *GormStore) UpdateDistrict(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&District{}).Where("id = ?", id).Updates(fields).Error
}

func (s *GormStore) SyncedDistricts(ctx context.Context) ([]District, error) {
	var out []District
	err := s.db.WithContext(ctx).
		Select("id", "district_type", "state_fips", "district_code", "name", "boundary_status", "boundary_hash").
		Where("boundary_status = ?", BoundarySynced).
		Find(&out).Error
	return out, err
}

func (s *GormStore) MarkDistrictStale(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&District{}).Where("id = ?", id).
		Update("boundary_status", BoundaryStale).Error
}

// SearchDistricts matches districts by name or code, optionally filtered by
// type and state, returning each boundary as GeoJSON.
func (s *GormStore) SearchDistricts(ctx context.Context, query, districtType, stateFIPS string) ([]DistrictFeature, error) {
	sql := `
		SELECT id, district_type, state_fips, district_code, name,
		       boundary_status, COALESCE(ST_AsGeoJSON(boundary), '') AS geometry
		FROM civic.districts
		WHERE (name ILIKE ? OR district_code = ?)
	`
	args := []any{"%" + query + "%", query}
	if districtType != "" {
		sql += " AND district_type = ?"
		args = append(args, districtType)
	}
	if stateFIPS != "" {
		sql += " AND state_fips = ?"
		args = append(args, stateFIPS)
	}
	sql += " ORDER BY state_fips, district_type, district_code LIMIT 100"

	rows, err := s.db.WithContext(ctx).Raw(sql, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("district search failed: %w", err)
	}
	defer rows.Close()

	var out []DistrictFeature
	for rows.Next() {
		var f DistrictFeature
		var geom string
		if err := rows.Scan(&f.ID, &f.DistrictType, &f.StateFIPS, &f.DistrictCode,
			&f.Name, &f.BoundaryStatus, &geom); err != nil {
			return nil, fmt.Errorf("scan district: %w", err)
		}
		if geom != "" {
			f.Geometry = json.RawMessage(geom)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- officials ---

func (s *GormStore) OfficialBySource(ctx context.Context, sourceType, sourceID string) (*Official, error) {
	var o Official
	err := s.db.WithContext(ctx).
		Where("source_type = ? AND source_id = ?", sourceType, sourceID).
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *GormStore) OfficialByNameAndDistrict(ctx context.Context, fullName string, districtID uuid.UUID) (*Official, error) {
	var o Official
	err := s.db.WithContext(ctx).
		Where("LOWER(full_name) = LOWER(?) AND district_id = ?", fullName, districtID).
		First(&o).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *GormStore) OfficialByID(ctx context.Context, id uuid.UUID) (*Official, error) {
	var o Official
	if err := s.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (s *GormStore) InsertOfficial(ctx context.Context, o *Official) error {
	return s.db.WithContext(ctx).Create(o).Error
}

func (s *GormStore) UpdateOfficial(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&Official{}).Where("id = ?", id).Updates(fields).Error
}

// OfficialsByDistricts returns every official of the given districts,
// historical included; the resolver applies the currency filter.
func (s *GormStore) OfficialsByDistricts(ctx context.Context, districtIDs []uuid.UUID) ([]Official, error) {
	if len(districtIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(districtIDs))
	for i, id := range districtIDs {
		ids[i] = id.String()
	}
	var out []Official
	err := s.db.WithContext(ctx).Raw(`
		SELECT * FROM civic.officials WHERE district_id = ANY(?::uuid[])
	`, pq.Array(ids)).Scan(&out).Error
	return out, err
}

// --- offices ---

func (s *GormStore) OfficesByOfficial(ctx context.Context, officialID uuid.UUID) ([]Office, error) {
	var out []Office
	err := s.db.WithContext(ctx).
		Where("official_id = ?", officialID).
		Order("office_type, address1").
		Find(&out).Error
	return out, err
}

// ReplaceOffices swaps an official's office set atomically.
func (s *GormStore) ReplaceOffices(ctx context.Context, officialID uuid.UUID, offices []Office) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("official_id = ?", officialID).Delete(&Office{}).Error; err != nil {
			return err
		}
		if len(offices) == 0 {
			return nil
		}
		return tx.Omit("Location").Create(&offices).Error
	})
}

// --- provenance ---

func (s *GormStore) Provenance(ctx context.Context, entityType string, entityID uuid.UUID) (map[string]FieldProvenance, error) {
	var rows []FieldProvenance
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]FieldProvenance, len(rows))
	for _, r := range rows {
		out[r.Field] = r
	}
	return out, nil
}

func (s *GormStore) SaveProvenance(ctx context.Context, rows []FieldProvenance) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "field"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_type", "rank", "observed_at"}),
	}).Create(&rows).Error
}

// --- data sources ---

func (s *GormStore) UpsertDataSource(ctx context.Context, ds *DataSource) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_sync", "status", "error_message",
			"inserted", "updated", "unchanged", "conflicts",
		}),
	}).Create(ds).Error
}

func (s *GormStore) DataSources(ctx context.Context) ([]DataSource, error) {
	var out []DataSource
	err := s.db.WithContext(ctx).Order("source_name").Find(&out).Error
	return out, err
}

// --- address cache ---

func (s *GormStore) CacheGet(ctx context.Context, normalized string) (*AddressCacheEntry, error) {
	var e AddressCacheEntry
	err := s.db.WithContext(ctx).
		Where("normalized_address = ?", normalized).
		First(&e).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (s *GormStore) CachePut(ctx context.Context, entry *AddressCacheEntry) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "normalized_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"address", "lat", "lng", "expires_at"}),
	}).Create(entry).Error
}

// PurgeExpiredCache deletes entries past expiry. Correctness never depends
// on this; it only reclaims space.
func (s *GormStore) PurgeExpiredCache(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < CURRENT_TIMESTAMP").
		Delete(&AddressCacheEntry{})
	return res.RowsAffected, res.Error
}
