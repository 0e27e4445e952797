package civic

import (
	"time"

	"github.com/google/uuid"
)

// Boundary lifecycle states. Districts are never hard-deleted; a boundary
// absent from the latest full boundary sync goes stale instead.
const (
	BoundaryPending = "pending"
	BoundarySynced  = "synced"
	BoundaryStale   = "stale"
)

// District is identified by (district_type, state_fips, district_code), not
// by its surrogate id. A district may exist without a boundary (geometry
// pending) but never without a type and code.
type District struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	DistrictType string    `json:"district_type" gorm:"size:40;index:uniq_district_key,unique"`
	StateFIPS    string    `json:"state_fips" gorm:"size:2;index:uniq_district_key,unique"`
	DistrictCode string    `json:"district_code" gorm:"size:20;index:uniq_district_key,unique"`
	Name         string    `json:"name"`

	// Boundary is a PostGIS MultiPolygon in WGS84, written only through the
	// geometry adapter. Nil while BoundaryStatus is pending.
	Boundary       *string `json:"-" gorm:"type:geometry(MultiPolygon,4326)"`
	BoundaryStatus string  `json:"boundary_status" gorm:"size:10;default:pending"`
	// BoundaryHash is the SHA-256 of the source GeoJSON, kept so an identical
	// boundary re-sync is reported unchanged instead of rewritten.
	BoundaryHash string `json:"-" gorm:"size:64"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Official holds an office tied to exactly one district at a time.
// (SourceType, SourceID) is the true external identity used for upsert
// matching; full-name + district is the fallback when provenance is absent.
type Official struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	DistrictID  uuid.UUID  `json:"district_id" gorm:"type:uuid;index"`
	FullName    string     `json:"full_name"`
	OfficeTitle string     `json:"office_title"`
	Party       string     `json:"party"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Website     string     `json:"website"`
	TermStart   *time.Time `json:"term_start"`
	TermEnd     *time.Time `json:"term_end"`

	// Provenance / syncing
	SourceType string    `json:"source_type" gorm:"size:40"`
	SourceID   string    `json:"source_id" gorm:"size:80"`
	LastSynced time.Time `json:"last_synced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Office is a physical presence of an official. The office set for an
// official is a versioned unit: each office-feed sync replaces it wholesale.
type Office struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	OfficialID uuid.UUID `json:"official_id" gorm:"type:uuid;index"`
	OfficeType string    `json:"office_type" gorm:"size:20"` // "main", "district"
	Address1   string    `json:"address_line1"`
	Address2   string    `json:"address_line2"`
	City       string    `json:"city"`
	State      string    `json:"state" gorm:"size:2"`
	Zip        string    `json:"zip" gorm:"size:10"`
	Phone      string    `json:"phone"`

	// Lat/Lng mirror Location for set comparison and JSON output; Location is
	// the PostGIS point, written through the geometry adapter.
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Location *string  `json:"-" gorm:"type:geometry(Point,4326)"`
	// LocationFlagged marks a point inconsistent with the stated state
	// beyond the configured tolerance. Anomalies are flagged, not rejected.
	LocationFlagged bool `json:"location_flagged"`
}

// DataSource is the per-ingestor audit row, written unconditionally at the
// end of every ingestion attempt. Staleness decisions read from here.
type DataSource struct {
	SourceName   string    `json:"source_name" gorm:"primaryKey;size:40"`
	LastSync     time.Time `json:"last_sync"`
	Status       string    `json:"status" gorm:"size:10"` // success | partial | failed
	ErrorMessage string    `json:"error_message"`
	Inserted     int       `json:"inserted"`
	Updated      int       `json:"updated"`
	Unchanged    int       `json:"unchanged"`
	Conflicts    int       `json:"conflicts"`
}

// AddressCacheEntry maps a normalized address to its geocoded point. The
// normalized form is the only persisted key; raw inputs are kept for
// debugging only. Expired entries are treated as absent (lazy expiry).
type AddressCacheEntry struct {
	NormalizedAddress string    `json:"normalized_address" gorm:"primaryKey;size:255"`
	Address           string    `json:"address"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// FieldProvenance records which source last wrote each field of an entity,
// and at what rank. The source-priority merge consults this before
// overwriting anything.
type FieldProvenance struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	EntityType string    `gorm:"size:20;index:uniq_provenance,unique"`
	EntityID   uuid.UUID `gorm:"type:uuid;index:uniq_provenance,unique"`
	Field      string    `gorm:"size:40;index:uniq_provenance,unique"`
	SourceType string    `gorm:"size:40"`
	Rank       int
	ObservedAt time.Time
}

func (District) TableName() string {
	return "civic.districts"
}

func (Official) TableName() string {
	return "civic.officials"
}

func (Office) TableName() string {
	return "civic.offices"
}

func (DataSource) TableName() string {
	return "civic.data_sources"
}

func (AddressCacheEntry) TableName() string {
	return "civic.address_cache"
}

func (FieldProvenance) TableName() string {
	return "civic.field_provenance"
}

// IsCurrent reports whether the official currently holds office: no term_end,
// or a term_end in the future. Historical officials stay in the table but are
// excluded from resolution results.
func (o Official) IsCurrent(now time.Time) bool {
	return o.TermEnd == nil || o.TermEnd.After(now)
}
