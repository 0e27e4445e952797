package civic_test

import (
	"context"
	"fmt"
	"strings"
	"sync"

	civic "github.com/CivicDataHub/CDH-Backend/internal/civic"
	"github.com/google/uuid"
)

// testConfig returns a Config suitable for fast tests: no geocoder
// throttling, default trust ranks.
func testConfig() civic.Config {
	return civic.Config{
		SourceRanks: map[string]int{
			"openstates": 100,
			"tiger":      90,
			"officefeed": 50,
		},
		CacheExpiryDays:      30,
		GeocoderRPS:          1000,
		BulkWorkers:          4,
		SourceTimeoutSeconds: 120,
		OfficeToleranceKm:    25,
	}
}

// fakeStore is an in-memory stand-in for the canonical store. It implements
// ReconcileStore, ResolverStore, StatusStore and ServiceStore.
type fakeStore struct {
	mu sync.Mutex

	districts map[uuid.UUID]*civic.District
	officials map[uuid.UUID]*civic.Official
	offices   map[uuid.UUID][]civic.Office
	prov      map[string]civic.FieldProvenance
	cache     map[string]civic.AddressCacheEntry
	sources   map[string]civic.DataSource

	cachePuts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		districts: map[uuid.UUID]*civic.District{},
		officials: map[uuid.UUID]*civic.Official{},
		offices:   map[uuid.UUID][]civic.Office{},
		prov:      map[string]civic.FieldProvenance{},
		cache:     map[string]civic.AddressCacheEntry{},
		sources:   map[string]civic.DataSource{},
	}
}

func provKey(entityType string, id uuid.UUID, field string) string {
	return entityType + "|" + id.String() + "|" + field
}

// --- ReconcileStore ---

func (s *fakeStore) DistrictByKey(ctx context.Context, districtType, stateFIPS, code string) (*civic.District, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.districts {
		if d.DistrictType == districtType && d.StateFIPS == stateFIPS && d.DistrictCode == code {
			cp := *d
			return &cp, nil
		}
	}
	return nil, civic.ErrNotFound
}

func (s *fakeStore) InsertDistrict(ctx context.Context, d *civic.District) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.districts[d.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateDistrict(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.districts[id]
	if !ok {
		return civic.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "name":
			d.Name = v.(string)
		case "boundary_hash":
			d.BoundaryHash = v.(string)
		case "boundary_status":
			d.BoundaryStatus = v.(string)
		}
	}
	return nil
}

func (s *fakeStore) SyncedDistricts(ctx context.Context) ([]civic.District, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []civic.District
	for _, d := range s.districts {
		if d.BoundaryStatus == civic.BoundarySynced {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkDistrictStale(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.districts[id]
	if !ok {
		return civic.ErrNotFound
	}
	d.BoundaryStatus = civic.BoundaryStale
	return nil
}

func (s *fakeStore) OfficialBySource(ctx context.Context, sourceType, sourceID string) (*civic.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.officials {
		if o.SourceType == sourceType && o.SourceID == sourceID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, civic.ErrNotFound
}

func (s *fakeStore) OfficialByNameAndDistrict(ctx context.Context, fullName string, districtID uuid.UUID) (*civic.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.officials {
		if strings.EqualFold(o.FullName, fullName) && o.DistrictID == districtID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, civic.ErrNotFound
}

func (s *fakeStore) InsertOfficial(ctx context.Context, o *civic.Official) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.officials[o.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateOfficial(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.officials[id]
	if !ok {
		return civic.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "full_name":
			o.FullName = v.(string)
		case "office_title":
			o.OfficeTitle = v.(string)
		case "party":
			o.Party = v.(string)
		case "email":
			o.Email = v.(string)
		case "phone":
			o.Phone = v.(string)
		case "website":
			o.Website = v.(string)
		case "district_id":
			o.DistrictID = v.(uuid.UUID)
		}
	}
	return nil
}

func (s *fakeStore) OfficesByOfficial(ctx context.Context, officialID uuid.UUID) ([]civic.Office, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]civic.Office(nil), s.offices[officialID]...), nil
}

func (s *fakeStore) ReplaceOffices(ctx context.Context, officialID uuid.UUID, offices []civic.Office) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offices[officialID] = append([]civic.Office(nil), offices...)
	return nil
}

func (s *fakeStore) Provenance(ctx context.Context, entityType string, entityID uuid.UUID) (map[string]civic.FieldProvenance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]civic.FieldProvenance{}
	for _, p := range s.prov {
		if p.EntityType == entityType && p.EntityID == entityID {
			out[p.Field] = p
		}
	}
	return out, nil
}

func (s *fakeStore) SaveProvenance(ctx context.Context, rows []civic.FieldProvenance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range rows {
		s.prov[provKey(p.EntityType, p.EntityID, p.Field)] = p
	}
	return nil
}

// --- ResolverStore ---

func (s *fakeStore) CacheGet(ctx context.Context, normalized string) (*civic.AddressCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache[normalized]
	if !ok {
		return nil, civic.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (s *fakeStore) CachePut(ctx context.Context, entry *civic.AddressCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachePuts++
	s.cache[entry.NormalizedAddress] = *entry
	return nil
}

func (s *fakeStore) OfficialsByDistricts(ctx context.Context, districtIDs []uuid.UUID) ([]civic.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range districtIDs {
		want[id] = true
	}
	var out []civic.Official
	for _, o := range s.officials {
		if want[o.DistrictID] {
			out = append(out, *o)
		}
	}
	return out, nil
}

// --- StatusStore ---

func (s *fakeStore) UpsertDataSource(ctx context.Context, ds *civic.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[ds.SourceName] = *ds
	return nil
}

// --- ServiceStore ---

func (s *fakeStore) OfficialByID(ctx context.Context, id uuid.UUID) (*civic.Official, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.officials[id]
	if !ok {
		return nil, civic.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) DistrictByID(ctx context.Context, id uuid.UUID) (*civic.District, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.districts[id]
	if !ok {
		return nil, civic.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) SearchDistricts(ctx context.Context, query, districtType, stateFIPS string) ([]civic.DistrictFeature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []civic.DistrictFeature
	for _, d := range s.districts {
		if !strings.Contains(strings.ToLower(d.Name), strings.ToLower(query)) {
			continue
		}
		if districtType != "" && d.DistrictType != districtType {
			continue
		}
		if stateFIPS != "" && d.StateFIPS != stateFIPS {
			continue
		}
		out = append(out, civic.DistrictFeature{District: *d})
	}
	return out, nil
}

func (s *fakeStore) DataSources(ctx context.Context) ([]civic.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []civic.DataSource
	for _, ds := range s.sources {
		out = append(out, ds)
	}
	return out, nil
}

// districtByKey is a test helper for direct state inspection.
func (s *fakeStore) districtByKey(districtType, stateFIPS, code string) *civic.District {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.districts {
		if d.DistrictType == districtType && d.StateFIPS == stateFIPS && d.DistrictCode == code {
			cp := *d
			return &cp
		}
	}
	return nil
}

func (s *fakeStore) officialBySource(sourceType, sourceID string) *civic.Official {
	o, err := s.OfficialBySource(context.Background(), sourceType, sourceID)
	if err != nil {
		return nil
	}
	return o
}

// fakeGeo is an in-memory GeometryStore. Boundary writes mark the backing
// district synced, mirroring the real adapter.
type fakeGeo struct {
	mu    sync.Mutex
	store *fakeStore

	invalid        map[string]bool
	containing     []civic.District
	features       []civic.DistrictFeature
	outsideState   bool
	boundaryWrites int
	pointWrites    int
}

func newFakeGeo(store *fakeStore) *fakeGeo {
	return &fakeGeo{store: store, invalid: map[string]bool{}}
}

func (g *fakeGeo) ValidateBoundary(ctx context.Context, geojson string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.invalid[geojson] {
		return fmt.Errorf("%w: self-intersecting or malformed multi-polygon", civic.ErrValidation)
	}
	return nil
}

func (g *fakeGeo) UpsertBoundary(ctx context.Context, districtID uuid.UUID, geojson string) error {
	g.mu.Lock()
	g.boundaryWrites++
	g.mu.Unlock()

	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	d, ok := g.store.districts[districtID]
	if !ok {
		return civic.ErrNotFound
	}
	d.Boundary = &geojson
	d.BoundaryStatus = civic.BoundarySynced
	return nil
}

func (g *fakeGeo) ContainingDistricts(ctx context.Context, lat, lng float64) ([]civic.District, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]civic.District(nil), g.containing...), nil
}

func (g *fakeGeo) ContainingDistrictFeatures(ctx context.Context, lat, lng float64) ([]civic.DistrictFeature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]civic.DistrictFeature(nil), g.features...), nil
}

func (g *fakeGeo) UpsertOfficePoint(ctx context.Context, officeID uuid.UUID, lat, lng float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pointWrites++
	return nil
}

func (g *fakeGeo) WithinStateTolerance(ctx context.Context, stateFIPS string, lat, lng, toleranceKm float64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.outsideState, nil
}

// fakeGeocoder counts calls and delegates to fn.
type fakeGeocoder struct {
	mu    sync.Mutex
	calls int
	fn    func(address string) (civic.Point, error)
}

func (g *fakeGeocoder) Geocode(ctx context.Context, address string) (civic.Point, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.fn == nil {
		return civic.Point{Lat: 39.77, Lng: -86.15}, nil
	}
	return g.fn(address)
}

func (g *fakeGeocoder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
