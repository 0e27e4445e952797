package civic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"
)

// MaxBulkAddresses caps one bulk-lookup request. Oversized batches are
// rejected wholesale before any resolution begins.
const MaxBulkAddresses = 100

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geocoder is the external address → coordinate provider. Failures surface
// as ErrLookupFailed and are never cached.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// ResolverStore is the slice of the canonical store the resolver needs.
type ResolverStore interface {
	CacheGet(ctx context.Context, normalized string) (*AddressCacheEntry, error)
	CachePut(ctx context.Context, entry *AddressCacheEntry) error
	OfficialsByDistricts(ctx context.Context, districtIDs []uuid.UUID) ([]Official, error)
}

// Resolution is the answer to "who represents this address/location".
// Districts without a current official appear in Districts with no matching
// entry in Officials.
type Resolution struct {
	Address           string     `json:"address,omitempty"`
	NormalizedAddress string     `json:"normalized_address,omitempty"`
	Point             Point      `json:"point"`
	Districts         []District `json:"districts"`
	Officials         []Official `json:"officials"`
}

// BulkItem is one slot of a bulk resolution: either a result or an error,
// never both.
type BulkItem struct {
	Address string      `json:"address"`
	Result  *Resolution `json:"result"`
	Error   string      `json:"error,omitempty"`
}

// Resolver turns addresses and coordinates into district/official sets,
// absorbing geocoding cost through the address cache.
type Resolver struct {
	store    ResolverStore
	geo      GeometryStore
	geocoder Geocoder
	cfg      Config

	// limiter caps geocoder calls across single and bulk resolution.
	limiter *rate.Limiter

	now func() time.Time
}

func NewResolver(store ResolverStore, geo GeometryStore, geocoder Geocoder, cfg Config) *Resolver {
	return &Resolver{
		store:    store,
		geo:      geo,
		geocoder: geocoder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.GeocoderRPS), 1),
		now:      time.Now,
	}
}

// NormalizeAddress produces the cache key: Unicode case-folded, punctuation
// stripped, whitespace collapsed. The normalized form is the only key ever
// persisted.
func NormalizeAddress(raw string) string {
	folded := cases.Fold().String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ResolveAddress composes the read-through address cache with the spatial
// resolver.
func (r *Resolver) ResolveAddress(ctx context.Context, raw string) (*Resolution, error) {
	normalized := NormalizeAddress(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty address", ErrValidation)
	}

	pt, err := r.resolveCoordinate(ctx, raw, normalized)
	if err != nil {
		return nil, err
	}

	res, err := r.ResolvePoint(ctx, pt.Lat, pt.Lng)
	if err != nil {
		return nil, err
	}
	res.Address = raw
	res.NormalizedAddress = normalized
	return res, nil
}

// resolveCoordinate checks the cache first; on miss or expiry it geocodes
// and upserts the entry. An expired entry is treated as absent. Geocoder
// failure is surfaced, never cached, so the next request retries.
func (r *Resolver) resolveCoordinate(ctx context.Context, raw, normalized string) (Point, error) {
	now := r.now()

	entry, err := r.store.CacheGet(ctx, normalized)
	if err == nil && entry.ExpiresAt.After(now) {
		return Point{Lat: entry.Lat, Lng: entry.Lng}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Point{}, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	pt, err := r.geocoder.Geocode(ctx, raw)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Point{}, fmt.Errorf("%w: geocoding: %v", ErrTimeout, err)
		}
		return Point{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}

	// Upsert, not insert-only: geocoders occasionally correct prior answers.
	put := &AddressCacheEntry{
		NormalizedAddress: normalized,
		Address:           raw,
		Lat:               pt.Lat,
		Lng:               pt.Lng,
		ExpiresAt:         now.Add(r.cfg.CacheExpiry()),
	}
	if err := r.store.CachePut(ctx, put); err != nil {
		return Point{}, err
	}
	return pt, nil
}

// ResolvePoint returns every district containing the point and the current
// officials of those districts. Zero districts is a valid empty result.
func (r *Resolver) ResolvePoint(ctx context.Context, lat, lng float64) (*Resolution, error) {
	districts, err := r.geo.ContainingDistricts(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Point:     Point{Lat: lat, Lng: lng},
		Districts: districts,
		Officials: []Official{},
	}
	if len(districts) == 0 {
		res.Districts = []District{}
		return res, nil
	}

	ids := make([]uuid.UUID, 0, len(districts))
	for _, d := range districts {
		ids = append(ids, d.ID)
	}
	officials, err := r.store.OfficialsByDistricts(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := r.now()
	current := make([]Official, 0, len(officials))
	for _, o := range officials {
		if o.IsCurrent(now) {
			current = append(current, o)
		}
	}
	sortOfficials(current)
	res.Officials = current
	return res, nil
}

// ResolveMany fans out across addresses with a bounded worker pool. Each
// address resolves independently; results keep input order.
func (r *Resolver) ResolveMany(ctx context.Context, addresses []string) ([]BulkItem, error) {
	if len(addresses) > MaxBulkAddresses {
		return nil, fmt.Errorf("%w: %d addresses (max %d)", ErrBatchTooLarge, len(addresses), MaxBulkAddresses)
	}

	results := make([]BulkItem, len(addresses))
	jobs := make(chan int)

	workers := r.cfg.BulkWorkers
	if workers > len(addresses) {
		workers = len(addresses)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				addr := addresses[i]
				res, err := r.ResolveAddress(ctx, addr)
				if err != nil {
					results[i] = BulkItem{Address: addr, Error: err.Error()}
					continue
				}
				results[i] = BulkItem{Address: addr, Result: res}
			}
		}()
	}

	for i := range addresses {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

// Office-title precedence for ordering multiple officials of one district
// (vacancy/overlap during transitions returns all of them, highest first).
var titlePrecedence = []string{
	"president",
	"governor",
	"senator",
	"representative",
	"mayor",
	"commissioner",
	"council",
}

func titleRank(title string) int {
	t := strings.ToLower(title)
	for i, p := range titlePrecedence {
		if strings.Contains(t, p) {
			return i
		}
	}
	return len(titlePrecedence)
}

// sortOfficials groups officials by district, ordered by title precedence
// then name within a district.
func sortOfficials(officials []Official) {
	sort.SliceStable(officials, func(i, j int) bool {
		a, b := officials[i], officials[j]
		if a.DistrictID != b.DistrictID {
			return a.DistrictID.String() < b.DistrictID.String()
		}
		ra, rb := titleRank(a.OfficeTitle), titleRank(b.OfficeTitle)
		if ra != rb {
			return ra < rb
		}
		return a.FullName < b.FullName
	})
}
