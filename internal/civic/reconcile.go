package civic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CivicDataHub/CDH-Backend/internal/civic/ingest"
	"github.com/google/uuid"
)

// Entity type keys for write serialization and provenance rows.
const (
	entityDistrict = "district"
	entityOfficial = "official"
	entityOffice   = "office"
)

// ReconcileStore is the slice of the canonical store the reconciler needs.
type ReconcileStore interface {
	DistrictByKey(ctx context.Context, districtType, stateFIPS, code string) (*District, error)
	InsertDistrict(ctx context.Context, d *District) error
	UpdateDistrict(ctx context.Context, id uuid.UUID, fields map[string]any) error
	SyncedDistricts(ctx context.Context) ([]District, error)
	MarkDistrictStale(ctx context.Context, id uuid.UUID) error

	OfficialBySource(ctx context.Context, sourceType, sourceID string) (*Official, error)
	OfficialByNameAndDistrict(ctx context.Context, fullName string, districtID uuid.UUID) (*Official, error)
	InsertOfficial(ctx context.Context, o *Official) error
	UpdateOfficial(ctx context.Context, id uuid.UUID, fields map[string]any) error

	OfficesByOfficial(ctx context.Context, officialID uuid.UUID) ([]Office, error)
	ReplaceOffices(ctx context.Context, officialID uuid.UUID, offices []Office) error

	Provenance(ctx context.Context, entityType string, entityID uuid.UUID) (map[string]FieldProvenance, error)
	SaveProvenance(ctx context.Context, rows []FieldProvenance) error
}

// Report counts the outcome of one reconcile pass. Conflicts cover both
// rejected drafts and drafts fully blocked by higher-priority field values.
type Report struct {
	Inserted  int      `json:"inserted"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Conflicts int      `json:"conflicts"`
	Warnings  []string `json:"warnings,omitempty"`
}

func (r *Report) add(other Report) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Conflicts += other.Conflicts
	r.Warnings = append(r.Warnings, other.Warnings...)
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Reconciler merges normalized drafts into the canonical store. Writes are
// serialized per entity type; different entity types may reconcile
// concurrently since their tables and natural keys are disjoint.
type Reconciler struct {
	store ReconcileStore
	geo   GeometryStore
	cfg   Config
	locks map[string]*sync.Mutex
}

func NewReconciler(store ReconcileStore, geo GeometryStore, cfg Config) *Reconciler {
	return &Reconciler{
		store: store,
		geo:   geo,
		cfg:   cfg,
		locks: map[string]*sync.Mutex{
			entityDistrict: {},
			entityOfficial: {},
			entityOffice:   {},
		},
	}
}

// ReconcileBatch processes everything one source produced. Record-level
// problems become conflicts and never abort the batch; store failures do.
func (r *Reconciler) ReconcileBatch(ctx context.Context, source string, batch ingest.Batch) (Report, error) {
	var rep Report
	rep.Warnings = append(rep.Warnings, batch.Warnings...)

	drep, err := r.reconcileDistricts(ctx, source, batch)
	rep.add(drep)
	if err != nil {
		return rep, err
	}

	orep, err := r.reconcileOfficials(ctx, source, batch.Officials)
	rep.add(orep)
	if err != nil {
		return rep, err
	}

	frep, err := r.reconcileOffices(ctx, source, batch.Offices)
	rep.add(frep)
	return rep, err
}

// --- districts ---

func (r *Reconciler) reconcileDistricts(ctx context.Context, source string, batch ingest.Batch) (Report, error) {
	var rep Report
	if len(batch.Districts) == 0 && !batch.FullBoundarySet {
		return rep, nil
	}

	mu := r.locks[entityDistrict]
	mu.Lock()
	defer mu.Unlock()

	drafts := mergeDistrictDrafts(batch.Districts)
	seen := make(map[ingest.DistrictKey]bool, len(drafts))

	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if d.DistrictType == "" || d.DistrictCode == "" {
			rep.Conflicts++
			rep.warnf("district draft missing type or code (name=%q)", d.Name)
			continue
		}

		hash := ""
		if d.BoundaryGeoJSON != "" {
			if err := r.geo.ValidateBoundary(ctx, d.BoundaryGeoJSON); err != nil {
				if errors.Is(err, ErrValidation) {
					rep.Conflicts++
					rep.warnf("district %s/%s/%s: %v", d.DistrictType, d.StateFIPS, d.DistrictCode, err)
					continue
				}
				return rep, err
			}
			hash = geojsonHash(d.BoundaryGeoJSON)
		}
		seen[d.DistrictKey] = true

		existing, err := r.store.DistrictByKey(ctx, d.DistrictType, d.StateFIPS, d.DistrictCode)
		switch {
		case errors.Is(err, ErrNotFound):
			// Code equality is authoritative: an unmatched boundary code
			// creates a new district, never attaches to a nearby one.
			nd := &District{
				ID:             uuid.New(),
				DistrictType:   d.DistrictType,
				StateFIPS:      d.StateFIPS,
				DistrictCode:   d.DistrictCode,
				Name:           d.Name,
				BoundaryStatus: BoundaryPending,
				BoundaryHash:   hash,
			}
			if err := r.store.InsertDistrict(ctx, nd); err != nil {
				return rep, err
			}
			fields := []string{}
			if d.Name != "" {
				fields = append(fields, "name")
			}
			if d.BoundaryGeoJSON != "" {
				if err := r.geo.UpsertBoundary(ctx, nd.ID, d.BoundaryGeoJSON); err != nil {
					return rep, err
				}
				fields = append(fields, "boundary")
			}
			if err := r.recordProvenance(ctx, entityDistrict, nd.ID, source, fields); err != nil {
				return rep, err
			}
			rep.Inserted++

		case err != nil:
			return rep, err

		default:
			urep, err := r.updateDistrict(ctx, source, existing, d, hash)
			rep.add(urep)
			if err != nil {
				return rep, err
			}
		}
	}

	if batch.FullBoundarySet {
		stale, err := r.markUnseenStale(ctx, seen, &rep)
		if err != nil {
			return rep, err
		}
		if stale > 0 {
			rep.warnf("%d district(s) absent from full boundary sync, marked stale", stale)
		}
	}

	return rep, nil
}

func (r *Reconciler) updateDistrict(ctx context.Context, source string, existing *District, d ingest.DistrictDraft, hash string) (Report, error) {
	var rep Report

	changes := map[string]any{}
	if d.Name != "" && d.Name != existing.Name {
		changes["name"] = d.Name
	}
	boundaryChanged := d.BoundaryGeoJSON != "" && hash != existing.BoundaryHash
	if boundaryChanged {
		changes["boundary"] = d.BoundaryGeoJSON
	}

	allowed, blocked, prov, err := r.applyPriority(ctx, entityDistrict, existing.ID, source, changes)
	if err != nil {
		return rep, err
	}

	updates := map[string]any{}
	if v, ok := allowed["name"]; ok {
		updates["name"] = v
	}
	if _, ok := allowed["boundary"]; ok {
		if err := r.geo.UpsertBoundary(ctx, existing.ID, d.BoundaryGeoJSON); err != nil {
			return rep, err
		}
		updates["boundary_hash"] = hash
	} else if d.BoundaryGeoJSON != "" && !boundaryChanged && existing.BoundaryStatus != BoundarySynced {
		// Identical boundary re-sighted: revive a pending/stale district
		// without counting it as an update.
		if err := r.store.UpdateDistrict(ctx, existing.ID, map[string]any{"boundary_status": BoundarySynced}); err != nil {
			return rep, err
		}
	}

	for _, f := range blocked {
		rep.warnf("district %s/%s/%s: field %q kept from higher-priority source",
			d.DistrictType, d.StateFIPS, d.DistrictCode, f)
	}

	switch {
	case len(updates) > 0:
		if err := r.store.UpdateDistrict(ctx, existing.ID, updates); err != nil {
			return rep, err
		}
		if err := r.store.SaveProvenance(ctx, prov); err != nil {
			return rep, err
		}
		rep.Updated++
	case len(blocked) > 0:
		rep.Conflicts++
	default:
		rep.Unchanged++
	}
	return rep, nil
}

func (r *Reconciler) markUnseenStale(ctx context.Context, seen map[ingest.DistrictKey]bool, rep *Report) (int, error) {
	synced, err := r.store.SyncedDistricts(ctx)
	if err != nil {
		return 0, err
	}
	stale := 0
	for _, d := range synced {
		key := ingest.DistrictKey{DistrictType: d.DistrictType, StateFIPS: d.StateFIPS, DistrictCode: d.DistrictCode}
		if seen[key] {
			continue
		}
		if err := r.store.MarkDistrictStale(ctx, d.ID); err != nil {
			return stale, err
		}
		stale++
	}
	return stale, nil
}

// --- officials ---

func (r *Reconciler) reconcileOfficials(ctx context.Context, source string, drafts []ingest.OfficialDraft) (Report, error) {
	var rep Report
	if len(drafts) == 0 {
		return rep, nil
	}

	mu := r.locks[entityOfficial]
	mu.Lock()
	defer mu.Unlock()

	for _, d := range mergeOfficialDrafts(drafts) {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if d.FullName == "" {
			rep.Conflicts++
			rep.warnf("official draft missing full name (source_id=%q)", d.SourceID)
			continue
		}
		if d.TermStart != nil && d.TermEnd != nil && d.TermEnd.Before(*d.TermStart) {
			rep.Conflicts++
			rep.warnf("official %q: term_end precedes term_start", d.FullName)
			continue
		}
		if d.District.DistrictType == "" || d.District.DistrictCode == "" {
			rep.Conflicts++
			rep.warnf("official %q: missing district reference", d.FullName)
			continue
		}

		districtID, created, err := r.ensureDistrict(ctx, d.District)
		if err != nil {
			return rep, err
		}
		if created {
			rep.warnf("official %q: created placeholder district %s/%s/%s (geometry pending)",
				d.FullName, d.District.DistrictType, d.District.StateFIPS, d.District.DistrictCode)
		}

		existing, err := r.matchOfficial(ctx, d, districtID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return rep, err
		}

		if existing == nil {
			no := &Official{
				ID:          uuid.New(),
				DistrictID:  districtID,
				FullName:    d.FullName,
				OfficeTitle: d.OfficeTitle,
				Party:       d.Party,
				Email:       d.Email,
				Phone:       d.Phone,
				Website:     d.Website,
				TermStart:   d.TermStart,
				TermEnd:     d.TermEnd,
				SourceType:  d.SourceType,
				SourceID:    d.SourceID,
				LastSynced:  time.Now(),
			}
			if err := r.store.InsertOfficial(ctx, no); err != nil {
				return rep, err
			}
			if err := r.recordProvenance(ctx, entityOfficial, no.ID, source, suppliedOfficialFields(d)); err != nil {
				return rep, err
			}
			rep.Inserted++
			continue
		}

		changes := officialFieldChanges(existing, d, districtID)
		allowed, blocked, prov, err := r.applyPriority(ctx, entityOfficial, existing.ID, source, changes)
		if err != nil {
			return rep, err
		}
		for _, f := range blocked {
			rep.warnf("official %q: field %q kept from higher-priority source", d.FullName, f)
		}

		switch {
		case len(allowed) > 0:
			allowed["last_synced"] = time.Now()
			if err := r.store.UpdateOfficial(ctx, existing.ID, allowed); err != nil {
				return rep, err
			}
			if err := r.store.SaveProvenance(ctx, prov); err != nil {
				return rep, err
			}
			rep.Updated++
		case len(blocked) > 0:
			rep.Conflicts++
		default:
			rep.Unchanged++
		}
	}

	return rep, nil
}

// matchOfficial resolves a draft to an existing row: provenance identity
// first, full-name + district as the fallback when provenance is absent.
func (r *Reconciler) matchOfficial(ctx context.Context, d ingest.OfficialDraft, districtID uuid.UUID) (*Official, error) {
	if d.SourceType != "" && d.SourceID != "" {
		o, err := r.store.OfficialBySource(ctx, d.SourceType, d.SourceID)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.store.OfficialByNameAndDistrict(ctx, d.FullName, districtID)
}

// ensureDistrict resolves a district reference, creating a placeholder
// (code/type only, geometry pending) for a district no source has sent yet.
func (r *Reconciler) ensureDistrict(ctx context.Context, key ingest.DistrictKey) (uuid.UUID, bool, error) {
	mu := r.locks[entityDistrict]
	mu.Lock()
	defer mu.Unlock()

	d, err := r.store.DistrictByKey(ctx, key.DistrictType, key.StateFIPS, key.DistrictCode)
	if err == nil {
		return d.ID, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, false, err
	}

	nd := &District{
		ID:             uuid.New(),
		DistrictType:   key.DistrictType,
		StateFIPS:      key.StateFIPS,
		DistrictCode:   key.DistrictCode,
		BoundaryStatus: BoundaryPending,
	}
	if err := r.store.InsertDistrict(ctx, nd); err != nil {
		return uuid.Nil, false, err
	}
	return nd.ID, true, nil
}

// --- offices ---

func (r *Reconciler) reconcileOffices(ctx context.Context, source string, drafts []ingest.OfficeDraft) (Report, error) {
	var rep Report
	if len(drafts) == 0 {
		return rep, nil
	}

	mu := r.locks[entityOffice]
	mu.Lock()
	defer mu.Unlock()

	type officialRef struct{ sourceType, sourceID string }
	grouped := make(map[officialRef][]ingest.OfficeDraft)
	var order []officialRef
	for _, d := range drafts {
		ref := officialRef{d.OfficialSourceType, d.OfficialSourceID}
		if _, ok := grouped[ref]; !ok {
			order = append(order, ref)
		}
		grouped[ref] = append(grouped[ref], d)
	}

	for _, ref := range order {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		if ref.sourceType == "" || ref.sourceID == "" {
			rep.Conflicts++
			rep.warnf("office draft(s) missing official provenance")
			continue
		}

		official, err := r.store.OfficialBySource(ctx, ref.sourceType, ref.sourceID)
		if errors.Is(err, ErrNotFound) {
			rep.Conflicts++
			rep.warnf("offices for unknown official %s/%s", ref.sourceType, ref.sourceID)
			continue
		}
		if err != nil {
			return rep, err
		}

		newSet := make([]Office, 0, len(grouped[ref]))
		for _, d := range grouped[ref] {
			o := Office{
				ID:         uuid.New(),
				OfficialID: official.ID,
				OfficeType: d.OfficeType,
				Address1:   d.Address1,
				Address2:   d.Address2,
				City:       d.City,
				State:      d.State,
				Zip:        d.Zip,
				Phone:      d.Phone,
				Lat:        d.Lat,
				Lng:        d.Lng,
			}
			if d.Lat != nil && d.Lng != nil && d.State != "" {
				fips := ingest.StateFIPS(d.State)
				within, err := r.geo.WithinStateTolerance(ctx, fips, *d.Lat, *d.Lng, r.cfg.OfficeToleranceKm)
				if err != nil {
					return rep, err
				}
				if !within {
					o.LocationFlagged = true
					rep.warnf("office for %q: location outside %s tolerance, flagged", official.FullName, d.State)
				}
			}
			newSet = append(newSet, o)
		}

		existingSet, err := r.store.OfficesByOfficial(ctx, official.ID)
		if err != nil {
			return rep, err
		}
		if officeSetsEqual(existingSet, newSet) {
			rep.Unchanged++
			continue
		}

		// Offices are a versioned unit: the set is replaced, not diffed.
		if err := r.store.ReplaceOffices(ctx, official.ID, newSet); err != nil {
			return rep, err
		}
		for _, o := range newSet {
			if o.Lat != nil && o.Lng != nil {
				if err := r.geo.UpsertOfficePoint(ctx, o.ID, *o.Lat, *o.Lng); err != nil {
					return rep, err
				}
			}
		}
		if len(existingSet) == 0 {
			rep.Inserted++
		} else {
			rep.Updated++
		}
	}

	return rep, nil
}

// --- merge / priority helpers ---

// applyPriority splits changed fields into those this source may write and
// those held by a higher-rank source. Equal rank goes to the newcomer (most
// recently observed value wins ties).
func (r *Reconciler) applyPriority(ctx context.Context, entityType string, id uuid.UUID, source string, changes map[string]any) (allowed map[string]any, blocked []string, prov []FieldProvenance, err error) {
	if len(changes) == 0 {
		return nil, nil, nil, nil
	}

	existing, err := r.store.Provenance(ctx, entityType, id)
	if err != nil {
		return nil, nil, nil, err
	}

	rank := r.cfg.Rank(source)
	now := time.Now()
	allowed = make(map[string]any, len(changes))

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if p, ok := existing[field]; ok && rank < p.Rank {
			blocked = append(blocked, field)
			continue
		}
		allowed[field] = changes[field]
		prov = append(prov, FieldProvenance{
			ID:         uuid.New(),
			EntityType: entityType,
			EntityID:   id,
			Field:      field,
			SourceType: source,
			Rank:       rank,
			ObservedAt: now,
		})
	}
	return allowed, blocked, prov, nil
}

func (r *Reconciler) recordProvenance(ctx context.Context, entityType string, id uuid.UUID, source string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	rank := r.cfg.Rank(source)
	now := time.Now()
	rows := make([]FieldProvenance, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, FieldProvenance{
			ID:         uuid.New(),
			EntityType: entityType,
			EntityID:   id,
			Field:      f,
			SourceType: source,
			Rank:       rank,
			ObservedAt: now,
		})
	}
	return r.store.SaveProvenance(ctx, rows)
}

// mergeDistrictDrafts collapses in-batch duplicates of the same natural key
// left-to-right; a later draft's supplied fields win.
func mergeDistrictDrafts(drafts []ingest.DistrictDraft) []ingest.DistrictDraft {
	byKey := make(map[ingest.DistrictKey]int)
	var out []ingest.DistrictDraft
	for _, d := range drafts {
		i, ok := byKey[d.DistrictKey]
		if !ok {
			byKey[d.DistrictKey] = len(out)
			out = append(out, d)
			continue
		}
		if d.Name != "" {
			out[i].Name = d.Name
		}
		if d.BoundaryGeoJSON != "" {
			out[i].BoundaryGeoJSON = d.BoundaryGeoJSON
		}
	}
	return out
}

func mergeOfficialDrafts(drafts []ingest.OfficialDraft) []ingest.OfficialDraft {
	type key struct {
		sourceType, sourceID string
		name                 string
		district             ingest.DistrictKey
	}
	draftKey := func(d ingest.OfficialDraft) key {
		if d.SourceType != "" && d.SourceID != "" {
			return key{sourceType: d.SourceType, sourceID: d.SourceID}
		}
		return key{name: d.FullName, district: d.District}
	}

	byKey := make(map[key]int)
	var out []ingest.OfficialDraft
	for _, d := range drafts {
		k := draftKey(d)
		i, ok := byKey[k]
		if !ok {
			byKey[k] = len(out)
			out = append(out, d)
			continue
		}
		merged := out[i]
		if d.FullName != "" {
			merged.FullName = d.FullName
		}
		if d.OfficeTitle != "" {
			merged.OfficeTitle = d.OfficeTitle
		}
		if d.Party != "" {
			merged.Party = d.Party
		}
		if d.Email != "" {
			merged.Email = d.Email
		}
		if d.Phone != "" {
			merged.Phone = d.Phone
		}
		if d.Website != "" {
			merged.Website = d.Website
		}
		if d.TermStart != nil {
			merged.TermStart = d.TermStart
		}
		if d.TermEnd != nil {
			merged.TermEnd = d.TermEnd
		}
		if d.District.DistrictCode != "" {
			merged.District = d.District
		}
		out[i] = merged
	}
	return out
}

// officialFieldChanges compares the supplied draft fields against the stored
// row. Empty draft fields mean "not supplied" and never erase data.
func officialFieldChanges(existing *Official, d ingest.OfficialDraft, districtID uuid.UUID) map[string]any {
	ch := map[string]any{}
	if d.FullName != "" && d.FullName != existing.FullName {
		ch["full_name"] = d.FullName
	}
	if d.OfficeTitle != "" && d.OfficeTitle != existing.OfficeTitle {
		ch["office_title"] = d.OfficeTitle
	}
	if d.Party != "" && d.Party != existing.Party {
		ch["party"] = d.Party
	}
	if d.Email != "" && d.Email != existing.Email {
		ch["email"] = d.Email
	}
	if d.Phone != "" && d.Phone != existing.Phone {
		ch["phone"] = d.Phone
	}
	if d.Website != "" && d.Website != existing.Website {
		ch["website"] = d.Website
	}
	if d.TermStart != nil && !timeEqualPtr(d.TermStart, existing.TermStart) {
		ch["term_start"] = *d.TermStart
	}
	if d.TermEnd != nil && !timeEqualPtr(d.TermEnd, existing.TermEnd) {
		ch["term_end"] = *d.TermEnd
	}
	if districtID != existing.DistrictID {
		ch["district_id"] = districtID
	}
	return ch
}

func suppliedOfficialFields(d ingest.OfficialDraft) []string {
	var fields []string
	if d.FullName != "" {
		fields = append(fields, "full_name")
	}
	if d.OfficeTitle != "" {
		fields = append(fields, "office_title")
	}
	if d.Party != "" {
		fields = append(fields, "party")
	}
	if d.Email != "" {
		fields = append(fields, "email")
	}
	if d.Phone != "" {
		fields = append(fields, "phone")
	}
	if d.Website != "" {
		fields = append(fields, "website")
	}
	if d.TermStart != nil {
		fields = append(fields, "term_start")
	}
	if d.TermEnd != nil {
		fields = append(fields, "term_end")
	}
	return fields
}

func timeEqualPtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func officeSetsEqual(a, b []Office) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(o Office) string {
		lat, lng := "", ""
		if o.Lat != nil {
			lat = fmt.Sprintf("%.6f", *o.Lat)
		}
		if o.Lng != nil {
			lng = fmt.Sprintf("%.6f", *o.Lng)
		}
		return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s",
			o.OfficeType, o.Address1, o.Address2, o.City, o.State, o.Zip, o.Phone, lat, lng)
	}
	ak := make([]string, len(a))
	bk := make([]string, len(b))
	for i := range a {
		ak[i] = key(a[i])
	}
	for i := range b {
		bk[i] = key(b[i])
	}
	sort.Strings(ak)
	sort.Strings(bk)
	for i := range ak {
		if ak[i] != bk[i] {
			return false
		}
	}
	return true
}

func geojsonHash(geojson string) string {
	sum := sha256.Sum256([]byte(geojson))
	return hex.EncodeToString(sum[:])
}
