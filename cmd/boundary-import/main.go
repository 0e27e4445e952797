package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// CLI flags
var (
	geojsonPath = flag.String("geojson", "", "Path to the GeoJSON FeatureCollection (required)")
	dsn         = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
	dryRun      = flag.Bool("dry-run", false, "Parse + validate only; no DB writes")
	confirm     = flag.Bool("confirm", false, "Required to write boundaries")
)

// Feature contract: each feature carries district_type, state_fips,
// district_code and optionally name in its properties, plus a Polygon or
// MultiPolygon geometry in EPSG:4326.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties struct {
		DistrictType string `json:"district_type"`
		StateFIPS    string `json:"state_fips"`
		DistrictCode string `json:"district_code"`
		Name         string `json:"name"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

func main() {
	_ = godotenv.Load(".env.local")
	flag.Parse()
	if *geojsonPath == "" {
		fatalf("--geojson is required")
	}
	if *dsn == "" {
		fatalf("--dsn not provided and DATABASE_URL not set")
	}

	features, err := loadFeatures(*geojsonPath)
	if err != nil {
		fatalf("GeoJSON error: %v", err)
	}
	if err := validateFeatures(features); err != nil {
		fatalf("GeoJSON validation failed: %v", err)
	}

	fmt.Printf("Loaded %d boundary features from %s\n", len(features), *geojsonPath)

	if *dryRun {
		printPlan(features)
		fmt.Println("Dry run complete. No changes made.")
		return
	}

	if !*confirm {
		fatalf("Refusing to run without --confirm. Add --dry-run to preview.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		fatalf("ping: %v", err)
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		fatalf("begin tx: %v", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op if already committed
	}()

	inserted, updated, err := upsertAll(ctx, tx, features)
	if err != nil {
		fatalf("upsert: %v", err)
	}

	if err := tx.Commit(); err != nil {
		fatalf("commit: %v", err)
	}
	fmt.Printf("Import complete: %d inserted, %d updated ✅\n", inserted, updated)
}

func loadFeatures(path string) ([]feature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fc featureCollection
	if err := json.NewDecoder(f).Decode(&fc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected a FeatureCollection, got %q", fc.Type)
	}
	return fc.Features, nil
}

func validateFeatures(features []feature) error {
	if len(features) == 0 {
		return errors.New("no features in collection")
	}
	type key struct{ t, s, c string }
	seen := make(map[key]struct{}, len(features))
	for i, f := range features {
		p := f.Properties
		if p.DistrictType == "" || p.StateFIPS == "" || p.DistrictCode == "" {
			return fmt.Errorf("feature %d: district_type, state_fips and district_code are all required", i)
		}
		if len(f.Geometry) == 0 {
			return fmt.Errorf("feature %d: missing geometry", i)
		}
		k := key{p.DistrictType, p.StateFIPS, p.DistrictCode}
		if _, dup := seen[k]; dup {
			return fmt.Errorf("feature %d: duplicate district %s/%s/%s", i, p.DistrictType, p.StateFIPS, p.DistrictCode)
		}
		seen[k] = struct{}{}
	}
	return nil
}

func printPlan(features []feature) {
	byType := map[string]int{}
	byState := map[string]struct{}{}
	for _, f := range features {
		byType[f.Properties.DistrictType]++
		byState[f.Properties.StateFIPS] = struct{}{}
	}
	fmt.Println("Plan preview:")
	for t, n := range byType {
		fmt.Printf("  %s: %d boundaries\n", t, n)
	}
	fmt.Printf("  States covered: %d\n", len(byState))
	fmt.Println("  Table affected: civic.districts (upsert on district_type, state_fips, district_code)")
}

func upsertAll(ctx context.Context, tx *sql.Tx, features []feature) (inserted, updated int64, err error) {
	// ST_Multi normalizes Polygon input; boundary_hash keeps the importer
	// idempotent with the sync path's change detection.
	q := `INSERT INTO civic.districts
	        (id, district_type, state_fips, district_code, name,
	         boundary, boundary_status, boundary_hash, created_at, updated_at)
	      VALUES (uuid_generate_v4(), $1, $2, $3, $4,
	              ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($5), 4326)), 'synced', $6, now(), now())
	      ON CONFLICT (district_type, state_fips, district_code) DO UPDATE SET
	        name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE civic.districts.name END,
	        boundary = EXCLUDED.boundary,
	        boundary_status = 'synced',
	        boundary_hash = EXCLUDED.boundary_hash,
	        updated_at = now()
	      RETURNING (xmax = 0) AS inserted`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for _, f := range features {
		p := f.Properties
		geom := string(f.Geometry)
		sum := sha256.Sum256(f.Geometry)
		hash := hex.EncodeToString(sum[:])

		var wasInsert bool
		if err := stmt.QueryRowContext(ctx,
			p.DistrictType, p.StateFIPS, p.DistrictCode, p.Name, geom, hash,
		).Scan(&wasInsert); err != nil {
			return inserted, updated, fmt.Errorf("upsert %s/%s/%s: %w", p.DistrictType, p.StateFIPS, p.DistrictCode, err)
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
