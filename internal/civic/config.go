package civic

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the policy values the sync and resolution engines depend on.
// Source ranks and the office location tolerance are deliberately not
// hard-coded: they are editorial decisions about which upstream to trust.
type Config struct {
	// SourceRanks maps an ingestor name to its trust rank. A field written
	// by a higher-rank source is never overwritten by a lower-rank one.
	SourceRanks map[string]int `yaml:"source_ranks"`

	// CacheExpiryDays is the TTL for geocoded address cache entries.
	CacheExpiryDays int `yaml:"cache_expiry_days"`

	// GeocoderRPS caps outbound geocoding calls across all requests.
	GeocoderRPS float64 `yaml:"geocoder_rps"`

	// BulkWorkers bounds the fan-out of bulk address resolution.
	BulkWorkers int `yaml:"bulk_workers"`

	// SourceTimeoutSeconds bounds a single source's ingest + reconcile.
	SourceTimeoutSeconds int `yaml:"source_timeout_seconds"`

	// OfficeToleranceKm is the sanity distance between an office point and
	// its stated state before the office is flagged (never rejected).
	OfficeToleranceKm float64 `yaml:"office_tolerance_km"`
}

// Default trust ordering: the roster API is authoritative for people,
// the Census boundary feed for geometry, the office scrape trails both.
func defaultConfig() Config {
	return Config{
		SourceRanks: map[string]int{
			"openstates": 100,
			"tiger":      90,
			"officefeed": 50,
		},
		CacheExpiryDays:      30,
		GeocoderRPS:          10,
		BulkWorkers:          8,
		SourceTimeoutSeconds: 120,
		OfficeToleranceKm:    25,
	}
}

// LoadConfig reads civic.yaml (or the file named by CIVIC_CONFIG) and then
// applies environment overrides. A missing file is not an error; defaults
// apply.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	path := os.Getenv("CIVIC_CONFIG")
	if path == "" {
		path = "civic.yaml"
	}

	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.CacheExpiryDays <= 0 {
		cfg.CacheExpiryDays = 30
	}
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 8
	}
	if cfg.GeocoderRPS <= 0 {
		cfg.GeocoderRPS = 10
	}
	if cfg.SourceTimeoutSeconds <= 0 {
		cfg.SourceTimeoutSeconds = 120
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CACHE_EXPIRY_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheExpiryDays = n
		}
	}
	if v := os.Getenv("GEOCODER_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GeocoderRPS = f
		}
	}
	if v := os.Getenv("BULK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BulkWorkers = n
		}
	}
	if v := os.Getenv("SOURCE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SourceTimeoutSeconds = n
		}
	}
	if v := os.Getenv("OFFICE_TOLERANCE_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OfficeToleranceKm = f
		}
	}

	// SOURCE_RANKS="openstates=100,tiger=90"
	if v := os.Getenv("SOURCE_RANKS"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			name, rank, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimSpace(rank)); err == nil {
				cfg.SourceRanks[strings.TrimSpace(name)] = n
			}
		}
	}
}

// Rank returns the trust rank for a source. Unknown sources rank lowest so a
// misconfigured ingestor can never clobber curated data.
func (c Config) Rank(source string) int {
	if r, ok := c.SourceRanks[source]; ok {
		return r
	}
	return 0
}

// SourceTimeout returns the per-source sync deadline as a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

// CacheExpiry returns the address cache TTL as a duration.
func (c Config) CacheExpiry() time.Duration {
	return time.Duration(c.CacheExpiryDays) * 24 * time.Hour
}
