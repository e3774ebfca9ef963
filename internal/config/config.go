// Package config loads runtime settings from the environment and the per-store YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/catalogfeed/pkg/types"
)

// Environment variable prefix
const envPrefix = "CATALOGFEED_"

// Config holds the settings for every command
type Config struct {
	DBPath        string
	CatalogDBPath string
	TmpDir        string
	Debug         bool
	RetainFiles   bool
	BatchSize     int
	LogLevel      string
	MetricsAddr   string
	StoresFile    string

	Sync     SyncConfig
	Schedule ScheduleConfig
	Grouping GroupingConfig

	Stores []Store
}

// SyncConfig controls the entity sync drain
type SyncConfig struct {
	LockTTL time.Duration
	Workers int
	RPS     float64
	Burst   int
}

// ScheduleConfig holds the cron expressions used by serve
type ScheduleConfig struct {
	FeedCron string
	SyncCron string
}

// GroupingConfig configures swatch grouping of simple products
type GroupingConfig struct {
	AttributesToConsider []string
	OnlySwatchAttributes bool
}

// Store is one store view as read from the stores file
type Store struct {
	Code        string `yaml:"code"`
	StoreID     int64  `yaml:"store_id"`
	SiteID      string `yaml:"site_id"`
	SyncEnabled bool   `yaml:"sync_enabled"`
	Endpoint    string `yaml:"endpoint"`
	ShopDomain  string `yaml:"shop_domain"`
	Secret      string `yaml:"secret"`
	UseMSI      bool   `yaml:"use_msi"`
}

type storesFile struct {
	Stores []Store `yaml:"stores"`
}

// Load reads envFile if present, then the environment, then the stores file
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			// A missing .env is fine: the environment alone is enough
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	home, _ := os.UserHomeDir()
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", home+"/.catalogfeed/ledger.db"),
		CatalogDBPath: getEnv("CATALOG_DB_PATH", home+"/.catalogfeed/catalog.db"),
		TmpDir:        getEnv("TMP_DIR", os.TempDir()),
		Debug:         getEnvAsBool("DEBUG", false),
		RetainFiles:   getEnvAsBool("RETAIN_FILES", false),
		BatchSize:     getEnvAsInt("BATCH_SIZE", 500),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		StoresFile:    getEnv("STORES_FILE", ""),
		Sync: SyncConfig{
			LockTTL: getEnvAsDuration("LOCK_TTL", 30*time.Minute),
			Workers: getEnvAsInt("SYNC_WORKERS", 1),
			RPS:     getEnvAsFloat("SYNC_RPS", 5),
			Burst:   getEnvAsInt("SYNC_BURST", 5),
		},
		Schedule: ScheduleConfig{
			FeedCron: getEnv("FEED_CRON", "*/5 * * * *"),
			SyncCron: getEnv("SYNC_CRON", "* * * * *"),
		},
		Grouping: GroupingConfig{
			AttributesToConsider: getEnvAsList("ATTRIBUTES_TO_CONSIDER", []string{"color"}),
			OnlySwatchAttributes: getEnvAsBool("ONLY_SWATCH_ATTRIBUTES", true),
		},
	}

	if cfg.StoresFile != "" {
		stores, err := LoadStores(cfg.StoresFile)
		if err != nil {
			return nil, err
		}
		cfg.Stores = stores
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStores parses the YAML stores file
func LoadStores(path string) ([]Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read stores file: %v", types.ErrConfiguration, err)
	}
	var file storesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse stores file: %v", types.ErrConfiguration, err)
	}
	return file.Stores, nil
}

// Validate checks numeric bounds and store identity fields
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", types.ErrConfiguration)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("%w: sync workers must be positive", types.ErrConfiguration)
	}
	if c.Sync.LockTTL <= 0 {
		return fmt.Errorf("%w: lock ttl must be positive", types.ErrConfiguration)
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if s.Code == "" {
			return fmt.Errorf("%w: store without code", types.ErrConfiguration)
		}
		if seen[s.Code] {
			return fmt.Errorf("%w: duplicate store code %q", types.ErrConfiguration, s.Code)
		}
		seen[s.Code] = true
	}
	return nil
}

// StoreByCode finds a configured store
func (c *Config) StoreByCode(code string) (Store, bool) {
	for _, s := range c.Stores {
		if s.Code == code {
			return s, true
		}
	}
	return Store{}, false
}

// FilterStores narrows the configured stores to the given codes or site ids.
// Both empty returns every store.
func (c *Config) FilterStores(codes, siteIDs []string) []Store {
	if len(codes) == 0 && len(siteIDs) == 0 {
		return c.Stores
	}
	var out []Store
	for _, s := range c.Stores {
		if contains(codes, s.Code) || contains(siteIDs, s.SiteID) {
			out = append(out, s)
		}
	}
	return out
}

// SyncCredentials returns an error when live sync cannot reach the store
func (s Store) SyncCredentials() error {
	var missing []string
	if s.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if s.Secret == "" {
		missing = append(missing, "secret")
	}
	if s.ShopDomain == "" {
		missing = append(missing, "shop_domain")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: store %s missing %s", types.ErrConfiguration, s.Code, strings.Join(missing, ", "))
	}
	return nil
}

// SplitList splits a comma-separated flag value, dropping blanks
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// getEnv reads a prefixed variable, falling back to defaultValue when unset or empty
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if list := SplitList(getEnv(key, "")); len(list) > 0 {
		return list
	}
	return defaultValue
}
