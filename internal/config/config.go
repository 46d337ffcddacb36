// Package config loads the server process configuration: a yaml file with
// environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Addr         string `yaml:"addr" env:"ESM_ADDR"`
	DataDir      string `yaml:"data_dir" env:"ESM_DATA_DIR"`
	Store        string `yaml:"store" env:"ESM_STORE"`
	DBPath       string `yaml:"db_path" env:"ESM_DB_PATH"`
	SettingsPath string `yaml:"settings_path" env:"ESM_SETTINGS_PATH"`
	AuthSecret   string `yaml:"auth_secret" env:"ESM_AUTH_SECRET"`
	ServerID     string `yaml:"server_id" env:"ESM_SERVER_ID"`

	StoreTimeout time.Duration `yaml:"store_timeout" env:"ESM_STORE_TIMEOUT"`
	Retries      int           `yaml:"retries" env:"ESM_RETRIES"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"ESM_RETRY_BACKOFF"`

	AuditQueue       int           `yaml:"audit_queue" env:"ESM_AUDIT_QUEUE"`
	AuditSinkTimeout time.Duration `yaml:"audit_sink_timeout" env:"ESM_AUDIT_SINK_TIMEOUT"`

	Economy EconomyConfig `yaml:"economy"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig points the audit mirror at an S3-compatible bucket. An
// empty Endpoint leaves the mirror off.
type ArchiveConfig struct {
	Endpoint        string `yaml:"endpoint" env:"ESM_ARCHIVE_ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"ESM_ARCHIVE_BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"ESM_ARCHIVE_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"ESM_ARCHIVE_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" env:"ESM_ARCHIVE_REGION"`
	Prefix          string `yaml:"prefix" env:"ESM_ARCHIVE_PREFIX"`
	Workers         int    `yaml:"workers" env:"ESM_ARCHIVE_WORKERS"`
}

func (a ArchiveConfig) Enabled() bool { return strings.TrimSpace(a.Endpoint) != "" }

// EconomyConfig holds the prices that are not part of the settings blob.
type EconomyConfig struct {
	PricePerObject int64 `yaml:"price_per_object" env:"ESM_ECONOMY_PRICE_PER_OBJECT"`
	LockerLimit    int64 `yaml:"locker_limit" env:"ESM_ECONOMY_LOCKER_LIMIT"`
	// TerritoryLevels[i] is the price of upgrading from level i+1 to i+2.
	TerritoryLevels []int64 `yaml:"territory_levels" env:"ESM_ECONOMY_TERRITORY_LEVELS" envSeparator:","`
}

// MaxLevel is the highest level a territory can be upgraded to.
func (e EconomyConfig) MaxLevel() int64 { return int64(len(e.TerritoryLevels)) + 1 }

// UpgradePrice returns the price of upgrading a territory from level.
func (e EconomyConfig) UpgradePrice(level int64) (int64, bool) {
	if level < 1 || level > int64(len(e.TerritoryLevels)) {
		return 0, false
	}
	return e.TerritoryLevels[level-1], true
}

// Load reads path (optional), then applies ESM_* environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("server.yaml: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("server.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Addr:             ":8080",
		DataDir:          "./data",
		Store:            StoreSQLite,
		StoreTimeout:     2 * time.Second,
		Retries:          2,
		RetryBackoff:     50 * time.Millisecond,
		AuditQueue:       1024,
		AuditSinkTimeout: time.Second,
		Economy: EconomyConfig{
			PricePerObject:  10,
			LockerLimit:     100000,
			TerritoryLevels: []int64{5000, 10000, 15000, 20000, 25000, 30000, 35000, 40000, 45000},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = StoreSQLite
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.Store == StoreSQLite && strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join(c.DataDir, "esm.sqlite")
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
	if c.AuditSinkTimeout <= 0 {
		c.AuditSinkTimeout = time.Second
	}
	if c.AuditQueue <= 0 {
		c.AuditQueue = 1024
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr must not be empty")
	}
	switch c.Store {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StoreSQLite, StoreMemory, c.Store)
	}
	if len(c.AuthSecret) < 16 {
		return fmt.Errorf("auth_secret must be at least 16 bytes")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be >= 0")
	}
	if c.Economy.PricePerObject < 0 {
		return fmt.Errorf("economy.price_per_object must be >= 0")
	}
	if c.Economy.LockerLimit <= 0 {
		return fmt.Errorf("economy.locker_limit must be > 0")
	}
	for i, p := range c.Economy.TerritoryLevels {
		if p < 0 {
			return fmt.Errorf("economy.territory_levels[%d] must be >= 0", i)
		}
	}
	if c.Archive.Enabled() {
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			return fmt.Errorf("archive.bucket is required when archive.endpoint is set")
		}
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			return fmt.Errorf("archive credentials are required when archive.endpoint is set")
		}
	}
	return nil
}
