package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // timezone names must resolve without a system zoneinfo

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/pointstore/internal/logging"
	"github.com/vjranagit/pointstore/pkg/protocol"
	"github.com/vjranagit/pointstore/pkg/server"
	"github.com/vjranagit/pointstore/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Journal JournalConfig `yaml:"journal"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// ListenAddr is where the binary protocol is served.
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr serves health, metrics and the JSON API. Empty disables it.
	AdminAddr string `yaml:"admin_addr"`

	MaxConnections       int    `yaml:"max_connections"`
	MaxRecordsPerRequest uint32 `yaml:"max_records_per_request"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DataDirectory  string `yaml:"data_directory"`
	MaxDaysPerFile int    `yaml:"max_days_per_file"`

	// Timezone names the IANA zone used for years and days of year.
	Timezone string `yaml:"timezone"`
}

// JournalConfig holds PUT journal configuration
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path defaults to <data_directory>/journal.
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"`
}

// CacheConfig holds GET cache configuration
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:           ":7070",
			AdminAddr:            ":9090",
			MaxConnections:       1024,
			MaxRecordsPerRequest: protocol.DefaultMaxRecords,
			ShutdownTimeout:      30 * time.Second,
		},
		Storage: StorageConfig{
			DataDirectory:  "./data",
			MaxDaysPerFile: storage.DefaultMaxDaysPerFile,
			Timezone:       "UTC",
		},
		Journal: JournalConfig{
			Enabled:          true,
			CompressionLevel: 1,
		},
		Cache: CacheConfig{
			Capacity: 1024,
			TTL:      time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from POINTSTORE_* environment variables.
func (c *Config) ApplyEnv() {
	c.Storage.DataDirectory = getEnv("POINTSTORE_DATA_DIR", c.Storage.DataDirectory)
	c.Storage.MaxDaysPerFile = getEnvInt("POINTSTORE_MAX_DAYS_PER_FILE", c.Storage.MaxDaysPerFile)
	c.Storage.Timezone = getEnv("POINTSTORE_TIMEZONE", c.Storage.Timezone)
	c.Server.ListenAddr = getEnv("POINTSTORE_LISTEN", c.Server.ListenAddr)
	c.Server.AdminAddr = getEnv("POINTSTORE_ADMIN_LISTEN", c.Server.AdminAddr)
	c.Journal.Enabled = getEnvBool("POINTSTORE_JOURNAL", c.Journal.Enabled)
	c.Log.Level = getEnv("POINTSTORE_LOG_LEVEL", c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server listen address is required"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("max connections must not be negative"))
	}
	if c.Server.MaxRecordsPerRequest < 1 {
		errs = append(errs, errors.New("max records per request must be at least 1"))
	}
	if c.Storage.DataDirectory == "" {
		errs = append(errs, errors.New("storage data directory is required"))
	}
	if c.Storage.MaxDaysPerFile < 1 || c.Storage.MaxDaysPerFile > 365 {
		errs = append(errs, fmt.Errorf("max days per file must be between 1 and 365, got %d", c.Storage.MaxDaysPerFile))
	}
	if _, err := time.LoadLocation(c.Storage.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Storage.Timezone, err))
	}
	if c.Journal.CompressionLevel < 1 || c.Journal.CompressionLevel > 4 {
		errs = append(errs, errors.New("compression level must be between 1 and 4"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache capacity must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Storage.Timezone)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() (*storage.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return &storage.Config{
		DataDirectory:  c.Storage.DataDirectory,
		MaxDaysPerFile: c.Storage.MaxDaysPerFile,
		Location:       loc,
	}, nil
}

// ToJournalConfig converts to storage.JournalConfig
func (c *Config) ToJournalConfig() *storage.JournalConfig {
	path := c.Journal.Path
	if path == "" {
		path = filepath.Join(c.Storage.DataDirectory, "journal")
	}
	return &storage.JournalConfig{
		Path:             path,
		CompressionLevel: c.Journal.CompressionLevel,
	}
}

// ToServerConfig converts to server.Config
func (c *Config) ToServerConfig() *server.Config {
	return &server.Config{
		ListenAddr:           c.Server.ListenAddr,
		MaxConnections:       c.Server.MaxConnections,
		MaxRecordsPerRequest: c.Server.MaxRecordsPerRequest,
	}
}

// JSONLogs reports whether logs are written as JSON.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.Log.Format, "json")
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
