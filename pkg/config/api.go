package config

import (
	"fmt"
	"time"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig    `yaml:"server" mapstructure:"server"`
	Database APIDatabaseConfig  `yaml:"database" mapstructure:"database"`
	Storage  APIStorageConfig   `yaml:"storage,omitempty" mapstructure:"storage"`
	Indexing *APIIndexingConfig `yaml:"indexing,omitempty" mapstructure:"indexing"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIStorageConfig contains storage backend settings for serving report
// files. Only one backend (S3 or local) may be enabled at a time.
type APIStorageConfig struct {
	S3    *APIS3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Local *APILocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// APILocalStorageConfig serves report run files directly from the local
// filesystem. Each discovery path maps a URL prefix name to an absolute
// directory containing run directories.
type APILocalStorageConfig struct {
	Enabled        bool              `yaml:"enabled" mapstructure:"enabled"`
	DiscoveryPaths map[string]string `yaml:"discovery_paths,omitempty" mapstructure:"discovery_paths"`
}

// APIS3Config contains S3 settings for presigned URL generation.
type APIS3Config struct {
	Enabled         bool                    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string                  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string                  `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string                  `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string                  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string                  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool                    `yaml:"force_path_style" mapstructure:"force_path_style"`
	PresignedURLs   APIS3PresignedURLConfig `yaml:"presigned_urls,omitempty" mapstructure:"presigned_urls"`
	DiscoveryPaths  []string                `yaml:"discovery_paths,omitempty" mapstructure:"discovery_paths"`
}

// APIS3PresignedURLConfig contains presigned URL generation settings.
type APIS3PresignedURLConfig struct {
	Expiry string `yaml:"expiry,omitempty" mapstructure:"expiry"`
}

// APIIndexingConfig configures the background indexing service that scans
// storage backends and maintains a queryable index in a database.
type APIIndexingConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Interval string `yaml:"interval,omitempty" mapstructure:"interval"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (a *APIConfig) applyDefaults() {
	if a.Server.Listen == "" {
		a.Server.Listen = ":8080"
	}

	if a.Server.RateLimit.Enabled && a.Server.RateLimit.RequestsPerMinute == 0 {
		a.Server.RateLimit.RequestsPerMinute = 120
	}

	if a.Database.Driver == "" {
		a.Database.Driver = "sqlite"
	}

	if a.Database.Driver == "sqlite" && a.Database.SQLite.Path == "" {
		a.Database.SQLite.Path = "./reportoor.db"
	}

	if a.Indexing != nil && a.Indexing.Interval == "" {
		a.Indexing.Interval = "5m"
	}
}

// Validate checks the API configuration for errors.
func (a *APIConfig) Validate() error {
	switch a.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("api.database: unknown driver %q", a.Database.Driver)
	}

	if a.Storage.S3 != nil && a.Storage.S3.Enabled &&
		a.Storage.Local != nil && a.Storage.Local.Enabled {
		return fmt.Errorf("api.storage: only one of s3 and local may be enabled")
	}

	if s3 := a.Storage.S3; s3 != nil && s3.Enabled {
		if s3.Bucket == "" {
			return fmt.Errorf("api.storage.s3: bucket is required")
		}

		if s3.PresignedURLs.Expiry != "" {
			if _, err := time.ParseDuration(s3.PresignedURLs.Expiry); err != nil {
				return fmt.Errorf("api.storage.s3: invalid presigned url expiry: %w", err)
			}
		}
	}

	if idx := a.Indexing; idx != nil && idx.Enabled && idx.Interval != "" {
		if _, err := time.ParseDuration(idx.Interval); err != nil {
			return fmt.Errorf("api.indexing: invalid interval: %w", err)
		}
	}

	return nil
}
