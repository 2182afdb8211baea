// Package config defines the YAML configuration for reportoor and its
// defaults and validation rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultOutputDir is the default directory for report runs.
	DefaultOutputDir = "./reports"

	// DefaultCacheDir is the default directory for cached history archives.
	DefaultCacheDir = "./.reportoor-cache"
)

// Config is the root configuration for reportoor.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	Record RecordConfig `yaml:"record" mapstructure:"record"`
	Upload UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
	Cache  CacheConfig  `yaml:"cache,omitempty" mapstructure:"cache"`
	API    APIConfig    `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// RecordConfig contains settings for recording a test run.
type RecordConfig struct {
	OutputDir string   `yaml:"output_dir" mapstructure:"output_dir"`
	ProjectID string   `yaml:"project_id,omitempty" mapstructure:"project_id"`
	Tags      []string `yaml:"tags,omitempty" mapstructure:"tags"`

	// Owner is an optional UID:GID to apply to written artifacts, for
	// runs recording inside a container on behalf of a host user.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`

	// HostInfo embeds a machine snapshot in the run config artifact.
	// Defaults to true.
	HostInfo *bool `yaml:"host_info,omitempty" mapstructure:"host_info"`

	Worker WorkerConfig `yaml:"worker,omitempty" mapstructure:"worker"`
}

// WorkerConfig identifies the recording process in sharded CI setups.
type WorkerConfig struct {
	WorkerIndex   int `yaml:"worker_index" mapstructure:"worker_index"`
	ParallelIndex int `yaml:"parallel_index" mapstructure:"parallel_index"`
}

// HostInfoEnabled reports whether the host snapshot should be collected.
func (r *RecordConfig) HostInfoEnabled() bool {
	return r.HostInfo == nil || *r.HostInfo
}

// UploadConfig contains remote storage settings for finished runs.
type UploadConfig struct {
	S3 *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains S3 settings for uploading report runs.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// CacheConfig controls the local cache of downloaded history archives.
type CacheConfig struct {
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`

	// MaxAge bounds how long a cached archive is reused before it is
	// fetched again, as a Go duration string. Empty disables expiry.
	MaxAge string `yaml:"max_age,omitempty" mapstructure:"max_age"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for running
// without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Record.OutputDir == "" {
		c.Record.OutputDir = DefaultOutputDir
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}

	c.API.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Record.Owner != "" {
		if err := validateOwner(c.Record.Owner); err != nil {
			return fmt.Errorf("record.owner: %w", err)
		}
	}

	if c.Record.OutputDir != "" {
		dir := filepath.Dir(c.Record.OutputDir)
		if dir != "." && dir != ".." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory parent %q does not exist", dir)
			}
		}
	}

	if s3 := c.Upload.S3; s3 != nil && s3.Enabled {
		if s3.Bucket == "" {
			return fmt.Errorf("upload.s3: bucket is required")
		}
	}

	return c.API.Validate()
}

// validateOwner checks a UID:GID string without needing the parsed value.
func validateOwner(owner string) error {
	var uid, gid int
	if _, err := fmt.Sscanf(owner, "%d:%d", &uid, &gid); err != nil {
		return fmt.Errorf("invalid format %q, expected UID:GID", owner)
	}

	return nil
}
