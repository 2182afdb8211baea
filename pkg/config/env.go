package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envBoundKeys are the config keys that may be overridden through
// REPORTOOR_* environment variables, e.g. REPORTOOR_UPLOAD_S3_BUCKET.
// Secrets belong here so they can stay out of config files in CI.
var envBoundKeys = []string{
	"global.log_level",
	"record.output_dir",
	"record.project_id",
	"record.owner",
	"upload.s3.bucket",
	"upload.s3.endpoint_url",
	"upload.s3.region",
	"upload.s3.prefix",
	"upload.s3.access_key_id",
	"upload.s3.secret_access_key",
	"cache.dir",
	"api.server.listen",
	"api.database.sqlite.path",
	"api.database.postgres.password",
}

// LoadWithEnv reads the configuration file at path and overlays values
// from REPORTOOR_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REPORTOOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range envBoundKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %q: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := decodeSettings(v.AllSettings())
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return cfg, nil
}

// decodeSettings maps the merged viper settings onto the Config struct.
func decodeSettings(settings map[string]any) (*Config, error) {
	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}

	if err := dec.Decode(settings); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}
