package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix, e.g. KEYGATE_ADMIN_USERNAME.
const EnvPrefix = "KEYGATE"

// SetDefaults registers every key with its default so AutomaticEnv can see
// keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("api_token", "")
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("paths.keys", "")
	v.SetDefault("paths.usage", "")
	v.SetDefault("paths.audit", "")
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("upstream.base_url", d.Upstream.BaseURL)
	v.SetDefault("upstream.token", "")
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.protected_prefixes", d.Server.ProtectedPrefixes)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
}

// BindEnv wires the KEYGATE_ environment. Nested keys map dots to
// underscores; the collection paths also have shorter names.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("paths.keys", "KEYGATE_KEYS_PATH", "KEYGATE_PATHS_KEYS")
	v.BindEnv("paths.usage", "KEYGATE_USAGE_PATH", "KEYGATE_PATHS_USAGE")
	v.BindEnv("paths.audit", "KEYGATE_AUDIT_PATH", "KEYGATE_PATHS_AUDIT")
}

// FromViper builds a Config from v and resolves collection paths.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Admin.Username = strings.TrimSpace(cfg.Admin.Username)
	cfg.ResolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
