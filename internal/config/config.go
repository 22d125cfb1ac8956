// Package config holds the gateway configuration. A Config is built once at
// startup (from flags, environment and an optional YAML file) and passed to
// each component explicitly.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default file names for the three persisted collections, relative to the
// data directory.
const (
	DefaultKeysFile  = "api_keys.json"
	DefaultUsageFile = "api_key_usage.json"
	DefaultAuditFile = "api_key_audit.json"
)

// Config is the complete gateway configuration.
type Config struct {
	Admin    AdminConfig    `yaml:"admin" mapstructure:"admin"`
	APIToken string         `yaml:"api_token" mapstructure:"api_token"`
	DataDir  string         `yaml:"data_dir" mapstructure:"data_dir"`
	Paths    PathsConfig    `yaml:"paths" mapstructure:"paths"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// AdminConfig holds the admin console credentials. Admin authentication is
// enabled when either field is non-empty.
type AdminConfig struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// PathsConfig locates the persisted collection files.
type PathsConfig struct {
	Keys  string `yaml:"keys" mapstructure:"keys"`
	Usage string `yaml:"usage" mapstructure:"usage"`
	Audit string `yaml:"audit" mapstructure:"audit"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // file, sqlite or postgres
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// UpstreamConfig points at the completion provider.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host              string   `yaml:"host" mapstructure:"host"`
	Port              int      `yaml:"port" mapstructure:"port"`
	ProtectedPrefixes []string `yaml:"protected_prefixes" mapstructure:"protected_prefixes"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// DefaultProtectedPrefixes are the path prefixes that require an API
// credential.
var DefaultProtectedPrefixes = []string{"/v1/", "/chat/completions", "/embeddings", "/models"}

// DefaultDataDir returns ~/.local/share/keygate.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keygate"
	}
	return filepath.Join(home, ".local", "share", "keygate")
}

// Default returns a Config pre-filled with defaults.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Storage: StorageConfig{Driver: "file"},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              4141,
			ProtectedPrefixes: append([]string(nil), DefaultProtectedPrefixes...),
			CORSOrigins:       []string{"*"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// ParseAPITokens splits a semicolon-separated token list, trimming entries
// and dropping empty ones.
func ParseAPITokens(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StaticTokens returns the configured static API tokens.
func (c *Config) StaticTokens() []string {
	return ParseAPITokens(c.APIToken)
}

// AdminConfigured reports whether admin authentication is enabled.
func (c *Config) AdminConfigured() bool {
	return strings.TrimSpace(c.Admin.Username) != "" || c.Admin.Password != ""
}

// Addr returns host:port for the listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ResolvePaths fills unset collection paths from DataDir.
func (c *Config) ResolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Paths.Keys == "" {
		c.Paths.Keys = filepath.Join(c.DataDir, DefaultKeysFile)
	}
	if c.Paths.Usage == "" {
		c.Paths.Usage = filepath.Join(c.DataDir, DefaultUsageFile)
	}
	if c.Paths.Audit == "" {
		c.Paths.Audit = filepath.Join(c.DataDir, DefaultAuditFile)
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "", "file", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port %d", c.Server.Port))
	}
	return errors.Join(errs...)
}
