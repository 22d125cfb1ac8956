package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
)

// newLogger returns a text logger on stderr, also writing to a rotating
// log file when log.file is set.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if devMode {
		level = slog.LevelDebug
	} else if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

// services bundles the record store and the three collections over it.
type services struct {
	backend store.Backend
	keys    *service.KeyRegistry
	usage   *service.QuotaLedger
	audit   *service.AuditLog
}

func (s *services) Close() error {
	return s.backend.Close()
}

// storageDSN defaults the sqlite database into the data directory.
func storageDSN(cfg *config.Config) string {
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		return filepath.Join(cfg.DataDir, "keygate.db")
	}
	return cfg.Storage.DSN
}

// openServices opens the configured record store and creates any missing
// collections.
func openServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	if cfg.Storage.Driver == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	backend, err := store.Open(cfg.Storage.Driver, storageDSN(cfg), map[string]string{
		store.KeysCollection:  cfg.Paths.Keys,
		store.UsageCollection: cfg.Paths.Usage,
		store.AuditCollection: cfg.Paths.Audit,
	})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := store.EnsureAll(ctx, backend, store.KeysCollection, store.UsageCollection, store.AuditCollection); err != nil {
		backend.Close()
		return nil, err
	}
	return &services{
		backend: backend,
		keys:    service.NewKeyRegistry(backend, cfg.StaticTokens()),
		usage:   service.NewQuotaLedger(backend, logger),
		audit:   service.NewAuditLog(backend, logger),
	}, nil
}

// openServicesFromConfig loads configuration and opens the record store,
// for commands that only administer keys.
func openServicesFromConfig(ctx context.Context) (*config.Config, *services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := openServices(ctx, cfg, newLogger(cfg))
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatLimit(v *int) string {
	if v == nil {
		return "unlimited"
	}
	return strconv.Itoa(*v)
}

func formatExpiry(ts *model.Timestamp) string {
	if ts == nil {
		return "never"
	}
	return ts.String()
}

// limitFlag converts a flag value to a limit. Negative means unlimited.
func limitFlag(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

// --- PID file management ---

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "keygate.pid")
}

func writePID(cfg *config.Config, pid int) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(cfg), []byte(strconv.Itoa(pid)), 0o644)
}

func readPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(pidFilePath(cfg))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID(cfg *config.Config) {
	os.Remove(pidFilePath(cfg))
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// adminAuthWarning describes an admin credential setup the operator should
// fix, or returns "".
func adminAuthWarning(signer *service.SessionSigner, username string) string {
	switch {
	case !signer.Configured():
		return "admin credentials not set - the admin API is unauthenticated and open to anyone who can reach it (set KEYGATE_ADMIN_USERNAME and KEYGATE_ADMIN_PASSWORD)"
	case strings.TrimSpace(username) == "":
		return "admin username not set - the admin API rejects every login (set KEYGATE_ADMIN_USERNAME)"
	}
	return ""
}
