package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keygate/internal/server"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/upstream"
)

const banner = `
 _  __ ___ __   __  ___    _  _____ ___
| |/ /| __|\ \ / / / __|  /_\|_   _| __|
| ' < | _|  \ V / | (_ | / _ \ | | | _|
|_|\_\|___|  |_|   \___|/_/ \_\|_| |___|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that guards the completion API with managed keys and serves the admin API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 4141, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	fmt.Print(banner)
	fmt.Println()

	ctx := context.Background()
	svc, err := openServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger.Info("record store initialized", "driver", cfg.Storage.Driver, "data_dir", cfg.DataDir)

	signer := service.NewSessionSigner(cfg.Admin.Username, cfg.Admin.Password)
	if msg := adminAuthWarning(signer, cfg.Admin.Username); msg != "" {
		logger.Warn(msg)
	}

	managed, err := svc.keys.Count(ctx)
	if err != nil {
		logger.Warn("failed to count managed keys", "error", err)
	}
	if managed == 0 && len(cfg.StaticTokens()) == 0 {
		logger.Warn("no API credentials configured - protected endpoints reject every request")
	}

	srv := server.New(server.ConfigFrom(cfg), server.Services{
		Keys:     svc.keys,
		Usage:    svc.usage,
		Audit:    svc.audit,
		Signer:   signer,
		Upstream: upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Token, logger),
	}, logger)

	if err := writePID(cfg, os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID(cfg)

	host, port := cfg.Server.Host, cfg.Server.Port
	fmt.Printf("→ keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Admin API:  http://%s:%d/admin\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Upstream:   %s\n", cfg.Upstream.BaseURL)
	fmt.Printf("→ Managed keys: %d, static tokens: %d\n", managed, len(cfg.StaticTokens()))
	fmt.Println()

	return srv.ListenAndServe()
}
