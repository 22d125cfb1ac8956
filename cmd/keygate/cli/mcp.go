package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kmcp "github.com/faucetdb/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes key administration
as tools: list, create, limit and delete keys, and read usage and audit history.
Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients.

In HTTP mode, the server listens on the specified port using Streamable HTTP.`,
		Example: `  keygate mcp                              # stdio mode
  keygate mcp --transport http --port 4142   # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 4142, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode; logs stay on stderr.
	logger := newLogger(cfg)

	svc, err := openServices(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	mcpSrv := kmcp.NewMCPServer(svc.keys, svc.usage, svc.audit, versionString(), logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
