package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	nmcp "github.com/nikoai/niko/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP admin server",
		Long: `Start a Model Context Protocol (MCP) server that exposes account
administration as tools: list, create, update, delete, restore and purge.

In stdio mode the server speaks JSON-RPC over stdin/stdout and is meant to be
launched by an MCP client. In http mode it serves Streamable HTTP on --addr.
The MCP server has no authentication of its own; bind it to loopback.`,
		Example: `  niko mcp                                   # stdio
  niko mcp --transport http --addr 127.0.0.1:3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3001", "Listen address (http transport only)")

	return cmd
}

func runMCP(transport, addr string) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode.
	logger, err := newLogger(os.Stderr, cfg.Logging, false)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer store.Close()

	svc, err := newAuthService(cfg, store, "", logger)
	if err != nil {
		return err
	}
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}

	srv := nmcp.NewMCPServer(svc, policies, versionString(), logger)
	if transport == "http" {
		return srv.ServeHTTP(addr)
	}
	return srv.ServeStdio()
}
