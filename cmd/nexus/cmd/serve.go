package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/mcp"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the store to MCP clients over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
index_directory, search and get_status tools.

stdout carries JSON-RPC only; diagnostics go to the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lib, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer closeLibrary(lib)

			srv, err := mcp.NewServer(lib)
			if err != nil {
				return err
			}
			slog.Info("serve_started", slog.String("store", lib.StorePath()))
			return srv.Serve(ctx)
		},
	}
}
