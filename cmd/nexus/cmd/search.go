package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/search"
	"github.com/Aman-CERP/nexus/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	mode       string
	jsonOutput bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the store. Hybrid mode (the default) runs a semantic and a
keyword query and fuses the rankings with Reciprocal Rank Fusion.

Examples:
  nexus search "security deposit"
  nexus search "quarterly revenue" --mode lexical -n 20
  nexus search "onboarding checklist" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: semantic, lexical or hybrid (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	modeName := opts.mode
	if modeName == "" {
		modeName = cfg.Search.DefaultMode
	}
	mode, err := search.ParseMode(modeName)
	if err != nil {
		return err
	}
	limit := opts.limit
	if limit == 0 {
		limit = cfg.Search.ResultsCount
	}

	lib, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer closeLibrary(lib)

	slog.Info("search_started", slog.String("mode", mode.String()), slog.Int("limit", limit))
	resp, err := lib.Search(ctx, query, mode, limit)
	if err != nil {
		return err
	}

	r := ui.NewResultsRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
	if opts.jsonOutput {
		return r.RenderJSON(resp)
	}
	return r.Render(resp)
}
