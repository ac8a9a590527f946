package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/telemetry"
)

func newStatsCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query statistics",
		Long: `Display locally recorded query statistics:
  - Searches per mode (semantic, lexical, hybrid)
  - Latency distribution
  - Top query terms
  - Recent queries that found nothing

Statistics stay in the store root. Disable recording with
search.record_queries: false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lib, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer closeLibrary(lib)

			snap, err := lib.QueryStats(ctx, days)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStats(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

func printStats(w io.Writer, s *telemetry.Snapshot) {
	_, _ = fmt.Fprintf(w, "Query Statistics (%s to %s)\n", s.From, s.To)
	_, _ = fmt.Fprintln(w, "================")
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Total Queries: %d\n", s.TotalQueries)
	_, _ = fmt.Fprintf(w, "Zero Results:  %.1f%%\n", s.ZeroResultPercentage())
	_, _ = fmt.Fprintf(w, "Degraded:      %d\n", s.DegradedCount)
	_, _ = fmt.Fprintln(w)

	if s.TotalQueries > 0 {
		_, _ = fmt.Fprintln(w, "Modes:")
		for _, mode := range []string{"semantic", "lexical", "hybrid"} {
			if n := s.ModeCounts[mode]; n > 0 {
				_, _ = fmt.Fprintf(w, "  %s: %d\n", mode, n)
			}
		}
		_, _ = fmt.Fprintln(w)

		_, _ = fmt.Fprintln(w, "Latency Distribution:")
		for _, b := range telemetry.Buckets {
			if n := s.LatencyDistribution[b]; n > 0 {
				_, _ = fmt.Fprintf(w, "  %s: %d\n", b.Label(), n)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(s.TopTerms) > 0 {
		_, _ = fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range s.TopTerms {
			_, _ = fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
	}
	_, _ = fmt.Fprintln(w)

	if len(s.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range s.ZeroResultQueries {
			_, _ = fmt.Fprintf(w, "  - %q (%s)\n", q.Query, q.Mode)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
	}
}
