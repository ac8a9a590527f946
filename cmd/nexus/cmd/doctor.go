package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/config"
	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
	"github.com/Aman-CERP/nexus/internal/preflight"
)

type doctorReport struct {
	Status     string                  `json:"status"`
	StorePath  string                  `json:"store_path"`
	Checks     []preflight.CheckResult `json:"checks"`
	LastPassed time.Time               `json:"last_passed,omitzero"`
}

func newDoctorCmd(g *globalOptions) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment nexus runs in",
		Long: `Run diagnostics before indexing.

Checks:
  - Configuration validity
  - Free space on the store volume (100 MB minimum)
  - Available memory (1 GB minimum)
  - Store directory is writable
  - File descriptor limit (1024 minimum)
  - Embedding backend reachability
  - OCR tools for images and scanned PDFs

An unreachable Ollama is only a warning under auto-detection, where
indexing falls back to static embeddings.`,
		Example: `  nexus doctor
  nexus doctor --verbose
  nexus doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := g.config()
			storeRoot := g.storePath
			if cfg != nil {
				storeRoot = cfg.Storage.Path
			}
			if storeRoot == "" {
				storeRoot = config.DefaultStorePath()
			}
			if abs, err := filepath.Abs(storeRoot); err == nil {
				storeRoot = abs
			}

			var opts []preflight.Option
			if cfgErr != nil {
				opts = append(opts, preflight.WithConfigError(cfgErr))
			}
			results := preflight.New(cfg, storeRoot, opts...).RunAll(cmd.Context())
			report := doctorReport{
				Status:     preflight.SummaryStatus(results),
				StorePath:  storeRoot,
				Checks:     results,
				LastPassed: preflight.LastPassed(storeRoot),
			}

			failed := preflight.HasCriticalFailures(results)
			if !failed {
				if err := preflight.MarkPassed(storeRoot); err != nil {
					return nexuserrors.New(nexuserrors.ErrCodeFilePermission, "write doctor marker: "+err.Error(), err)
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				preflight.PrintResults(out, results, verbose)
				if !report.LastPassed.IsZero() {
					_, _ = fmt.Fprintf(out, "\nLast successful check: %s\n", report.LastPassed.Local().Format(time.DateTime))
				}
			}

			if failed {
				return nexuserrors.InternalError("system check failed", nil).
					WithSuggestion("Run 'nexus doctor --verbose' for details")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
