package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/config"
	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/ui"
	"github.com/Aman-CERP/nexus/pkg/nexus"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	maxMemoryMB int
	maxFileMB   int
	maxChunks   int
	skipExt     []string
	skipFiles   []string
	skipImages  bool
	gpu         bool
	plain       bool
	quiet       bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Index files into the store",
		Long: `Index every supported file under each path (default: the current
directory). Unchanged files are skipped, changed files are re-indexed and
files that disappeared since the last run are removed from the store.

Examples:
  nexus index ~/Documents
  nexus index . --skip-ext log --skip-file vendor
  nexus index ./scans --max-file-mb 200 --gpu`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runIndex(cmd.Context(), cmd, g, args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxMemoryMB, "max-memory-mb", -1, "Resident memory ceiling in MiB (0 = 75% of system memory)")
	cmd.Flags().IntVar(&opts.maxFileMB, "max-file-mb", 0, "Skip files larger than this many MiB")
	cmd.Flags().IntVar(&opts.maxChunks, "max-chunks", 0, "Per-document chunk ceiling")
	cmd.Flags().StringSliceVar(&opts.skipExt, "skip-ext", nil, "Additional file extensions to skip (repeatable)")
	cmd.Flags().StringSliceVar(&opts.skipFiles, "skip-file", nil, "Additional names or globs to skip (repeatable)")
	cmd.Flags().BoolVar(&opts.skipImages, "skip-images", false, "Do not OCR standalone images")
	cmd.Flags().BoolVar(&opts.gpu, "gpu", false, "Use GPU offload when the embedding backend supports it")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain line output even on a terminal")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print only the summary and errors")

	return cmd
}

// apply folds the flag overrides into cfg.
func (o indexOptions) apply(cfg *config.Config) {
	for _, ext := range o.skipExt {
		cfg.Index.SkipExtensions = append(cfg.Index.SkipExtensions, strings.TrimPrefix(ext, "."))
	}
	cfg.Index.SkipFiles = append(cfg.Index.SkipFiles, o.skipFiles...)
	if o.skipImages {
		cfg.Index.SkipImages = true
	}
	if o.maxChunks > 0 {
		cfg.Index.MaxChunks = o.maxChunks
	}
}

func (o indexOptions) runOptions() nexus.IndexOptions {
	run := nexus.IndexOptions{GPU: o.gpu, MaxFileMB: o.maxFileMB}
	if o.maxMemoryMB >= 0 {
		mem := o.maxMemoryMB
		run.MaxMemoryMB = &mem
	}
	return run
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, paths []string, opts indexOptions) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	opts.apply(cfg)

	lib, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer closeLibrary(lib)

	for _, path := range paths {
		uiCfg := ui.NewConfig(cmd.OutOrStdout(),
			ui.WithForcePlain(opts.plain),
			ui.WithNoColor(g.noColor || ui.DetectNoColor()),
			ui.WithQuiet(opts.quiet),
			ui.WithRoot(path))
		if _, err := indexWithProgress(ctx, lib, path, opts.runOptions(), uiCfg); err != nil {
			return err
		}
	}
	return nil
}

// indexWithProgress runs one IndexDirectory call with a renderer attached.
func indexWithProgress(ctx context.Context, lib *nexus.Library, path string, run nexus.IndexOptions, uiCfg ui.Config) (*index.IndexProgress, error) {
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("start progress display: %w", err)
	}

	events := make(chan index.Event, 256)
	run.Events = events

	type outcome struct {
		progress *index.IndexProgress
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		p, err := lib.IndexDirectory(ctx, path, run)
		// The terminal event has been sent or dropped by now.
		close(events)
		done <- outcome{p, err}
	}()

	ui.Drive(renderer, events)
	res := <-done
	if err := renderer.Stop(); err != nil {
		slog.Debug("renderer_stop_failed", slog.String("error", err.Error()))
	}

	if res.err != nil {
		return res.progress, res.err
	}
	if res.progress != nil && len(res.progress.Errors) > 0 {
		slog.Info("index_finished_with_errors", slog.String("path", path), slog.Int("errors", len(res.progress.Errors)))
	}
	return res.progress, nil
}
