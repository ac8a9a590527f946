package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/index"
	"github.com/Aman-CERP/nexus/internal/ui"
	"github.com/Aman-CERP/nexus/internal/watcher"
	"github.com/Aman-CERP/nexus/pkg/nexus"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	skipInitial bool
	quiet       bool
}

func newWatchCmd(g *globalOptions) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Index, then keep the store current as files change",
		Long: `Run a full index of each path (default: the current directory), then
watch the trees and re-index or remove files as they change. Bursts of
events on a path are coalesced over the watch.debounce window.

Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			return runWatch(cmd.Context(), cmd, g, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.skipInitial, "skip-initial", false, "Skip the full index before watching")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Print only batch summaries with changes or errors")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, g *globalOptions, paths []string, opts watchOptions) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	lib, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer closeLibrary(lib)

	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		roots = append(roots, abs)
	}

	out := cmd.OutOrStdout()
	if !opts.skipInitial {
		for _, root := range roots {
			uiCfg := ui.NewConfig(out, ui.WithForcePlain(true), ui.WithQuiet(true), ui.WithRoot(root))
			if _, err := indexWithProgress(ctx, lib, root, nexus.IndexOptions{}, uiCfg); err != nil {
				return err
			}
		}
	}

	wopts, err := watcher.OptionsFrom(cfg.Watch)
	if err != nil {
		return err
	}
	discover := lib.DiscoverOptions()
	wopts.Exclude = []string{lib.StorePath()}
	wopts.Ignore = ignoreFunc(roots, discover)

	w, err := watcher.New(wopts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	for _, root := range roots {
		if err := w.Add(root); err != nil {
			return err
		}
		fmt.Fprintf(out, "Watching %s\n", root)
	}

	err = watcher.Apply(ctx, w, lib, func(res watcher.BatchResult) {
		reportBatch(out, res, opts.quiet)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ignoreFunc applies the discovery rules of the root a path falls under.
func ignoreFunc(roots []string, opts index.DiscoverOptions) func(string) bool {
	return func(path string) bool {
		for _, root := range roots {
			rel, err := filepath.Rel(root, path)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return opts.Ignored(root, path)
			}
		}
		return false
	}
}

func reportBatch(out io.Writer, res watcher.BatchResult, quiet bool) {
	changed := res.Indexed + res.Removed + res.Skipped + res.Failed
	if quiet && changed == 0 {
		return
	}
	fmt.Fprintf(out, "[WATCH] %d indexed, %d removed, %d unchanged, %d skipped, %d failed in %s\n",
		res.Indexed, res.Removed, res.Unchanged, res.Skipped, res.Failed, res.Duration.Round(time.Millisecond))
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %s: %s: %s\n", e.Kind, e.Path, e.Message)
	}
}
