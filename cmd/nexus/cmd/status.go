package cmd

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/ui"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store location and entry counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, g, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, g *globalOptions, jsonOutput bool) error {
	lib, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer closeLibrary(lib)

	st, err := lib.Status(ctx)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		StorePath:        st.StorePath,
		TrackedFiles:     st.TrackedFiles,
		VectorEmbeddings: st.VectorEmbeddings,
		LexicalDocuments: st.LexicalDocuments,
		LexicalBackend:   st.LexicalBackend,
		EmbeddingModel:   st.EmbeddingModel,
		Dimensions:       st.Dimensions,
		StoreBytes:       dirSize(st.StorePath),
		LastIndexed:      st.LastIndexed,
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// dirSize sums the sizes of the regular files under dir.
func dirSize(dir string) int64 {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		slog.Debug("store_size_failed", slog.String("path", dir), slog.String("error", err.Error()))
	}
	return total
}
