package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nexus/internal/ui"
)

func newExplainCmd(g *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "explain <doc_id|path>",
		Short: "Show what the store holds for a document",
		Long: `Show the bookkeeping record and the stored chunks of one document.
The argument is a doc_id from search results or the path of an indexed
file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lib, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer closeLibrary(lib)

			chunks, rec, err := lib.Explain(ctx, args[0])
			if err != nil {
				return err
			}

			r := ui.NewResultsRenderer(cmd.OutOrStdout(), g.noColor || ui.DetectNoColor())
			info := ui.ExplainInfo{Record: rec, Chunks: chunks}
			if jsonOutput {
				return r.RenderExplainJSON(info)
			}
			return r.RenderExplain(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
