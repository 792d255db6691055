package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/vigil/internal/app"
	"github.com/scrypster/vigil/internal/contextstore"
	"github.com/scrypster/vigil/internal/encoder"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the persisted context index",
	Long: `Search embeds the query with the configured encoder and returns the
nearest context entities from the configured index backend. The memory
backend is empty outside a running agent.

Examples:
  vigil search "quarterly review"
  vigil search "interview" -n 3`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	enc, err := encoder.New(cfg.Encoder)
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	idx, err := app.OpenIndex(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	store := contextstore.New(enc, idx, contextstore.WithLogger(logger))
	results := store.Retrieve(ctx, args[0], searchLimit)

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintf(out, "Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Fprintf(out, "%d. %s (distance %.3f)\n", i+1, r.ID, r.Distance)
		if t, ok := r.Metadata["type"].(string); ok {
			fmt.Fprintf(out, "   type: %s\n", t)
		}
		if r.Document != "" {
			fmt.Fprintf(out, "   %s\n", r.Document)
		}
	}
	return nil
}
