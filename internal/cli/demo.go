package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/vigil/internal/agent"
	"github.com/scrypster/vigil/internal/app"
	"github.com/scrypster/vigil/internal/sources"
)

var (
	demoAt   string
	demoJSON bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run one cycle against a built-in mock calendar",
	Long: `Demo runs a single agent cycle offline: an in-memory index, the hashing
encoder and a mock calendar anchored at the current time (or --at).
Delivered and suppressed counts are printed along with each alert.

Examples:
  vigil demo
  vigil demo --at 2025-03-10T13:00:00Z
  vigil demo --json`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoAt, "at", "", "pretend the current time is this RFC3339 timestamp")
	demoCmd.Flags().BoolVar(&demoJSON, "json", false, "print the cycle report as JSON")
}

func runDemo(cmd *cobra.Command, args []string) error {
	now := time.Now
	if demoAt != "" {
		at, err := time.Parse(time.RFC3339, demoAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		now = func() time.Time { return at }
	}

	demo := *cfg
	demo.Storage.IndexBackend = "memory"
	demo.Storage.PersistFeedback = false
	demo.Encoder.Provider = "hashing"
	demo.Feedback.Inbox = false
	demo.Agent.EventFiles = false
	demo.Server.Enabled = false

	ctx := context.Background()
	a, err := app.New(ctx, &demo, logger, app.Options{
		Sources: []sources.Source{sources.NewMockSource("demo", now)},
		Now:     now,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Agent.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if demoJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printReport(w io.Writer, r agent.Report) {
	records := 0
	for _, s := range r.Sources {
		records += s.Records
	}
	fmt.Fprintf(w, "Cycle at %s: %d records, %d candidates, %d suppressed, %d delivered\n",
		r.Started.Format(time.RFC3339), records, r.Candidates, r.Suppressed, len(r.Delivered))
	if err := r.SourceErrors(); err != nil {
		fmt.Fprintf(w, "Source errors: %v\n", err)
	}
	for _, a := range r.Delivered {
		fmt.Fprintf(w, "\n[%s] %s (%s)\n", strings.ToUpper(a.Priority.String()), a.Title, a.Type)
		fmt.Fprintf(w, "  %s\n", a.Message)
		for _, action := range a.SuggestedActions {
			fmt.Fprintf(w, "  - %s\n", action)
		}
		fmt.Fprintf(w, "  id: %s\n", a.ID)
	}
}
