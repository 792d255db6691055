package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/vigil/internal/feedback"
	"github.com/scrypster/vigil/internal/notify"
)

var (
	feedbackUseful    bool
	feedbackNotUseful bool
	feedbackNote      string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <alert-id>",
	Short: "Rate a delivered alert",
	Long: `Feedback drops a rating into the data directory's feedback inbox, where a
running agent picks it up. Exactly one of --useful or --not-useful is
required.

Examples:
  vigil feedback 3f0c... --useful
  vigil feedback 3f0c... --not-useful --note "already prepared"`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	feedbackCmd.Flags().BoolVar(&feedbackUseful, "useful", false, "the alert was useful")
	feedbackCmd.Flags().BoolVar(&feedbackNotUseful, "not-useful", false, "the alert was not useful")
	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "free-form note")
	feedbackCmd.MarkFlagsMutuallyExclusive("useful", "not-useful")
	feedbackCmd.MarkFlagsOneRequired("useful", "not-useful")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	data, err := json.Marshal(feedback.Submission{
		AlertID: args[0],
		Useful:  feedbackUseful,
		Note:    feedbackNote,
	})
	if err != nil {
		return err
	}

	dir := filepath.Join(cfg.Storage.DataPath, "feedback")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", time.Now().UnixNano()))
	if err := notify.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write feedback: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Feedback queued: %s\n", path)
	return nil
}
