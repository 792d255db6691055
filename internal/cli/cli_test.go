package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/agent"
	"github.com/scrypster/vigil/internal/feedback"
)

// execute runs the root command with args against a fresh data directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VIGIL_CONFIG", "")
	t.Setenv("VIGIL_DATA_PATH", dir)
	t.Setenv("VIGIL_LOG_FILE", filepath.Join(dir, "test.log"))
	t.Setenv("VIGIL_INDEX_BACKEND", "memory")
	t.Setenv("VIGIL_ENCODER_PROVIDER", "hashing")

	configPath, verbose = "", false
	demoAt, demoJSON = "", false
	feedbackUseful, feedbackNotUseful, feedbackNote = false, false, ""
	searchLimit = 5
	for _, c := range append(rootCmd.Commands(), rootCmd) {
		resetFlags(c)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags clears parse state left on the shared commands by earlier tests.
func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vigil "+Version)
}

func TestDemoPrintsDeliveredAlerts(t *testing.T) {
	out, err := execute(t, "demo", "--at", "2025-03-10T13:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "Cycle at 2025-03-10T13:00:00Z: 6 records")
	assert.Contains(t, out, "6 candidates")
}

func TestDemoJSON(t *testing.T) {
	out, err := execute(t, "demo", "--at", "2025-03-10T13:00:00Z", "--json")
	require.NoError(t, err)

	var report agent.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 6, report.Candidates)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "demo", report.Sources[0].Source)
}

func TestDemoRejectsBadTimestamp(t *testing.T) {
	_, err := execute(t, "demo", "--at", "tomorrow")
	assert.ErrorContains(t, err, "parse --at")
}

func TestSearchEmptyIndex(t *testing.T) {
	out, err := execute(t, "search", "quarterly review")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestFeedbackQueuesInboxFile(t *testing.T) {
	out, err := execute(t, "feedback", "alert-1", "--not-useful", "--note", "seen it")
	require.NoError(t, err)
	assert.Contains(t, out, "Feedback queued:")

	files, err := filepath.Glob(filepath.Join(os.Getenv("VIGIL_DATA_PATH"), "feedback", "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	var s feedback.Submission
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, feedback.Submission{AlertID: "alert-1", Useful: false, Note: "seen it"}, s)
}

func TestFeedbackRequiresRating(t *testing.T) {
	_, err := execute(t, "feedback", "alert-1")
	assert.Error(t, err)
}
