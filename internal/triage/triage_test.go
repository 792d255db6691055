package triage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/pkg/types"
)

func clockAt(hour int) func() time.Time {
	return func() time.Time { return time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC) }
}

func utcConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func alertWith(p types.Priority, ctx map[string]any) types.Alert {
	return types.NewAlert(types.AlertScheduleConflict, "k", p, "t", "m", ctx, time.Now())
}

func TestRules_ThreeOfFourDelivers(t *testing.T) {
	tr := New(utcConfig(), WithClock(clockAt(10)), WithAvailability(StaticAvailability(false)))
	d := tr.Evaluate(context.Background(), alertWith(types.PriorityHigh, map[string]any{"relevance": 0.9}))

	assert.True(t, d.Deliver)
	assert.Equal(t, ModeRules, d.Mode)
	assert.Equal(t, 3.0, d.Score)
	assert.Contains(t, d.Reason, "business_hours")
	assert.NotContains(t, d.Reason, "available")
}

func TestRules_OneOfFourSuppresses(t *testing.T) {
	tr := New(utcConfig(), WithClock(clockAt(22)), WithAvailability(StaticAvailability(false)))
	d := tr.Evaluate(context.Background(), alertWith(types.PriorityHigh, map[string]any{"relevance": 0.2}))

	assert.False(t, d.Deliver)
	assert.Equal(t, 1.0, d.Score)
}

func TestRules_Predicates(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		prio  types.Priority
		ctx   map[string]any
		avail Availability
		votes float64
	}{
		{"business_hours_start_inclusive", 9, types.PriorityLow, nil, StaticAvailability(false), 1},
		{"business_hours_end_exclusive", 18, types.PriorityLow, nil, StaticAvailability(false), 0},
		{"critical_counts_as_high", 20, types.PriorityCritical, nil, StaticAvailability(false), 1},
		{"relevance_threshold_is_strict", 20, types.PriorityLow, map[string]any{"relevance": 0.6}, StaticAvailability(false), 0},
		{"relevance_malformed", 20, types.PriorityLow, map[string]any{"relevance": "very"}, StaticAvailability(false), 0},
		{"no_signal_means_available", 20, types.PriorityLow, nil, nil, 1},
		{"signal_error_means_available", 20, types.PriorityLow, nil, AvailabilityFunc(func(context.Context) (bool, error) {
			return false, errors.New("presence service down")
		}), 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := []Option{WithClock(clockAt(tc.hour))}
			if tc.avail != nil {
				opts = append(opts, WithAvailability(tc.avail))
			}
			d := New(utcConfig(), opts...).Evaluate(context.Background(), alertWith(tc.prio, tc.ctx))
			assert.Equal(t, tc.votes, d.Score)
		})
	}
}

func feedbackSet(n int) []types.FeedbackRecord {
	out := make([]types.FeedbackRecord, n)
	for i := range out {
		useful := i%2 == 0
		p := types.PriorityLow
		urgency := 0.1
		if useful {
			p = types.PriorityHigh
			urgency = 0.9
		}
		out[i] = types.FeedbackRecord{
			Alert:     alertWith(p, map[string]any{"relevance": 0.5, "urgency": urgency}),
			WasUseful: useful,
		}
	}
	return out
}

func TestTransition_ExactlyAtThreshold(t *testing.T) {
	tr := New(utcConfig(), WithClock(clockAt(10)))
	records := feedbackSet(60)

	for total := 1; total < 50; total++ {
		require.NoError(t, tr.ObserveFeedback(records[:total], total))
		require.Equal(t, StateRuleBased, tr.State(), "no transition before 50 (at %d)", total)
	}

	require.NoError(t, tr.ObserveFeedback(records[:50], 50))
	assert.Equal(t, StateLearned, tr.State())
	st := tr.Status()
	assert.True(t, st.Trained)
	assert.Equal(t, 1, st.TrainingRuns)
	assert.Equal(t, 50, st.LastTrainedSize)

	for total := 51; total <= 60; total++ {
		require.NoError(t, tr.ObserveFeedback(records[:total], total))
		assert.Equal(t, StateLearned, tr.State())
	}
	assert.Equal(t, 1, tr.Status().TrainingRuns, "no retraining before 100")
}

func TestLearned_UsesModel(t *testing.T) {
	tr := New(utcConfig(), WithClock(clockAt(22)), WithAvailability(StaticAvailability(false)))
	require.NoError(t, tr.ObserveFeedback(feedbackSet(50), 50))

	useful := tr.Evaluate(context.Background(), alertWith(types.PriorityHigh, map[string]any{"relevance": 0.5, "urgency": 0.9}))
	assert.Equal(t, ModeModel, useful.Mode)
	assert.True(t, useful.Deliver)
	assert.Greater(t, useful.Score, 0.5)

	noise := tr.Evaluate(context.Background(), alertWith(types.PriorityLow, map[string]any{"relevance": 0.5, "urgency": 0.1}))
	assert.False(t, noise.Deliver)
	assert.Equal(t, StateLearned, tr.State())
}

// stubClassifier counts fits and fails predictions on demand.
type stubClassifier struct {
	fits       int
	fitErr     error
	predictErr error
}

func (s *stubClassifier) Fit(X [][]float64, y []int) error {
	s.fits++
	return s.fitErr
}

func (s *stubClassifier) Predict(x []float64) (int, float64, error) {
	if s.predictErr != nil {
		return 0, 0, s.predictErr
	}
	return 0, 0.1, nil
}

func TestRetrain_OnEachHundredCrossed(t *testing.T) {
	stub := &stubClassifier{}
	tr := New(utcConfig(), WithClassifier(stub))
	records := feedbackSet(300)

	steps := []struct {
		total, fits int
	}{
		{50, 1}, {80, 1}, {99, 1}, {100, 2}, {150, 2}, {230, 3}, {240, 3}, {300, 4},
	}
	for _, s := range steps {
		require.NoError(t, tr.ObserveFeedback(records[:s.total], s.total))
		assert.Equal(t, s.fits, stub.fits, "after total=%d", s.total)
	}
}

func TestLearned_ClassifierFailureFallsBackToRules(t *testing.T) {
	stub := &stubClassifier{predictErr: errors.New("weights corrupted")}
	tr := New(utcConfig(), WithClassifier(stub), WithClock(clockAt(10)), WithAvailability(StaticAvailability(false)))
	require.NoError(t, tr.ObserveFeedback(feedbackSet(50), 50))

	d := tr.Evaluate(context.Background(), alertWith(types.PriorityHigh, map[string]any{"relevance": 0.9}))
	assert.True(t, d.Fallback)
	assert.Equal(t, ModeRules, d.Mode)
	assert.True(t, d.Deliver)
	assert.Equal(t, StateLearned, tr.State(), "fallback never changes state")
}

func TestLearned_MalformedFeatureFallsBack(t *testing.T) {
	tr := New(utcConfig(), WithClock(clockAt(10)))
	require.NoError(t, tr.ObserveFeedback(feedbackSet(50), 50))

	d := tr.Evaluate(context.Background(), alertWith(types.PriorityLow, map[string]any{"urgency": "tomorrow"}))
	assert.True(t, d.Fallback)
	assert.Equal(t, ModeRules, d.Mode)
}

func TestTransition_SurvivesTrainingFailure(t *testing.T) {
	stub := &stubClassifier{fitErr: errors.New("singular matrix")}
	tr := New(utcConfig(), WithClassifier(stub), WithClock(clockAt(10)))

	err := tr.ObserveFeedback(feedbackSet(50), 50)
	assert.ErrorIs(t, err, ErrTriage)
	assert.Equal(t, StateLearned, tr.State())
	assert.False(t, tr.Status().Trained)
}

func TestFeatures(t *testing.T) {
	a := alertWith(types.PriorityCritical, map[string]any{"urgency": 0.7, "relevance": 0.4})
	x, err := Features(a)
	require.NoError(t, err)
	assert.Equal(t, []float64{types.DefaultConfidence, 3, 2, 0.7}, x)

	x, err = Features(alertWith(types.PriorityLow, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.0, x[3], "missing urgency defaults to 0")

	_, err = Features(alertWith(types.PriorityLow, map[string]any{"urgency": []any{1}}))
	assert.ErrorIs(t, err, ErrTriage)
}

func TestLogisticRegression(t *testing.T) {
	m := NewLogisticRegression()
	_, _, err := m.Predict([]float64{1})
	assert.ErrorIs(t, err, ErrNotTrained)

	X := [][]float64{{0, 1}, {0.1, 1}, {0.9, 1}, {1, 1}}
	y := []int{0, 0, 1, 1}
	require.NoError(t, m.Fit(X, y))

	label, p, err := m.Predict([]float64{0.95, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, label)
	assert.Greater(t, p, 0.5)

	label, _, err = m.Predict([]float64{0.05, 1})
	require.NoError(t, err)
	assert.Equal(t, 0, label)

	_, _, err = m.Predict([]float64{1})
	assert.Error(t, err)

	assert.Error(t, m.Fit(nil, nil))
	assert.Error(t, m.Fit([][]float64{{1}, {1, 2}}, []int{0, 1}))

	// A failed Fit keeps the previous model.
	label, _, err = m.Predict([]float64{0.95, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, label)
}

func TestLogisticRegression_LearnsFromFeedbackFeatures(t *testing.T) {
	// High and critical alerts were useful, low and medium were not;
	// confidence and context size are noise.
	var X [][]float64
	var y []int
	for i := 0; i < 60; i++ {
		prio := float64(i % 4)
		X = append(X, []float64{0.5 + float64(i%5)/10, prio, float64(i % 3), 0.5})
		if prio >= 2 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	m := NewLogisticRegression()
	require.NoError(t, m.Fit(X, y))

	_, pLow, err := m.Predict([]float64{0.8, 0, 1, 0.5})
	require.NoError(t, err)
	_, pHigh, err := m.Predict([]float64{0.8, 3, 1, 0.5})
	require.NoError(t, err)
	assert.Less(t, pLow, 0.5)
	assert.Greater(t, pHigh, 0.5)
	assert.False(t, math.IsNaN(pLow))
}
