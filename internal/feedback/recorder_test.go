package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/vigil/internal/notify"
	"github.com/scrypster/vigil/internal/triage"
	"github.com/scrypster/vigil/pkg/types"
)

func newAlert() types.Alert {
	return types.NewAlert(types.AlertMeetingPrep, "meeting_preparation:x", types.PriorityMedium,
		"Prep", "soon", map[string]any{"urgency": 0.5}, time.Now())
}

type countingObserver struct {
	mu     sync.Mutex
	totals []int
	sizes  []int
	err    error
}

func (o *countingObserver) ObserveFeedback(records []types.FeedbackRecord, total int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.totals = append(o.totals, total)
	o.sizes = append(o.sizes, len(records))
	return o.err
}

func TestRecordAppendsAndObserves(t *testing.T) {
	obs := &countingObserver{}
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(obs, WithClock(func() time.Time { return fixed }))
	alert := newAlert()

	rec, err := r.Record(context.Background(), alert, true, "helpful")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, alert.ID, rec.AlertID)
	assert.True(t, rec.WasUseful)
	assert.Equal(t, "helpful", rec.Note)
	assert.Equal(t, fixed, rec.Timestamp)
	assert.Equal(t, 1, rec.Label())

	assert.Equal(t, 1, r.Total())
	assert.True(t, r.Has(alert.ID))
	assert.Equal(t, []int{1}, obs.totals)
}

func TestRecordRejectsDuplicatesAndMissingID(t *testing.T) {
	r := NewRecorder(nil)
	alert := newAlert()

	_, err := r.Record(context.Background(), alert, true, "")
	require.NoError(t, err)
	_, err = r.Record(context.Background(), alert, false, "")
	assert.ErrorIs(t, err, ErrDuplicateFeedback)

	_, err = r.Record(context.Background(), types.Alert{}, false, "")
	assert.ErrorIs(t, err, ErrInvalidFeedback)
	assert.Equal(t, 1, r.Total())
}

func TestRecordSnapshotsAlert(t *testing.T) {
	r := NewRecorder(nil)
	alert := newAlert()
	_, err := r.Record(context.Background(), alert, true, "")
	require.NoError(t, err)

	alert.Context["urgency"] = 0.99
	assert.Equal(t, 0.5, r.Records()[0].Alert.Context["urgency"])
}

func TestBoundedLogKeepsMonotonicTotal(t *testing.T) {
	obs := &countingObserver{}
	r := NewRecorder(obs, WithCapacity(3))

	var first types.Alert
	for i := 0; i < 5; i++ {
		a := newAlert()
		if i == 0 {
			first = a
		}
		_, err := r.Record(context.Background(), a, i%2 == 0, "")
		require.NoError(t, err)
	}

	assert.Equal(t, 5, r.Total())
	assert.Len(t, r.Records(), 3)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, obs.totals)
	assert.Equal(t, []int{1, 2, 3, 3, 3}, obs.sizes)
	assert.False(t, r.Has(first.ID), "evicted alerts no longer count as rated")
}

func TestObserverErrorDoesNotFailRecord(t *testing.T) {
	r := NewRecorder(&countingObserver{err: errors.New("fit failed")})
	_, err := r.Record(context.Background(), newAlert(), true, "")
	assert.NoError(t, err)
}

func TestRecorderDrivesTriageTransition(t *testing.T) {
	tr := triage.New(triage.DefaultConfig())
	r := NewRecorder(tr)

	for i := 0; i < 49; i++ {
		_, err := r.Record(context.Background(), newAlert(), i%2 == 0, "")
		require.NoError(t, err)
	}
	assert.Equal(t, triage.StateRuleBased, tr.State())

	_, err := r.Record(context.Background(), newAlert(), true, "")
	require.NoError(t, err)
	assert.Equal(t, triage.StateLearned, tr.State())
}

func TestConcurrentRecord(t *testing.T) {
	r := NewRecorder(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Record(context.Background(), newAlert(), true, "")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, r.Total())
}

func TestSQLiteStoreRoundTripAndLoad(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "feedback.db")
	store, err := NewSQLiteStore(dsn)
	require.NoError(t, err)

	r := NewRecorder(nil, WithStore(store))
	a1, a2 := newAlert(), newAlert()
	_, err = r.Record(context.Background(), a1, true, "good")
	require.NoError(t, err)
	_, err = r.Record(context.Background(), a2, false, "")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, a1.ID, loaded[0].AlertID)
	assert.Equal(t, "good", loaded[0].Note)
	assert.Equal(t, types.PriorityMedium, loaded[0].Alert.Priority)
	assert.False(t, loaded[1].WasUseful)

	obs := &countingObserver{}
	restored := NewRecorder(obs, WithStore(store))
	n, err := restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, restored.Total())
	assert.Equal(t, []int{2}, obs.totals)

	_, err = restored.Record(context.Background(), a1, true, "")
	assert.ErrorIs(t, err, ErrDuplicateFeedback)

	// Reloading does not double-count.
	n, err = restored.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, restored.Total())
	assert.Len(t, restored.Records(), 2)
}

type lookupMap map[string]types.Alert

func (m lookupMap) Delivered(id string) (types.Alert, bool) {
	a, ok := m[id]
	return a, ok
}

func TestSubmit(t *testing.T) {
	alert := newAlert()
	r := NewRecorder(nil)
	lookup := lookupMap{alert.ID: alert}

	_, err := Submit(context.Background(), r, lookup, Submission{AlertID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownAlert)
	_, err = Submit(context.Background(), r, lookup, Submission{})
	assert.ErrorIs(t, err, ErrInvalidFeedback)

	rec, err := Submit(context.Background(), r, lookup, Submission{AlertID: alert.ID, Useful: true})
	require.NoError(t, err)
	assert.Equal(t, alert.ID, rec.AlertID)
}

func TestInboxRecordsDroppedFiles(t *testing.T) {
	dataPath := t.TempDir()
	alert := newAlert()
	r := NewRecorder(nil)

	in := NewInbox(dataPath, r, lookupMap{alert.ID: alert}, nil)
	require.NoError(t, in.Start())
	defer in.Stop()

	data, err := json.Marshal(Submission{AlertID: alert.ID, Useful: true, Note: "from cli"})
	require.NoError(t, err)
	require.NoError(t, notify.WriteFileAtomic(filepath.Join(in.Dir(), "rating.json"), data))

	require.Eventually(t, func() bool { return r.Has(alert.ID) }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "from cli", r.Records()[0].Note)
}
