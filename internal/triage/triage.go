// Package triage decides whether a candidate alert is delivered.
//
// A Triage starts in StateRuleBased, where four predicates vote on each
// alert. Once enough feedback has accumulated it moves to StateLearned and
// asks a trained classifier instead. The transition happens once and is
// never undone; classifier failures fall back to the rules for that single
// alert.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/vigil/pkg/types"
)

// ErrTriage marks a classifier failure. Evaluate recovers from it by
// falling back to the rules.
var ErrTriage = errors.New("triage error")

// State is the triage state machine state.
type State string

const (
	StateRuleBased State = "rule_based"
	StateLearned   State = "learned"
)

// Decision modes.
const (
	ModeRules = "rules"
	ModeModel = "model"
)

// Context keys read from alerts.
const (
	relevanceKey = "relevance"
	urgencyKey   = "urgency"
)

// Decision is the outcome of evaluating one alert.
type Decision struct {
	Deliver  bool    `json:"deliver"`
	Mode     string  `json:"mode"`
	Score    float64 `json:"score"` // predicate votes (rules) or probability (model)
	Reason   string  `json:"reason"`
	Fallback bool    `json:"fallback,omitempty"` // model failed, rules decided
}

// Config holds triage tuning.
type Config struct {
	BusinessStartHour  int
	BusinessEndHour    int
	RelevanceThreshold float64
	MinVotes           int
	TrainThreshold     int
	RetrainEvery       int
	Location           *time.Location
}

// DefaultConfig returns 09:00-18:00 local business hours, a 0.6 relevance
// threshold, 2 of 4 votes, learning at 50 records and retraining every 100.
func DefaultConfig() Config {
	return Config{
		BusinessStartHour:  9,
		BusinessEndHour:    18,
		RelevanceThreshold: 0.6,
		MinVotes:           2,
		TrainThreshold:     50,
		RetrainEvery:       100,
		Location:           time.Local,
	}
}

// Status is a point-in-time view of the state machine.
type Status struct {
	State           State     `json:"state"`
	Trained         bool      `json:"trained"`
	TrainingRuns    int       `json:"training_runs"`
	LastTrainedSize int       `json:"last_trained_size"`
	TransitionedAt  time.Time `json:"transitioned_at,omitempty"`
}

// Option configures a Triage.
type Option func(*Triage)

// WithAvailability sets the availability signal. Without one the user is
// always considered available.
func WithAvailability(a Availability) Option {
	return func(t *Triage) { t.availability = a }
}

// WithClassifier replaces the default logistic regression.
func WithClassifier(c Classifier) Option {
	return func(t *Triage) { t.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Triage) { t.logger = l }
}

// WithClock overrides time.Now for the business-hours predicate.
func WithClock(now func() time.Time) Option {
	return func(t *Triage) { t.now = now }
}

// Triage is safe for concurrent use.
type Triage struct {
	cfg          Config
	availability Availability
	classifier   Classifier
	logger       *slog.Logger
	now          func() time.Time

	mu              sync.RWMutex
	state           State
	trained         bool
	trainingRuns    int
	lastBucket      int
	lastTrainedSize int
	transitionedAt  time.Time
}

// New returns a Triage in StateRuleBased.
func New(cfg Config, opts ...Option) *Triage {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RetrainEvery <= 0 {
		cfg.RetrainEvery = 100
	}
	t := &Triage{
		cfg:        cfg,
		classifier: NewLogisticRegression(),
		logger:     slog.Default(),
		now:        time.Now,
		state:      StateRuleBased,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Triage) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Status returns a snapshot of the state machine.
func (t *Triage) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{
		State:           t.state,
		Trained:         t.trained,
		TrainingRuns:    t.trainingRuns,
		LastTrainedSize: t.lastTrainedSize,
		TransitionedAt:  t.transitionedAt,
	}
}

// Evaluate decides whether alert should be delivered.
func (t *Triage) Evaluate(ctx context.Context, alert types.Alert) Decision {
	t.mu.RLock()
	learned := t.state == StateLearned
	t.mu.RUnlock()

	if !learned {
		return t.evaluateRules(ctx, alert)
	}

	d, err := t.evaluateModel(alert)
	if err != nil {
		t.logger.Warn("classifier failed, using rules for this alert",
			"kind", "triage", "alert", alert.ID, "error", err)
		d = t.evaluateRules(ctx, alert)
		d.Fallback = true
		return d
	}
	return d
}

func (t *Triage) evaluateModel(alert types.Alert) (Decision, error) {
	x, err := Features(alert)
	if err != nil {
		return Decision{}, err
	}
	t.mu.RLock()
	label, p, err := t.classifier.Predict(x)
	t.mu.RUnlock()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: predict: %v", ErrTriage, err)
	}
	return Decision{
		Deliver: label == 1,
		Mode:    ModeModel,
		Score:   p,
		Reason:  fmt.Sprintf("model p(useful)=%.2f", p),
	}, nil
}

func (t *Triage) evaluateRules(ctx context.Context, alert types.Alert) Decision {
	var passed []string

	if t.inBusinessHours() {
		passed = append(passed, "business_hours")
	}
	if alert.Priority >= types.PriorityHigh {
		passed = append(passed, "priority")
	}
	if rel, ok := alert.ContextFloat(relevanceKey); ok && rel > t.cfg.RelevanceThreshold {
		passed = append(passed, "relevance")
	}
	if t.available(ctx) {
		passed = append(passed, "available")
	}

	votes := len(passed)
	reason := fmt.Sprintf("rules %d/4", votes)
	if votes > 0 {
		reason += ": " + strings.Join(passed, ",")
	}
	return Decision{
		Deliver: votes >= t.cfg.MinVotes,
		Mode:    ModeRules,
		Score:   float64(votes),
		Reason:  reason,
	}
}

func (t *Triage) inBusinessHours() bool {
	h := t.now().In(t.cfg.Location).Hour()
	return h >= t.cfg.BusinessStartHour && h < t.cfg.BusinessEndHour
}

func (t *Triage) available(ctx context.Context) bool {
	if t.availability == nil {
		return true
	}
	ok, err := t.availability.Available(ctx)
	if err != nil {
		t.logger.Debug("availability signal failed, assuming available", "error", err)
		return true
	}
	return ok
}

// ObserveFeedback runs the training check after feedback was recorded.
// records is the full accumulated feedback set and total its monotonic
// count. The first time total reaches TrainThreshold the state moves to
// StateLearned; afterwards the classifier is retrained each time total
// crosses a multiple of RetrainEvery. A training failure is returned but
// never blocks the transition.
func (t *Triage) ObserveFeedback(records []types.FeedbackRecord, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := total / t.cfg.RetrainEvery
	switch {
	case t.state == StateRuleBased && total >= t.cfg.TrainThreshold:
		t.state = StateLearned
		t.transitionedAt = t.now()
		t.lastBucket = bucket
		t.logger.Info("triage switching to learned model", "feedback", total)
		return t.train(records)
	case t.state == StateLearned && bucket > t.lastBucket:
		t.lastBucket = bucket
		t.logger.Info("retraining triage model", "feedback", total)
		return t.train(records)
	}
	return nil
}

// train fits the classifier on records. Caller holds t.mu.
func (t *Triage) train(records []types.FeedbackRecord) error {
	X := make([][]float64, 0, len(records))
	y := make([]int, 0, len(records))
	skipped := 0
	for _, r := range records {
		x, err := Features(r.Alert)
		if err != nil {
			skipped++
			continue
		}
		X = append(X, x)
		y = append(y, r.Label())
	}
	if skipped > 0 {
		t.logger.Warn("skipped feedback with malformed features", "skipped", skipped)
	}

	t.trainingRuns++
	if err := t.classifier.Fit(X, y); err != nil {
		t.trained = false
		err = fmt.Errorf("%w: fit: %v", ErrTriage, err)
		t.logger.Error("triage training failed", "kind", "triage", "error", err)
		return err
	}
	t.trained = true
	t.lastTrainedSize = len(X)
	return nil
}

// Features extracts [confidence, priority ordinal, len(context), urgency].
// A missing urgency counts as 0; a non-numeric one is an error.
func Features(alert types.Alert) ([]float64, error) {
	urgency, ok := alert.ContextFloat(urgencyKey)
	if !ok {
		return nil, fmt.Errorf("%w: urgency is %T, not a number", ErrTriage, alert.Context[urgencyKey])
	}
	x := []float64{
		alert.Confidence,
		alert.Priority.Ordinal(),
		float64(len(alert.Context)),
		urgency,
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: feature %d is not finite", ErrTriage, i)
		}
	}
	return x, nil
}
