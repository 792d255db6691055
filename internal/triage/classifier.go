package triage

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrNotTrained is returned by Predict before a successful Fit.
var ErrNotTrained = errors.New("classifier not trained")

// Classifier is a binary classifier over fixed-length feature vectors.
type Classifier interface {
	Fit(X [][]float64, y []int) error
	// Predict returns the label and the probability of label 1.
	Predict(x []float64) (int, float64, error)
}

// LogisticRegression is L2-regularised logistic regression over
// standardised features, fitted with gonum's BFGS minimiser. Not safe for
// concurrent Fit; Triage serialises access.
type LogisticRegression struct {
	Iterations int
	L2         float64

	weights []float64
	bias    float64
	mean    []float64
	scale   []float64
}

// NewLogisticRegression returns a model with default settings.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{Iterations: 200, L2: 0.01}
}

// Fit trains on X and y, replacing any previous model. The old model is
// kept when Fit fails.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("no training samples")
	}
	if len(X) != len(y) {
		return fmt.Errorf("got %d samples and %d labels", len(X), len(y))
	}
	dim := len(X[0])
	if dim == 0 {
		return errors.New("empty feature vector")
	}
	for i, row := range X {
		if len(row) != dim {
			return fmt.Errorf("sample %d has %d features, want %d", i, len(row), dim)
		}
	}

	mean := make([]float64, dim)
	scale := make([]float64, dim)
	column := make([]float64, len(X))
	for j := 0; j < dim; j++ {
		for i, row := range X {
			column[i] = row[j]
		}
		mean[j], scale[j] = stat.MeanStdDev(column, nil)
		if math.IsNaN(scale[j]) || scale[j] < 1e-9 {
			scale[j] = 1
		}
	}

	Z := make([][]float64, len(X))
	labels := make([]float64, len(y))
	for i, row := range X {
		Z[i] = standardise(row, mean, scale)
		labels[i] = float64(y[i])
	}

	// Parameters are the weights followed by the bias.
	n := float64(len(Z))
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			w, b := p[:dim], p[dim]
			var loss float64
			for i, z := range Z {
				s := floats.Dot(w, z) + b
				// log(1+e^s) - y*s, the negative log-likelihood.
				loss += softplus(s) - labels[i]*s
			}
			return loss/n + 0.5*m.L2*floats.Dot(w, w)
		},
		Grad: func(grad, p []float64) {
			w, b := p[:dim], p[dim]
			for k := range grad {
				grad[k] = 0
			}
			for i, z := range Z {
				diff := sigmoid(floats.Dot(w, z)+b) - labels[i]
				floats.AddScaled(grad[:dim], diff, z)
				grad[dim] += diff
			}
			floats.Scale(1/n, grad)
			floats.AddScaled(grad[:dim], m.L2, w)
		},
	}

	result, err := optimize.Minimize(problem, make([]float64, dim+1),
		&optimize.Settings{MajorIterations: m.Iterations}, &optimize.BFGS{})
	if result == nil {
		return fmt.Errorf("fit: %w", err)
	}
	// A line-search stall still leaves a usable minimum in result.X.
	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("fit diverged: %v", err)
		}
	}

	m.weights = append([]float64(nil), result.X[:dim]...)
	m.bias = result.X[dim]
	m.mean, m.scale = mean, scale
	return nil
}

// Predict implements Classifier.
func (m *LogisticRegression) Predict(x []float64) (int, float64, error) {
	if m.weights == nil {
		return 0, 0, ErrNotTrained
	}
	if len(x) != len(m.weights) {
		return 0, 0, fmt.Errorf("got %d features, model expects %d", len(x), len(m.weights))
	}
	p := sigmoid(floats.Dot(m.weights, standardise(x, m.mean, m.scale)) + m.bias)
	if p >= 0.5 {
		return 1, p, nil
	}
	return 0, p, nil
}

func standardise(x, mean, scale []float64) []float64 {
	z := make([]float64, len(x))
	for j, v := range x {
		z[j] = (v - mean[j]) / scale[j]
	}
	return z
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func softplus(v float64) float64 {
	if v > 30 {
		return v
	}
	return math.Log1p(math.Exp(v))
}
