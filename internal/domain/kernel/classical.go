package kernel

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/apexrad/periscan/internal/domain/model"
)

// defaultGamma is the default RBF width.
const defaultGamma = 0.5

// RBFOption applies a configuration option to the RBFEvaluator.
type RBFOption func(*RBFEvaluator)

// WithGamma sets the RBF kernel width. Must be positive.
func WithGamma(gamma float64) RBFOption {
	return func(e *RBFEvaluator) {
		if gamma > 0 {
			e.gamma = gamma
		}
	}
}

// RBFEvaluator computes the classical RBF kernel against its reference set:
// K(x, r) = exp(-gamma * ||x - r||^2). Every value lies in (0, 1].
type RBFEvaluator struct {
	refs  *ReferenceSet
	gamma float64
}

// NewRBFEvaluator creates a classical kernel evaluator over refs.
func NewRBFEvaluator(refs *ReferenceSet, opts ...RBFOption) *RBFEvaluator {
	e := &RBFEvaluator{
		refs:  refs,
		gamma: defaultGamma,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind reports the model identity of this evaluator.
func (e *RBFEvaluator) Kind() model.Kind { return model.KindSVM }

// References returns the reference set size.
func (e *RBFEvaluator) References() int { return e.refs.Len() }

// Evaluate computes the kernel row for query against every reference entry.
func (e *RBFEvaluator) Evaluate(_ context.Context, query model.FeatureVector) (Row, error) {
	if len(query) != e.refs.Dim() {
		return nil, fmt.Errorf("%w: query dimension %d, reference dimension %d",
			ErrDimensionMismatch, len(query), e.refs.Dim())
	}
	row := make(Row, e.refs.Len())
	for i := range row {
		d := floats.Distance(query, e.refs.Vector(i), 2)
		row[i] = math.Exp(-e.gamma * d * d)
	}
	return row, nil
}

// Score maps a kernel row to the lesion probability via the dual formulation.
func (e *RBFEvaluator) Score(row Row) (float64, error) {
	m, err := e.refs.Margin(row)
	if err != nil {
		return 0, err
	}
	return sigmoid(m), nil
}

// Assess runs Evaluate and Score and packages the outcome as a verdict.
func (e *RBFEvaluator) Assess(ctx context.Context, query model.FeatureVector) (model.Verdict, error) {
	start := time.Now()
	row, err := e.Evaluate(ctx, query)
	if err != nil {
		return model.Verdict{}, err
	}
	margin, err := e.refs.Margin(row)
	if err != nil {
		return model.Verdict{}, err
	}
	v := verdictFromMargin(e.Kind(), margin, rowDiagnostics(row, margin))
	v.Latency = time.Since(start)
	return v, nil
}
