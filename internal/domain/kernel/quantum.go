package kernel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Default quantum evaluation constants.
const (
	defaultShots          = 1024
	defaultQubitBudget    = 4
	defaultBackendTimeout = 5 * time.Second
)

// Backend estimates the fidelity (squared state overlap) between the
// feature-map states of two vectors. Implementations must be safe for
// concurrent calls; batched evaluation fans out one call per reference.
type Backend interface {
	// EstimateFidelity returns the shot-averaged squared overlap between
	// the feature-map states of x and y. shots <= 0 requests the exact
	// (infinite-shot) value where the backend supports it.
	EstimateFidelity(ctx context.Context, x, y model.FeatureVector, shots int) (float64, error)

	// Name identifies the backend for the model catalog and health checks.
	Name() string
}

// QuantumOption applies a configuration option to the QuantumEvaluator.
type QuantumOption func(*QuantumEvaluator)

// WithShots sets the sampling count per kernel value.
func WithShots(shots int) QuantumOption {
	return func(e *QuantumEvaluator) {
		if shots > 0 {
			e.shots = shots
		}
	}
}

// WithQubitBudget caps the encoded feature length the circuit accepts.
func WithQubitBudget(n int) QuantumOption {
	return func(e *QuantumEvaluator) {
		if n > 0 {
			e.qubitBudget = n
		}
	}
}

// WithBackendTimeout bounds a full kernel-row evaluation. This timeout is
// separate from the caller's overall request deadline.
func WithBackendTimeout(d time.Duration) QuantumOption {
	return func(e *QuantumEvaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// QuantumEvaluator computes a fidelity kernel row against its reference set
// through a Backend. Per-reference estimations are independent and run in
// parallel; there is no shared mutable state between them.
type QuantumEvaluator struct {
	refs        *ReferenceSet
	backend     Backend
	shots       int
	qubitBudget int
	timeout     time.Duration
}

// NewQuantumEvaluator creates a quantum kernel evaluator over refs.
func NewQuantumEvaluator(refs *ReferenceSet, backend Backend, opts ...QuantumOption) *QuantumEvaluator {
	e := &QuantumEvaluator{
		refs:        refs,
		backend:     backend,
		shots:       defaultShots,
		qubitBudget: defaultQubitBudget,
		timeout:     defaultBackendTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind reports the model identity of this evaluator.
func (e *QuantumEvaluator) Kind() model.Kind { return model.KindQuantum }

// References returns the reference set size.
func (e *QuantumEvaluator) References() int { return e.refs.Len() }

// BackendName reports the configured execution backend.
func (e *QuantumEvaluator) BackendName() string { return e.backend.Name() }

// Evaluate computes the fidelity kernel row for query. Estimates are clamped
// to [0,1]: sampling noise can produce raw values slightly outside the range.
func (e *QuantumEvaluator) Evaluate(ctx context.Context, query model.FeatureVector) (Row, error) {
	if len(query) > e.qubitBudget {
		return nil, fmt.Errorf("%w: %d features exceed qubit budget %d",
			ErrCircuit, len(query), e.qubitBudget)
	}
	if len(query) != e.refs.Dim() {
		return nil, fmt.Errorf("%w: query dimension %d, reference dimension %d",
			ErrDimensionMismatch, len(query), e.refs.Dim())
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	row := make(Row, e.refs.Len())
	errs := make([]error, e.refs.Len())
	var wg sync.WaitGroup
	for i := 0; i < e.refs.Len(); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := e.backend.EstimateFidelity(ctx, query, e.refs.Vector(i), e.shots)
			if err != nil {
				errs[i] = err
				return
			}
			row[i] = math.Max(0, math.Min(1, f))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: evaluation timed out after %s", ErrBackendUnavailable, e.timeout)
			}
			return nil, err
		}
	}
	return row, nil
}

// Score maps a kernel row to the lesion probability via the dual formulation
// of the quantum reference set.
func (e *QuantumEvaluator) Score(row Row) (float64, error) {
	m, err := e.refs.Margin(row)
	if err != nil {
		return 0, err
	}
	return sigmoid(m), nil
}

// Assess runs Evaluate and Score and packages the outcome as a verdict. The
// diagnostics carry the shot count and the implied statistical uncertainty
// per kernel value, so callers never mistake the estimate for an exact value.
func (e *QuantumEvaluator) Assess(ctx context.Context, query model.FeatureVector) (model.Verdict, error) {
	start := time.Now()
	row, err := e.Evaluate(ctx, query)
	if err != nil {
		return model.Verdict{}, err
	}
	margin, err := e.refs.Margin(row)
	if err != nil {
		return model.Verdict{}, err
	}
	diag := rowDiagnostics(row, margin)
	diag["shots"] = float64(e.shots)
	diag["shot_noise"] = 1 / math.Sqrt(float64(e.shots))
	v := verdictFromMargin(e.Kind(), margin, diag)
	v.Latency = time.Since(start)
	return v, nil
}
