// Package encoder maps raw image-derived feature vectors into the numeric
// domain expected by a kernel evaluator.
//
// Encoding must be deterministic: the same raw input yields a bit-identical
// FeatureVector. Cache keys and reproducible kernel rows depend on it.
package encoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Default encoding constants. The output range [0, pi] matches the rotation
// angles consumed by the quantum feature map; the classical kernel is
// insensitive to the particular range as long as it is fixed.
const (
	defaultTargetDim = 4
	defaultRangeLo   = 0
	defaultRangeHi   = math.Pi
)

// Option applies a configuration option to the Encoder.
type Option func(*Encoder)

// WithInputDim pins the expected raw feature length. Zero (the default)
// accepts any length not smaller than the target dimension.
func WithInputDim(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.inputDim = n
		}
	}
}

// WithTargetDim sets the encoded output length, e.g. the qubit budget.
func WithTargetDim(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.targetDim = n
		}
	}
}

// WithRange sets the normalized output value range.
func WithRange(lo, hi float64) Option {
	return func(e *Encoder) {
		if hi > lo {
			e.lo = lo
			e.hi = hi
		}
	}
}

// Encoder is a pure function object; it holds configuration only and is safe
// for unlimited concurrent use.
type Encoder struct {
	inputDim  int
	targetDim int
	lo, hi    float64
}

// New creates an Encoder with configuration options.
func New(opts ...Option) *Encoder {
	e := &Encoder{
		targetDim: defaultTargetDim,
		lo:        defaultRangeLo,
		hi:        defaultRangeHi,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TargetDim returns the encoded output length.
func (e *Encoder) TargetDim() int {
	return e.targetDim
}

// Encode normalizes raw features into [lo, hi] and reduces them to the
// target dimension by averaging contiguous blocks. Block boundaries depend
// only on the input length, so the reduction is deterministic.
func (e *Encoder) Encode(raw []float64) (model.FeatureVector, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty feature vector", ErrEncoding)
	}
	if e.inputDim > 0 && len(raw) != e.inputDim {
		return nil, fmt.Errorf("%w: got %d features, schema expects %d", ErrEncoding, len(raw), e.inputDim)
	}
	if len(raw) < e.targetDim {
		return nil, fmt.Errorf("%w: got %d features, need at least %d", ErrEncoding, len(raw), e.targetDim)
	}
	for i, x := range raw {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrEncoding, i)
		}
	}

	folded := fold(raw, e.targetDim)

	// Min-max normalization into the configured range. A constant vector
	// maps to the range midpoint.
	lo, hi := folded[0], folded[0]
	for _, x := range folded {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	out := make(model.FeatureVector, len(folded))
	if hi == lo {
		mid := e.lo + (e.hi-e.lo)/2
		for i := range out {
			out[i] = mid
		}
		return out, nil
	}
	for i, x := range folded {
		out[i] = e.lo + (x-lo)/(hi-lo)*(e.hi-e.lo)
	}
	return out, nil
}

// fold partitions raw into dim contiguous blocks and takes each block mean.
func fold(raw []float64, dim int) []float64 {
	if len(raw) == dim {
		out := make([]float64, dim)
		copy(out, raw)
		return out
	}
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		start := i * len(raw) / dim
		end := (i + 1) * len(raw) / dim
		out[i] = stat.Mean(raw[start:end], nil)
	}
	return out
}
