// Package kernel implements the classical and quantum kernel evaluators.
//
// Both evaluators score a query vector against an immutable ReferenceSet
// (the frozen support data of a trained dual-form classifier) and turn the
// resulting kernel row into a verdict via the same dual formulation:
//
//	confidence = sigmoid(sum_i alpha_i * y_i * K_i + b)
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Row is one similarity value per reference entry, produced for a single
// query. Its length always equals the reference set length.
type Row []float64

// Evaluator produces a verdict for an encoded query vector. Implementations
// are safe for unlimited concurrent calls: the reference set is read-only
// after construction.
type Evaluator interface {
	Kind() model.Kind
	Assess(ctx context.Context, query model.FeatureVector) (model.Verdict, error)
}

// Entry is one support vector with its trained label and dual coefficient.
type Entry struct {
	Vector model.FeatureVector `json:"vector"`
	Label  float64             `json:"label"` // +1 lesion, -1 normal
	Alpha  float64             `json:"alpha"`
}

// ReferenceSet holds the frozen support data of a trained kernel model.
// Immutable after construction; owned exclusively by its evaluator.
type ReferenceSet struct {
	vectors []model.FeatureVector
	labels  []float64
	alphas  []float64
	bias    float64
	dim     int
}

// NewReferenceSet validates and freezes the given support data.
func NewReferenceSet(entries []Entry, bias float64) (*ReferenceSet, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("reference set must not be empty")
	}
	dim := len(entries[0].Vector)
	rs := &ReferenceSet{
		vectors: make([]model.FeatureVector, len(entries)),
		labels:  make([]float64, len(entries)),
		alphas:  make([]float64, len(entries)),
		bias:    bias,
		dim:     dim,
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("reference %d has dimension %d, want %d", i, len(e.Vector), dim)
		}
		if e.Label != 1 && e.Label != -1 {
			return nil, fmt.Errorf("reference %d has label %v, want +1 or -1", i, e.Label)
		}
		rs.vectors[i] = e.Vector.Clone()
		rs.labels[i] = e.Label
		rs.alphas[i] = e.Alpha
	}
	return rs, nil
}

// refSetFile is the on-disk shape of a trained reference set.
type refSetFile struct {
	Bias    float64 `json:"bias"`
	Entries []Entry `json:"entries"`
}

// LoadReferenceSetFile reads a trained reference set from a JSON file.
func LoadReferenceSetFile(path string) (*ReferenceSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference set: %w", err)
	}
	var f refSetFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse reference set %s: %w", path, err)
	}
	return NewReferenceSet(f.Entries, f.Bias)
}

// Len returns the number of reference entries.
func (r *ReferenceSet) Len() int { return len(r.vectors) }

// Dim returns the feature dimension of the reference vectors.
func (r *ReferenceSet) Dim() int { return r.dim }

// Bias returns the trained bias term.
func (r *ReferenceSet) Bias() float64 { return r.bias }

// Vector returns the i-th reference vector. Callers must not mutate it.
func (r *ReferenceSet) Vector(i int) model.FeatureVector { return r.vectors[i] }

// Margin computes the dual-form decision value for a kernel row:
// sum_i alpha_i * y_i * K_i + b.
func (r *ReferenceSet) Margin(row Row) (float64, error) {
	if len(row) != len(r.vectors) {
		return 0, fmt.Errorf("%w: kernel row length %d, reference set length %d",
			ErrDimensionMismatch, len(row), len(r.vectors))
	}
	m := r.bias
	for i, k := range row {
		m += r.alphas[i] * r.labels[i] * k
	}
	return m, nil
}

// sigmoid maps a decision margin to (0,1).
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// verdictFromMargin turns a decision margin into a labeled verdict. The
// sigmoid of the margin is the lesion probability; the reported confidence
// is the probability of the chosen label.
func verdictFromMargin(kind model.Kind, margin float64, features map[string]float64) model.Verdict {
	p := sigmoid(margin)
	v := model.Verdict{
		Model:    kind,
		Features: features,
	}
	if p >= 0.5 {
		v.Label = model.LabelLesion
		v.Confidence = p
	} else {
		v.Label = model.LabelNormal
		v.Confidence = 1 - p
	}
	return v
}

// rowDiagnostics summarizes a kernel row for the verdict's per-feature
// diagnostic scores.
func rowDiagnostics(row Row, margin float64) map[string]float64 {
	minK, maxK, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, k := range row {
		minK = math.Min(minK, k)
		maxK = math.Max(maxK, k)
		sum += k
	}
	return map[string]float64{
		"kernel_mean": sum / float64(len(row)),
		"kernel_min":  minK,
		"kernel_max":  maxK,
		"margin":      margin,
	}
}
