package kernel

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrad/periscan/internal/domain/model"
)

func lesionNormalRefs(t *testing.T) *ReferenceSet {
	t.Helper()
	refs, err := NewReferenceSet([]Entry{
		{Vector: model.FeatureVector{0.1, 0.3, 0.2, 0.9}, Label: 1, Alpha: 0.8},
		{Vector: model.FeatureVector{0.7, 0.5, 0.6, 0.2}, Label: -1, Alpha: 0.6},
	}, -0.1)
	require.NoError(t, err)
	return refs
}

func TestRBFScenario(t *testing.T) {
	// Query [0.2,0.4,0.1,0.8] against a two-entry reference set with
	// gamma=0.5; the row and sigmoid score must match the closed formulas.
	refs := lesionNormalRefs(t)
	eval := NewRBFEvaluator(refs, WithGamma(0.5))

	query := model.FeatureVector{0.2, 0.4, 0.1, 0.8}
	row, err := eval.Evaluate(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, row, 2)

	expectRow := make([]float64, 2)
	for i := 0; i < 2; i++ {
		var d2 float64
		for j := range query {
			diff := query[j] - refs.Vector(i)[j]
			d2 += diff * diff
		}
		expectRow[i] = math.Exp(-0.5 * d2)
	}
	assert.InDelta(t, expectRow[0], row[0], 1e-12)
	assert.InDelta(t, expectRow[1], row[1], 1e-12)
	assert.InDelta(t, 0.9802, row[0], 1e-4)
	assert.InDelta(t, 0.6473, row[1], 1e-4)

	score, err := eval.Score(row)
	require.NoError(t, err)
	margin := 0.8*1*row[0] + 0.6*(-1)*row[1] - 0.1
	assert.InDelta(t, 1/(1+math.Exp(-margin)), score, 1e-12)
	assert.InDelta(t, 0.5734, score, 1e-3)
}

func TestRBFKernelRange(t *testing.T) {
	refs := lesionNormalRefs(t)
	eval := NewRBFEvaluator(refs, WithGamma(2.0))

	queries := []model.FeatureVector{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{0.1, 0.3, 0.2, 0.9}, // identical to a reference
		{-3, 5, 2, -7},
	}
	for _, q := range queries {
		row, err := eval.Evaluate(context.Background(), q)
		require.NoError(t, err)
		for _, k := range row {
			assert.Greater(t, k, 0.0)
			assert.LessOrEqual(t, k, 1.0)
		}
	}

	// A query equal to a reference vector hits the kernel maximum.
	row, err := eval.Evaluate(context.Background(), model.FeatureVector{0.1, 0.3, 0.2, 0.9})
	require.NoError(t, err)
	assert.Equal(t, 1.0, row[0])
}

func TestRBFDimensionMismatch(t *testing.T) {
	refs := lesionNormalRefs(t)
	eval := NewRBFEvaluator(refs)

	_, err := eval.Evaluate(context.Background(), model.FeatureVector{0.2, 0.4})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = eval.Score(Row{0.5})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRBFAssessVerdict(t *testing.T) {
	refs := lesionNormalRefs(t)
	eval := NewRBFEvaluator(refs, WithGamma(0.5))

	v, err := eval.Assess(context.Background(), model.FeatureVector{0.2, 0.4, 0.1, 0.8})
	require.NoError(t, err)
	assert.Equal(t, model.KindSVM, v.Model)
	assert.Equal(t, model.LabelLesion, v.Label)
	assert.GreaterOrEqual(t, v.Confidence, 0.5)
	assert.LessOrEqual(t, v.Confidence, 1.0)
	assert.Contains(t, v.Features, "margin")
	assert.Contains(t, v.Features, "kernel_mean")

	// Identical inputs must produce identical verdicts.
	v2, err := eval.Assess(context.Background(), model.FeatureVector{0.2, 0.4, 0.1, 0.8})
	require.NoError(t, err)
	assert.Equal(t, v.Label, v2.Label)
	assert.Equal(t, v.Confidence, v2.Confidence)
}

func TestReferenceSetValidation(t *testing.T) {
	_, err := NewReferenceSet(nil, 0)
	assert.Error(t, err)

	_, err = NewReferenceSet([]Entry{
		{Vector: model.FeatureVector{1, 2}, Label: 1, Alpha: 1},
		{Vector: model.FeatureVector{1, 2, 3}, Label: -1, Alpha: 1},
	}, 0)
	assert.Error(t, err)

	_, err = NewReferenceSet([]Entry{
		{Vector: model.FeatureVector{1, 2}, Label: 0.5, Alpha: 1},
	}, 0)
	assert.Error(t, err)
}

func TestReferenceSetImmutable(t *testing.T) {
	src := model.FeatureVector{0.1, 0.2}
	refs, err := NewReferenceSet([]Entry{{Vector: src, Label: 1, Alpha: 1}}, 0)
	require.NoError(t, err)

	src[0] = 99
	assert.Equal(t, 0.1, refs.Vector(0)[0])
}
