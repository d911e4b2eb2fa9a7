// Package fusion combines per-model verdicts into one final decision.
package fusion

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/apexrad/periscan/internal/domain/model"
)

// defaultWeight is used for models without a configured weight.
const defaultWeight = 1.0

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWeights sets per-model fusion weights. Non-positive weights are ignored.
func WithWeights(weights map[model.Kind]float64) Option {
	return func(e *Engine) {
		e.weights = make(map[model.Kind]float64, len(weights))
		for k, w := range weights {
			if w > 0 {
				e.weights[k] = w
			}
		}
	}
}

// WithDefaultWeight sets the weight for models absent from the weight map.
func WithDefaultWeight(w float64) Option {
	return func(e *Engine) {
		if w > 0 {
			e.defaultWeight = w
		}
	}
}

// WithTieBreak sets the model whose label wins weighted-vote ties. The
// default favors the quantum model; the choice is explicit configuration,
// not a hidden constant.
func WithTieBreak(kind model.Kind) Option {
	return func(e *Engine) {
		if kind != "" {
			e.tieBreak = kind
		}
	}
}

// Engine applies a fusion policy to a set of verdicts. Stateless after
// construction; safe for concurrent use.
type Engine struct {
	weights       map[model.Kind]float64
	defaultWeight float64
	tieBreak      model.Kind
}

// New creates a fusion engine with configuration options.
func New(opts ...Option) *Engine {
	e := &Engine{
		weights:       make(map[model.Kind]float64),
		defaultWeight: defaultWeight,
		tieBreak:      model.KindQuantum,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fuse combines verdicts under the given policy. The result depends only on
// the verdict set, never on its iteration order.
func (e *Engine) Fuse(verdicts []model.Verdict, policy model.Policy) (model.FusedResult, error) {
	if len(verdicts) == 0 {
		return model.FusedResult{}, ErrNoVerdicts
	}

	// Canonical order: by model kind. Makes every downstream reduction and
	// the reported verdict list independent of evaluator completion order.
	sorted := make([]model.Verdict, len(verdicts))
	copy(sorted, verdicts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Model < sorted[j].Model })

	res := model.FusedResult{
		Policy:   policy,
		Verdicts: sorted,
		TieBreak: e.tieBreak,
	}

	switch policy {
	case model.PolicySingle:
		if len(sorted) != 1 {
			return model.FusedResult{}, fmt.Errorf("single policy expects one verdict, got %d", len(sorted))
		}
		res.Label = sorted[0].Label
		res.Confidence = sorted[0].Confidence
		return res, nil

	case model.PolicyBestOf:
		best := sorted[0]
		for _, v := range sorted[1:] {
			if v.Confidence > best.Confidence {
				best = v
			}
		}
		res.Label = best.Label
		res.Confidence = best.Confidence
		return res, nil

	case model.PolicyWeighted:
		label, conf := e.weightedVote(sorted)
		res.Label = label
		res.Confidence = conf
		return res, nil

	default:
		return model.FusedResult{}, fmt.Errorf("unknown fusion policy %q", policy)
	}
}

// weightedVote computes the weighted mean confidence and the majority label.
// The label vote sums weighted confidence per label; ties go to the
// configured tie-break model's label when it contributed.
func (e *Engine) weightedVote(verdicts []model.Verdict) (model.Label, float64) {
	confs := make([]float64, len(verdicts))
	weights := make([]float64, len(verdicts))
	votes := make(map[model.Label]float64, 2)
	var tieBreakLabel model.Label

	for i, v := range verdicts {
		w := e.weight(v.Model)
		confs[i] = v.Confidence
		weights[i] = w
		votes[v.Label] += w * v.Confidence
		if v.Model == e.tieBreak {
			tieBreakLabel = v.Label
		}
	}

	conf := stat.Mean(confs, weights)

	lesion, normal := votes[model.LabelLesion], votes[model.LabelNormal]
	switch {
	case lesion > normal:
		return model.LabelLesion, conf
	case normal > lesion:
		return model.LabelNormal, conf
	case tieBreakLabel != "":
		return tieBreakLabel, conf
	default:
		// Exact tie without the tie-break model present: the conservative
		// call for a screening aid is to flag the lesion.
		return model.LabelLesion, conf
	}
}

func (e *Engine) weight(kind model.Kind) float64 {
	if w, ok := e.weights[kind]; ok {
		return w
	}
	return e.defaultWeight
}
