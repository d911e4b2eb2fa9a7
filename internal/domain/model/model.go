// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a verdict-producing model.
type Kind string

// Known model kinds. The CNN is an external verdict source; it flows through
// fusion like any other model but is never evaluated in-process.
const (
	KindCNN     Kind = "cnn"
	KindSVM     Kind = "svm"
	KindQuantum Kind = "quantum"
)

// ParseKind validates and normalizes a model kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCNN, KindSVM, KindQuantum:
		return k, nil
	default:
		return "", fmt.Errorf("unknown model kind %q", s)
	}
}

// Label is the binary assessment outcome.
type Label string

const (
	LabelLesion Label = "lesion"
	LabelNormal Label = "normal"
)

// Policy enumerates verdict fusion policies.
type Policy string

const (
	// PolicySingle passes the one requested model's verdict through unchanged.
	PolicySingle Policy = "single"
	// PolicyWeighted combines verdicts by configured per-model weights.
	PolicyWeighted Policy = "weighted"
	// PolicyBestOf picks the verdict with the highest individual confidence.
	PolicyBestOf Policy = "best-of"
)

// ParsePolicy validates and normalizes a fusion policy string.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySingle, PolicyWeighted, PolicyBestOf:
		return p, nil
	default:
		return "", fmt.Errorf("unknown fusion policy %q", s)
	}
}

// FeatureVector is an encoded, fixed-length numeric input for a kernel.
type FeatureVector []float64

// Clone returns an independent copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// Verdict is a single model's prediction for one query.
type Verdict struct {
	Model      Kind               `json:"model" msgpack:"model"`
	Label      Label              `json:"label" msgpack:"label"`
	Confidence float64            `json:"confidence" msgpack:"confidence"`
	Features   map[string]float64 `json:"features,omitempty" msgpack:"features"`
	Latency    time.Duration      `json:"latency_ns" msgpack:"latency_ns"`
}

// CacheStatus reports whether a fused result was served from cache.
type CacheStatus string

const (
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
)

// FusedResult is the externally visible assessment outcome. It is immutable
// once constructed; contributing verdicts are sorted by model kind so the
// result is independent of evaluator completion order.
type FusedResult struct {
	Label        Label         `json:"label" msgpack:"label"`
	Confidence   float64       `json:"confidence" msgpack:"confidence"`
	Policy       Policy        `json:"policy" msgpack:"policy"`
	Verdicts     []Verdict     `json:"verdicts" msgpack:"verdicts"`
	Degraded     bool          `json:"degraded" msgpack:"degraded"`
	FailedModels []Kind        `json:"failed_models,omitempty" msgpack:"failed_models"`
	ProcessingMS float64       `json:"processing_time_ms" msgpack:"processing_time_ms"`
	CacheStatus  CacheStatus   `json:"cache_status" msgpack:"-"`
	ModelVersion string        `json:"model_version" msgpack:"model_version"`
	TieBreak     Kind          `json:"tie_break,omitempty" msgpack:"tie_break"`
}

// Contributing lists the kinds of models whose verdicts made it into the
// fused result.
func (r FusedResult) Contributing() []Kind {
	kinds := make([]Kind, len(r.Verdicts))
	for i, v := range r.Verdicts {
		kinds[i] = v.Model
	}
	return kinds
}

// Request is one assessment query as seen by the orchestrator. RawFeatures
// come from the external preprocessing/ROI pipeline; ImageDigest is the
// content digest of the underlying radiograph.
type Request struct {
	RequestID   string
	PatientID   string
	ImageDigest string
	RawFeatures []float64
	Models      []Kind
	Policy      Policy
	Version     string
}

// Job wraps a Request for asynchronous batch processing.
type Job struct {
	Request
	BatchID     string
	SubmittedAt time.Time
}

// Info describes a registered model for the catalog endpoint.
type Info struct {
	Kind       Kind   `json:"kind"`
	Available  bool   `json:"available"`
	Version    string `json:"version"`
	References int    `json:"references,omitempty"`
}
