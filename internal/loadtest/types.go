// Package loadtest drives synthetic assessment traffic against a running
// periscan instance. It exists for manual load and smoke testing; nothing in
// the service imports it.
package loadtest

import (
	"time"
)

// Config controls a load test run.
type Config struct {
	// BaseURL of the running service, e.g. "http://localhost:9080".
	BaseURL string

	// NumRequests is how many synchronous assessments to submit.
	NumRequests int

	// BatchSize is how many requests go into the single async batch
	// submission. Zero skips the batch step.
	BatchSize int

	// Workers is the number of concurrent submitters.
	Workers int

	// FeatureDim is the length of each synthetic feature vector.
	FeatureDim int

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Verbose enables per-request logging.
	Verbose bool
}

// Stats accumulates the outcome of a run.
type Stats struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Generated     int
	Submitted     int
	Succeeded     int
	Degraded      int
	Failed        int
	BatchAccepted int
}

// assessmentRequest mirrors the service's POST /api/v1/assessment schema.
type assessmentRequest struct {
	RequestID   string    `json:"request_id"`
	PatientID   string    `json:"patient_id"`
	ImageDigest string    `json:"image_digest"`
	Features    []float64 `json:"features"`
	Policy      string    `json:"policy,omitempty"`
}

// assessmentResponse carries the fields the tool inspects.
type assessmentResponse struct {
	Label       string  `json:"label"`
	Confidence  float64 `json:"confidence"`
	Degraded    bool    `json:"degraded"`
	CacheStatus string  `json:"cache_status"`
}

// batchAck mirrors the batch submission acknowledgement.
type batchAck struct {
	BatchID   string `json:"batch_id"`
	Submitted int    `json:"submitted"`
	Accepted  int    `json:"accepted"`
}
