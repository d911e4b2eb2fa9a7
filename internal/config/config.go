// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers a YAML file and PERISCAN_ env vars on top of defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// KernelGamma is the RBF kernel width parameter.
	KernelGamma float64 `koanf:"kernel_gamma"`

	// QubitBudget caps the circuit width of the quantum evaluator.
	QubitBudget int `koanf:"qubit_budget"`

	// Shots sets the quantum measurement shot count. Zero means exact
	// (noise-free) kernel estimates.
	Shots int `koanf:"shots"`

	// QuantumSeed seeds the simulator's shot-sampling RNG.
	QuantumSeed int64 `koanf:"quantum_seed"`

	// QuantumBackendTimeoutMS bounds a single quantum kernel evaluation.
	QuantumBackendTimeoutMS int `koanf:"quantum_backend_timeout_ms"`

	// CacheTTLSeconds bounds the lifetime of cached assessment results.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	// CacheDir is the on-disk result cache directory. Empty means the cache
	// runs in memory only.
	CacheDir string `koanf:"cache_dir"`

	// FusionPolicy selects the default verdict fusion policy:
	// single, weighted, or best-of.
	FusionPolicy string `koanf:"fusion_policy"`

	// FusionTieBreak names the model whose label wins tied weighted votes.
	FusionTieBreak string `koanf:"fusion_tie_break"`

	// ModelWeights maps model kinds to their fusion vote weights.
	ModelWeights map[string]float64 `koanf:"model_weights"`

	// ModelVersion tags cache keys and persisted assessments.
	ModelVersion string `koanf:"model_version"`

	// ModelDir holds the reference-set files (svm.json, quantum.json).
	ModelDir string `koanf:"model_dir"`

	// DatabasePath is the SQLite assessment database file. Empty means
	// assessments are kept in memory only.
	DatabasePath string `koanf:"database_path"`

	// RetentionDays bounds how long assessments are kept. Zero disables the
	// retention job.
	RetentionDays int `koanf:"retention_days"`

	// QueueSize bounds the in-memory batch job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of batch assessment workers.
	WorkerCount int `koanf:"worker_count"`

	// MaxListLimit caps GET /api/v1/assessments?limit.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		Addr:                    ":9080",
		KernelGamma:             0.5,
		QubitBudget:             4,
		Shots:                   1024,
		QuantumSeed:             42,
		QuantumBackendTimeoutMS: 5000,
		CacheTTLSeconds:         3600,
		CacheDir:                "",
		FusionPolicy:            "weighted",
		FusionTieBreak:          "quantum",
		ModelWeights: map[string]float64{
			"quantum": 1.0,
			"svm":     1.0,
			"cnn":     1.0,
		},
		ModelVersion:  "v1",
		ModelDir:      "models",
		DatabasePath:  "",
		RetentionDays: 0,
		QueueSize:     4096,
		WorkerCount:   runtime.NumCPU() * 2,
		MaxListLimit:  100,
	}
}
