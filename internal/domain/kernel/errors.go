package kernel

import "errors"

// Sentinel kinds for evaluator errors.
var (
	// ErrDimensionMismatch flags an internal contract violation between a
	// query and the reference set. Fatal; surfaced as a server error.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrCircuit flags a query that cannot be mapped onto the configured
	// quantum circuit, e.g. more features than qubits.
	ErrCircuit = errors.New("circuit error")

	// ErrBackendUnavailable flags an unreachable quantum execution backend.
	// Recoverable: the orchestrator falls back to the remaining ensemble.
	ErrBackendUnavailable = errors.New("quantum backend unavailable")
)
