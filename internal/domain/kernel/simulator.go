package kernel

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/apexrad/periscan/internal/domain/model"
)

// Default simulator constants.
const (
	defaultSimulatorSeed = 42
	maxSimulatorQubits   = 16 // statevector is 2^n floats; 16 qubits is 512 KiB
)

// SimulatorOption applies a configuration option to the Simulator.
type SimulatorOption func(*Simulator)

// WithSeed fixes the sampling seed. A fixed seed makes shot-based estimates
// fully reproducible, which tests rely on.
func WithSeed(seed int64) SimulatorOption {
	return func(s *Simulator) {
		s.seed = seed
	}
}

// WithMaxQubits caps the circuit width the simulator will build.
func WithMaxQubits(n int) SimulatorOption {
	return func(s *Simulator) {
		if n > 0 && n <= maxSimulatorQubits {
			s.maxQubits = n
		}
	}
}

// Simulator is an in-process statevector Backend. The feature map is a
// real-amplitude circuit: an RY rotation layer encoding one feature per
// qubit, a CZ entangling chain, and a second RY layer. Fidelity is the
// squared inner product of the two resulting statevectors.
//
// Per-call RNGs are derived from the configured seed and the input vectors,
// so concurrent estimations share no mutable state and remain deterministic.
type Simulator struct {
	seed      int64
	maxQubits int
}

// NewSimulator creates a simulator backend with configuration options.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		seed:      defaultSimulatorSeed,
		maxQubits: maxSimulatorQubits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the backend.
func (s *Simulator) Name() string { return "statevector-simulator" }

// EstimateFidelity computes |<psi(x)|psi(y)>|^2, optionally degraded by
// simulated shot sampling.
func (s *Simulator) EstimateFidelity(ctx context.Context, x, y model.FeatureVector, shots int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("fidelity estimation aborted: %w", err)
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: state dimensions %d and %d", ErrDimensionMismatch, len(x), len(y))
	}
	if len(x) == 0 || len(x) > s.maxQubits {
		return 0, fmt.Errorf("%w: cannot build %d-qubit feature map (max %d)", ErrCircuit, len(x), s.maxQubits)
	}

	overlap := floats.Dot(featureMapState(x), featureMapState(y))
	fidelity := overlap * overlap

	if shots <= 0 {
		return fidelity, nil
	}

	// Shot sampling: each shot is a Bernoulli trial with p = fidelity.
	rng := rand.New(rand.NewSource(s.seed ^ int64(pairHash(x, y)))) //nolint:gosec // deterministic seed for reproducible estimation
	hits := 0
	for i := 0; i < shots; i++ {
		if rng.Float64() < fidelity {
			hits++
		}
	}
	return float64(hits) / float64(shots), nil
}

// featureMapState builds the statevector of the feature-map circuit applied
// to v. Amplitudes stay real: RY and CZ have real matrix entries.
func featureMapState(v model.FeatureVector) []float64 {
	n := len(v)
	state := make([]float64, 1<<n)
	state[0] = 1

	for q, theta := range v {
		applyRY(state, q, theta)
	}
	for q := 0; q < n-1; q++ {
		applyCZ(state, q, q+1)
	}
	if n > 2 {
		applyCZ(state, n-1, 0) // close the entangling ring
	}
	for q, theta := range v {
		applyRY(state, q, theta/2)
	}
	return state
}

// applyRY applies a single-qubit RY(theta) rotation to qubit q.
func applyRY(state []float64, q int, theta float64) {
	c, s := math.Cos(theta/2), math.Sin(theta/2)
	bit := 1 << q
	for i := range state {
		if i&bit != 0 {
			continue
		}
		j := i | bit
		a0, a1 := state[i], state[j]
		state[i] = c*a0 - s*a1
		state[j] = s*a0 + c*a1
	}
}

// applyCZ flips the amplitude sign where both qubits are set.
func applyCZ(state []float64, q1, q2 int) {
	mask := 1<<q1 | 1<<q2
	for i := range state {
		if i&mask == mask {
			state[i] = -state[i]
		}
	}
}

// pairHash derives a stable per-pair stream identifier from both vectors.
func pairHash(x, y model.FeatureVector) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(v model.FeatureVector) {
		for _, f := range v {
			bits := math.Float64bits(f)
			for i := 0; i < 8; i++ {
				buf[i] = byte(bits >> (8 * i))
			}
			_, _ = h.Write(buf[:])
		}
	}
	write(x)
	write(y)
	return h.Sum64()
}
