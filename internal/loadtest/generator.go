package loadtest

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/google/uuid"
)

// randomFloatDivisor bounds the crypto/rand draw used for uniform floats.
const randomFloatDivisor = 1000000

// Synthetic case distribution. Cases mimic the feature statistics of real
// radiographs: mostly unambiguous images with a tail of borderline ones.
const (
	caseClearNormal = 0
	caseClearLesion = 1
	caseBorderline  = 2
	caseNoisy       = 3
	caseCount       = 4
)

// randomFloat returns a random float64 in [0, 1) using crypto/rand.
func randomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateRequests builds synthetic assessment requests with unique patient
// IDs and content-derived image digests.
func generateRequests(cfg *Config) []assessmentRequest {
	reqs := make([]assessmentRequest, cfg.NumRequests)
	for i := range reqs {
		features := generateFeatures(cfg.FeatureDim)
		reqs[i] = assessmentRequest{
			RequestID:   uuid.NewString(),
			PatientID:   uuid.NewString(),
			ImageDigest: digestOf(features),
			Features:    features,
		}
	}
	return reqs
}

// generateFeatures draws one synthetic feature vector.
func generateFeatures(dim int) []float64 {
	kind, _ := rand.Int(rand.Reader, big.NewInt(caseCount))
	features := make([]float64, dim)
	for i := range features {
		switch kind.Int64() {
		case caseClearNormal:
			features[i] = randomFloat() * 0.3
		case caseClearLesion:
			features[i] = 0.7 + randomFloat()*0.3
		case caseBorderline:
			features[i] = 0.4 + randomFloat()*0.2
		case caseNoisy:
			features[i] = randomFloat()
		}
	}
	return features
}

// digestOf derives a deterministic image digest from the feature content, so
// repeated submissions of identical vectors exercise the result cache.
func digestOf(features []float64) string {
	raw, _ := json.Marshal(features)
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}
