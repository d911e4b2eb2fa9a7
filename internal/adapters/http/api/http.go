// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/apexrad/periscan/internal/adapters/repository"
	"github.com/apexrad/periscan/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Assess runs the synchronous assessment pipeline for one request.
	Assess(ctx context.Context, req model.Request) (model.FusedResult, error)

	// EnqueueBatch queues requests for asynchronous assessment. Returns the
	// batch ID and how many items the queue accepted.
	EnqueueBatch(ctx context.Context, reqs []model.Request) (string, int, error)

	// Read and delete operations over persisted assessments.
	GetAssessment(ctx context.Context, id string) (repository.Assessment, error)
	ListAssessments(ctx context.Context, f repository.Filter) ([]repository.Assessment, error)
	DeleteAssessment(ctx context.Context, id string) error

	// Models describes the registered verdict sources.
	Models() []model.Info

	// Healthy reports liveness with a per-component breakdown.
	Healthy(ctx context.Context) (bool, map[string]string)

	// GetStats returns service statistics for monitoring.
	GetStats(ctx context.Context) map[string]interface{}
}

// Server wires HTTP routes for the business API.
type Server struct {
	assessmentHandler *AssessmentHandler
	batchHandler      *BatchHandler
	modelsHandler     *ModelsHandler
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		assessmentHandler: NewAssessmentHandler(deps),
		batchHandler:      NewBatchHandler(deps),
		modelsHandler:     NewModelsHandler(deps),
		healthHandler:     NewHealthHandler(deps),
		statsHandler:      NewStatsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/api/v1/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/api/v1/models", MetricsMiddleware(s.modelsHandler.HandleModels, "models"))
	mux.HandleFunc("/api/v1/assessment", MetricsMiddleware(s.assessmentHandler.HandleAssess, "assessment"))
	mux.HandleFunc("/api/v1/assessments", MetricsMiddleware(s.assessmentHandler.HandleList, "assessments"))
	mux.HandleFunc("/api/v1/assessments/batch", MetricsMiddleware(s.batchHandler.HandleBatch, "batch"))
	mux.HandleFunc("/api/v1/assessments/", MetricsMiddleware(s.assessmentHandler.HandleByID, "assessment_by_id"))
}

// assessmentRequest mirrors the request schema for POST /api/v1/assessment.
type assessmentRequest struct {
	RequestID   string    `json:"request_id"`
	PatientID   string    `json:"patient_id"`
	ImageDigest string    `json:"image_digest"`
	Features    []float64 `json:"features"`
	Models      []string  `json:"models"`
	Policy      string    `json:"policy"`
	Version     string    `json:"version"`
}

func (a assessmentRequest) validate() error {
	switch {
	case strings.TrimSpace(a.ImageDigest) == "":
		return errors.New("missing image_digest")
	case len(a.Features) == 0:
		return errors.New("missing features")
	}
	if a.Policy != "" {
		if _, err := model.ParsePolicy(a.Policy); err != nil {
			return err
		}
	}
	for _, m := range a.Models {
		if _, err := model.ParseKind(m); err != nil {
			return err
		}
	}
	return nil
}

// toModel converts the wire shape into a domain request. validate must have
// passed first.
func (a assessmentRequest) toModel() model.Request {
	kinds := make([]model.Kind, 0, len(a.Models))
	for _, m := range a.Models {
		kind, _ := model.ParseKind(m)
		kinds = append(kinds, kind)
	}
	return model.Request{
		RequestID:   strings.TrimSpace(a.RequestID),
		PatientID:   strings.TrimSpace(a.PatientID),
		ImageDigest: strings.TrimSpace(a.ImageDigest),
		RawFeatures: a.Features,
		Models:      kinds,
		Policy:      model.Policy(a.Policy),
		Version:     strings.TrimSpace(a.Version),
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
