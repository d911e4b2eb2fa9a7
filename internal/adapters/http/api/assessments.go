// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/apexrad/periscan/internal/adapters/repository"
	service "github.com/apexrad/periscan/internal/app"
	"github.com/apexrad/periscan/internal/domain/model"
)

// AssessmentHandler handles synchronous assessment requests and queries over
// persisted assessments.
type AssessmentHandler struct {
	deps Dependencies
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(deps Dependencies) *AssessmentHandler {
	return &AssessmentHandler{deps: deps}
}

// HandleAssess handles POST /api/v1/assessment requests.
func (h *AssessmentHandler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_assessment"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req assessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Assess(r.Context(), req.toModel())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrUnknownModel):
			writeError(w, http.StatusBadRequest, "bad_request", Wrap(op, err))
		case errors.Is(err, service.ErrInsufficientVerdicts):
			writeError(w, http.StatusServiceUnavailable, "models_unavailable", Wrap(op, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleList handles GET /api/v1/assessments requests. Supported query
// parameters: limit, offset, model, patient_id.
func (h *AssessmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_assessments"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	var f repository.Filter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.Offset = n
	}
	if v := q.Get("model"); v != "" {
		kind, err := model.ParseKind(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		f.Model = kind
	}
	f.PatientID = q.Get("patient_id")

	assessments, err := h.deps.ListAssessments(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	if assessments == nil {
		assessments = []repository.Assessment{}
	}
	writeJSON(w, http.StatusOK, assessments)
}

// HandleByID handles GET and DELETE /api/v1/assessments/{id} requests.
func (h *AssessmentHandler) HandleByID(w http.ResponseWriter, r *http.Request) {
	const op = "api.assessment_by_id"

	// Extract path parameter after /api/v1/assessments/
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/assessments/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, err := h.deps.GetAssessment(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, a)
	case http.MethodDelete:
		if err := h.deps.DeleteAssessment(r.Context(), id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", Wrap(op, err))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		http.NotFound(w, r)
	}
}

// batchRequest mirrors the request schema for POST /api/v1/assessments/batch.
type batchRequest struct {
	Requests []assessmentRequest `json:"requests"`
}

// batchResponse acknowledges an accepted batch.
type batchResponse struct {
	BatchID   string `json:"batch_id"`
	Submitted int    `json:"submitted"`
	Accepted  int    `json:"accepted"`
}

// BatchHandler handles asynchronous batch submissions.
type BatchHandler struct {
	deps Dependencies
}

// NewBatchHandler creates a new batch handler.
func NewBatchHandler(deps Dependencies) *BatchHandler {
	return &BatchHandler{deps: deps}
}

// HandleBatch handles POST /api/v1/assessments/batch requests.
func (h *BatchHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_batch"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("empty batch")))
		return
	}

	reqs := make([]model.Request, 0, len(req.Requests))
	for i, item := range req.Requests {
		if err := item.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request",
				WrapKind(op, ErrBadRequest, fmt.Errorf("item %d: %w", i, err)))
			return
		}
		reqs = append(reqs, item.toModel())
	}

	batchID, accepted, err := h.deps.EnqueueBatch(r.Context(), reqs)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", Wrap(op, err))
		return
	}
	if accepted == 0 {
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, batchResponse{
		BatchID:   batchID,
		Submitted: len(reqs),
		Accepted:  accepted,
	})
}
