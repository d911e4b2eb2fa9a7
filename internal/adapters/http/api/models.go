// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
)

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	deps Dependencies
}

// NewModelsHandler creates a new models handler.
func NewModelsHandler(deps Dependencies) *ModelsHandler {
	return &ModelsHandler{deps: deps}
}

// HandleModels handles GET /api/v1/models requests.
func (h *ModelsHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Models())
}
