package handlers

import (
	"net/http"
)

// HealthHandler reports liveness and the active configuration.
type HealthHandler struct {
	engine   Engine
	adaptive AdaptiveToggle
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(engine Engine, adaptive AdaptiveToggle) *HealthHandler {
	return &HealthHandler{engine: engine, adaptive: adaptive}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"adapter":           h.engine.Adapter(),
		"policy_version":    h.engine.Policy().Version,
		"adaptive_learning": h.adaptive.Enabled(),
	})
}

type adaptiveRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SetAdaptive handles PUT /adaptive {"enabled": bool}.
func (h *HealthHandler) SetAdaptive(w http.ResponseWriter, r *http.Request) {
	var req adaptiveRequest
	if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := h.adaptive.SetEnabled(r.Context(), *req.Enabled); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"adaptive_learning": h.adaptive.Enabled()})
}
