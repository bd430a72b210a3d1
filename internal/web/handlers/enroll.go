package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/biometric"
)

// EnrollHandler serves enrollment and identity management endpoints.
type EnrollHandler struct {
	engine    Engine
	log       *logrus.Logger
	maxUpload int64
}

// NewEnrollHandler creates a new enrollment handler.
func NewEnrollHandler(engine Engine, log *logrus.Logger, maxUpload int64) *EnrollHandler {
	return &EnrollHandler{engine: engine, log: log, maxUpload: maxUpload}
}

// Enroll handles POST /identities/{id}/enroll with a multipart "image" field.
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := formFile(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Enroll(r.Context(), id, data)
	if err != nil {
		h.log.WithFields(logrus.Fields{
			"identity": sanitizeForLog(id),
			"kind":     biometric.KindOf(err).String(),
		}).Info("enrollment rejected")
		respondJSON(w, statusForError(err), res)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// EnrollBatch handles POST /identities/{id}/enroll/batch with multipart "images".
func (h *EnrollHandler) EnrollBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	images, err := formFiles(r, "images")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.EnrollBatch(r.Context(), id, images)
	if err != nil {
		respondJSON(w, statusForError(err), res)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// Metrics handles GET /identities/{id}/metrics.
func (h *EnrollHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.EnrollmentMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// Clear handles DELETE /identities/{id}/enrollment.
func (h *EnrollHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := h.engine.ClearEnrollment(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity_id": id,
		"removed":     removed,
	})
}

// DeleteEmbedding handles DELETE /identities/{id}/embeddings/{embeddingId}.
func (h *EnrollHandler) DeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	embeddingID := chi.URLParam(r, "embeddingId")
	remaining, err := h.engine.DeleteEmbedding(r.Context(), id, embeddingID)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusBadRequest && errors.Is(err, biometric.ErrEmbeddingNotFound) {
			status = http.StatusNotFound
		}
		respondJSON(w, status, map[string]string{
			"error": biometric.ReasonOf(err),
			"kind":  biometric.KindOf(err).String(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity_id":  id,
		"embedding_id": embeddingID,
		"remaining":    remaining,
	})
}
