package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
)

// RecognizeHandler serves recognition and identity search.
type RecognizeHandler struct {
	engine    Engine
	log       *logrus.Logger
	maxUpload int64
}

// NewRecognizeHandler creates a new recognition handler.
func NewRecognizeHandler(engine Engine, log *logrus.Logger, maxUpload int64) *RecognizeHandler {
	return &RecognizeHandler{engine: engine, log: log, maxUpload: maxUpload}
}

// Recognize handles POST /recognize. No match and ambiguous matches are
// 200 responses with matched=false.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := formFile(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Recognize(r.Context(), data)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type searchRequest struct {
	K int `validate:"gte=0,lte=50"`
}

// Search handles POST /search with a multipart "image" and optional "k".
func (h *RecognizeHandler) Search(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r, h.maxUpload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req searchRequest
	if v := r.FormValue("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		req.K = k
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "k must be between 0 and 50")
		return
	}

	data, err := formFile(r, "image")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := h.engine.SearchIdentities(r.Context(), data, req.K)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"adapter": h.engine.Adapter(),
		"matches": matches,
	})
}
