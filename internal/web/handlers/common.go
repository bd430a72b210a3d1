package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/kozaktomas/face-enroll/internal/biometric"
	"github.com/kozaktomas/face-enroll/internal/config"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

var (
	validate = validator.New()
	jsonAPI  = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Engine is the part of biometric.Engine the HTTP API uses.
type Engine interface {
	Enroll(ctx context.Context, identityID string, imageData []byte) (*biometric.EnrollResult, error)
	EnrollBatch(ctx context.Context, identityID string, images [][]byte) (*biometric.BatchEnrollResult, error)
	Recognize(ctx context.Context, imageData []byte) (*biometric.RecognitionResult, error)
	SearchIdentities(ctx context.Context, imageData []byte, k int) ([]biometric.IdentityMatch, error)
	EnrollmentMetrics(ctx context.Context, identityID string) (*biometric.EnrollmentMetrics, error)
	ClearEnrollment(ctx context.Context, identityID string) (int, error)
	DeleteEmbedding(ctx context.Context, identityID, embeddingID string) (int, error)
	Adapter() string
	Policy() config.Policy
}

// AdaptiveToggle switches adaptive learning at runtime.
type AdaptiveToggle interface {
	Enabled() bool
	SetEnabled(ctx context.Context, enabled bool) error
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		jsonAPI.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps an engine error kind to an HTTP status.
func statusForError(err error) int {
	switch biometric.KindOf(err) {
	case biometric.KindInput:
		return http.StatusBadRequest
	case biometric.KindQuality:
		return http.StatusUnprocessableEntity
	case biometric.KindPolicy:
		return http.StatusConflict
	case biometric.KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondEngineError sends an engine error with its kind so clients can
// tell a bad photo from a broken backend.
func respondEngineError(w http.ResponseWriter, err error) {
	respondJSON(w, statusForError(err), map[string]string{
		"error": biometric.ReasonOf(err),
		"kind":  biometric.KindOf(err).String(),
	})
}

var errMissingFile = errors.New("missing file")

// parseUpload parses a multipart request limited to maxBytes.
func parseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return data, nil
}

// formFiles returns the contents of every file uploaded under field.
func formFiles(r *http.Request, field string) ([][]byte, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, fmt.Errorf("%w: %q", errMissingFile, field)
	}
	var out [][]byte
	for _, fh := range r.MultipartForm.File[field] {
		data, err := readFileHeader(fh)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// formFile returns the single file uploaded under field.
func formFile(r *http.Request, field string) ([]byte, error) {
	files, err := formFiles(r, field)
	if err != nil {
		return nil, err
	}
	return files[0], nil
}
