package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-enroll/internal/biometric"
	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/logging"
)

// fakeEngine records its inputs and returns canned results.
type fakeEngine struct {
	enrollRes  *biometric.EnrollResult
	batchRes   *biometric.BatchEnrollResult
	recogRes   *biometric.RecognitionResult
	matches    []biometric.IdentityMatch
	metrics    *biometric.EnrollmentMetrics
	removed    int
	err        error
	gotID      string
	gotEmbID   string
	gotImages  int
	gotK       int
	gotPayload []byte
}

func (f *fakeEngine) Enroll(ctx context.Context, id string, data []byte) (*biometric.EnrollResult, error) {
	f.gotID, f.gotPayload, f.gotImages = id, data, 1
	return f.enrollRes, f.err
}

func (f *fakeEngine) EnrollBatch(ctx context.Context, id string, images [][]byte) (*biometric.BatchEnrollResult, error) {
	f.gotID, f.gotImages = id, len(images)
	return f.batchRes, f.err
}

func (f *fakeEngine) Recognize(ctx context.Context, data []byte) (*biometric.RecognitionResult, error) {
	f.gotPayload = data
	return f.recogRes, f.err
}

func (f *fakeEngine) SearchIdentities(ctx context.Context, data []byte, k int) ([]biometric.IdentityMatch, error) {
	f.gotK = k
	return f.matches, f.err
}

func (f *fakeEngine) EnrollmentMetrics(ctx context.Context, id string) (*biometric.EnrollmentMetrics, error) {
	f.gotID = id
	return f.metrics, f.err
}

func (f *fakeEngine) ClearEnrollment(ctx context.Context, id string) (int, error) {
	f.gotID = id
	return f.removed, f.err
}

func (f *fakeEngine) DeleteEmbedding(ctx context.Context, id, embID string) (int, error) {
	f.gotID, f.gotEmbID = id, embID
	return f.removed, f.err
}

func (f *fakeEngine) Adapter() string        { return "insightface/buffalo_l/512" }
func (f *fakeEngine) Policy() config.Policy { return config.DefaultPolicy() }

type fakeToggle struct {
	enabled bool
	err     error
}

func (f *fakeToggle) Enabled() bool { return f.enabled }
func (f *fakeToggle) SetEnabled(ctx context.Context, enabled bool) error {
	if f.err != nil {
		return f.err
	}
	f.enabled = enabled
	return nil
}

// multipartRequest builds a multipart POST with one file per payload under field.
func multipartRequest(t *testing.T, path, field string, payloads [][]byte, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, p := range payloads {
		fw, err := mw.CreateFormFile(field, "face"+string(rune('a'+i))+".jpg")
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		fw.Write(p)
	}
	for k, v := range values {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

const testMaxUpload = 1 << 20

var testLog = logging.Discard()
