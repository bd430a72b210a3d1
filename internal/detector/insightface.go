package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-enroll/internal/database"
)

const (
	defaultInsightFaceURL   = "http://localhost:8000"
	defaultInsightFaceModel = "buffalo_l"
	defaultEmbeddingDim     = 512
)

// InsightFace talks to an InsightFace embedding server over HTTP.
type InsightFace struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewInsightFace creates a new InsightFace client
func NewInsightFace(baseURL, model string, dim int, timeout time.Duration) *InsightFace {
	if baseURL == "" {
		baseURL = defaultInsightFaceURL
	}
	if model == "" {
		model = defaultInsightFaceModel
	}
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}
	return &InsightFace{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
	}
}

// faceDetection represents a single detected face in the server response
type faceDetection struct {
	FaceIndex int          `json:"face_index"`
	Dim       int          `json:"dim"`
	Embedding []float32    `json:"embedding"`
	BBox      []float64    `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64      `json:"det_score"`
	Landmarks [][2]float64 `json:"kps,omitempty"`
	Pose      []float64    `json:"pose,omitempty"` // [pitch, yaw, roll]
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage posts the image as a multipart form file.
func (c *InsightFace) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect computes face embeddings for all faces in an image.
func (c *InsightFace) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(faceResp.Faces))
	for _, fd := range faceResp.Faces {
		if len(fd.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, want 4", fd.FaceIndex, len(fd.BBox))
		}
		if len(fd.Embedding) != c.dim {
			return nil, fmt.Errorf("face %d: embedding dimension %d, want %d", fd.FaceIndex, len(fd.Embedding), c.dim)
		}
		face := Face{
			BBox:       [4]float64{fd.BBox[0], fd.BBox[1], fd.BBox[2], fd.BBox[3]},
			Confidence: fd.DetScore,
			Embedding:  fd.Embedding,
		}
		for _, kp := range fd.Landmarks {
			face.Landmarks = append(face.Landmarks, Point{X: kp[0], Y: kp[1]})
		}
		if len(fd.Pose) == 3 {
			face.Pose = &HeadPose{Pitch: fd.Pose[0], Yaw: fd.Pose[1], Roll: fd.Pose[2]}
		}
		faces = append(faces, face)
	}
	return faces, nil
}

// Health checks that the server answers on /health.
func (c *InsightFace) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// EmbeddingSize returns the configured embedding dimension
func (c *InsightFace) EmbeddingSize() int {
	return c.dim
}

// Compare returns the cosine distance between two embeddings
func (c *InsightFace) Compare(a, b []float32) float64 {
	return database.CosineDistance(a, b)
}

// Version returns the adapter tag stored with every embedding
func (c *InsightFace) Version() string {
	return fmt.Sprintf("insightface/%s/%d", c.model, c.dim)
}

var errUnknownBackend = errors.New("unknown detector backend")
