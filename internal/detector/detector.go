// Package detector defines the face detection and embedding port and its
// adapters.
package detector

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no detector backend can be reached.
var ErrUnavailable = errors.New("face detector unavailable")

// Point is an image-space coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HeadPose is the estimated head orientation in degrees. Yaw is negative
// when the subject turns to their left, pitch is positive when looking up.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Face is a single detected face.
type Face struct {
	BBox       [4]float64 // [x1, y1, x2, y2] in pixels
	Confidence float64
	Embedding  []float32
	// Landmarks holds the five-point layout (left eye, right eye, nose,
	// left mouth corner, right mouth corner) when the backend provides it.
	Landmarks []Point
	Pose      *HeadPose
}

// Detector finds faces in an encoded image and embeds them.
type Detector interface {
	// Detect returns every face in the image. No faces is not an error.
	Detect(ctx context.Context, imageData []byte) ([]Face, error)
	// EmbeddingSize is the dimension of produced embeddings
	EmbeddingSize() int
	// Compare returns the distance between two embeddings, 0 for identical
	Compare(a, b []float32) float64
	// Version identifies the model; embeddings from different versions are
	// never compared.
	Version() string
}
