package database

import (
	"time"
)

// FaceEmbedding is a single enrolled face vector for an identity.
type FaceEmbedding struct {
	ID           string
	IdentityID   string
	Vector       []float32
	QualityScore float64
	PoseCategory string // empty when pose could not be estimated
	IsAdaptive   bool   // true when added by the adaptive learner
	SourceLabel  string
	Adapter      string // detector/embedder version that produced Vector
	CreatedAt    time.Time
}

// Dim returns the embedding dimension.
func (e *FaceEmbedding) Dim() int {
	return len(e.Vector)
}

// IdentityCentroid is the derived per-identity summary kept in sync with
// the identity's embeddings.
type IdentityCentroid struct {
	IdentityID      string
	Vector          []float32
	EmbeddingCount  int
	AvgQualityScore float64
	PoseCoverage    []string
	Adapter         string
	UpdatedAt       time.Time
}
