package biometric

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kozaktomas/face-enroll/internal/database"
)

// MatchSource tells which comparison produced a distance.
type MatchSource string

const (
	SourceCentroid   MatchSource = "centroid"
	SourceIndividual MatchSource = "individual"
)

// DistanceFunc measures how far apart two embeddings are, 0 for identical.
// The active detector's Compare is the production implementation.
type DistanceFunc func(a, b []float32) float64

func distanceOrCosine(f DistanceFunc) DistanceFunc {
	if f == nil {
		return database.CosineDistance
	}
	return f
}

// ComputeCentroid returns the L2-normalized mean of embeddings. When the mean
// is exactly zero the first embedding, normalized, is used instead.
func ComputeCentroid(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	normalized := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		normalized[i] = database.Normalize(e)
	}
	mean := database.Mean(normalized)
	if mean == nil {
		return nil
	}
	if database.Norm(mean) == 0 {
		return normalized[0]
	}
	return database.Normalize(mean)
}

// CentroidManager keeps IdentityCentroid rows in step with embeddings.
type CentroidManager struct {
	now func() time.Time
}

func NewCentroidManager() *CentroidManager {
	return &CentroidManager{now: time.Now}
}

// Build derives the centroid record for an identity from its embeddings.
// It returns nil when there are no embeddings.
func (m *CentroidManager) Build(identityID, adapter string, embeddings []database.FaceEmbedding) *database.IdentityCentroid {
	if len(embeddings) == 0 {
		return nil
	}

	vectors := make([][]float32, 0, len(embeddings))
	var qualitySum float64
	seen := make(map[string]bool)
	var coverage []string
	for _, e := range embeddings {
		vectors = append(vectors, e.Vector)
		qualitySum += e.QualityScore
		if e.PoseCategory != "" && !seen[e.PoseCategory] {
			seen[e.PoseCategory] = true
			coverage = append(coverage, e.PoseCategory)
		}
	}

	return &database.IdentityCentroid{
		IdentityID:      identityID,
		Vector:          ComputeCentroid(vectors),
		EmbeddingCount:  len(embeddings),
		AvgQualityScore: qualitySum / float64(len(embeddings)),
		PoseCoverage:    coverage,
		Adapter:         adapter,
		UpdatedAt:       m.now(),
	}
}

// UpdateForIdentity recomputes the centroid from the embeddings visible in tx
// and upserts it, or deletes it when no embeddings are left.
func (m *CentroidManager) UpdateForIdentity(ctx context.Context, tx database.IdentityTx, identityID, adapter string) (*database.IdentityCentroid, error) {
	embeddings, err := tx.Embeddings(ctx, adapter)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}

	centroid := m.Build(identityID, adapter, embeddings)
	if centroid == nil {
		if err := tx.DeleteCentroid(ctx); err != nil {
			return nil, fmt.Errorf("deleting centroid: %w", err)
		}
		return nil, nil
	}
	if err := tx.UpsertCentroid(ctx, centroid); err != nil {
		return nil, fmt.Errorf("saving centroid: %w", err)
	}
	return centroid, nil
}

// CompareWithCentroid returns the smaller of the centroid distance and the
// best individual distance, and which of the two won. A missing centroid
// counts as infinitely far; ties go to the centroid. A nil distance uses
// cosine distance.
func CompareWithCentroid(query []float32, centroid []float32, individuals [][]float32, distance DistanceFunc) (float64, MatchSource) {
	distance = distanceOrCosine(distance)
	centroidDist := math.Inf(1)
	if len(centroid) > 0 && len(centroid) == len(query) {
		centroidDist = distance(query, centroid)
	}

	bestIndividual := math.Inf(1)
	for _, e := range individuals {
		if len(e) != len(query) {
			continue
		}
		if d := distance(query, e); d < bestIndividual {
			bestIndividual = d
		}
	}

	if centroidDist <= bestIndividual {
		return centroidDist, SourceCentroid
	}
	return bestIndividual, SourceIndividual
}
