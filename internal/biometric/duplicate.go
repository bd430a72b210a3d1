package biometric

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/database"
)

// EnrollmentCounter reports how many embeddings an identity already has.
type EnrollmentCounter interface {
	CountEmbeddings(ctx context.Context, identityID, adapter string) (int, error)
}

// DuplicateChecker rejects near-identical samples and enforces the
// per-identity cap.
type DuplicateChecker struct {
	threshold      float64
	maxEnrollments int
	counter        EnrollmentCounter
	distance       DistanceFunc
}

// NewDuplicateChecker creates a checker. counter may be nil, in which case the
// cap is only enforced when the caller supplies a known count. A nil distance
// uses cosine distance.
func NewDuplicateChecker(policy config.EnrollmentPolicy, counter EnrollmentCounter, distance DistanceFunc) *DuplicateChecker {
	return &DuplicateChecker{
		threshold:      policy.DuplicateDistance,
		maxEnrollments: policy.MaxPerIdentity,
		counter:        counter,
		distance:       distanceOrCosine(distance),
	}
}

// IsDuplicate reports whether candidate is closer than the duplicate
// distance to any existing embedding.
func (d *DuplicateChecker) IsDuplicate(candidate []float32, existing [][]float32) (bool, string) {
	idx, dist := d.FindMostSimilar(candidate, existing)
	if idx < 0 || dist >= d.threshold {
		return false, ""
	}
	return true, fmt.Sprintf("Very similar face already enrolled (distance %.3f < %.3f). Please use a different angle or expression",
		dist, d.threshold)
}

// FindMostSimilar returns the index and distance of the closest existing
// embedding, or -1 when there is none.
func (d *DuplicateChecker) FindMostSimilar(candidate []float32, existing [][]float32) (int, float64) {
	query := database.Normalize(candidate)
	best, bestDist := -1, math.Inf(1)
	for i, e := range existing {
		if len(e) != len(query) {
			continue
		}
		dist := d.distance(query, database.Normalize(e))
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, bestDist
}

// CanEnrollMore checks the cap. knownCount, when non-nil, is used instead of
// querying the counter. Without either the check passes; a counter failure
// is returned as an error so the caller can refuse instead of silently
// skipping the cap.
func (d *DuplicateChecker) CanEnrollMore(ctx context.Context, identityID, adapter string, knownCount *int) (bool, string, error) {
	var count int
	switch {
	case knownCount != nil:
		count = *knownCount
	case d.counter != nil:
		n, err := d.counter.CountEmbeddings(ctx, identityID, adapter)
		if err != nil {
			return false, "", fmt.Errorf("counting embeddings: %w", err)
		}
		count = n
	default:
		return true, "", nil
	}

	if count >= d.maxEnrollments {
		return false, fmt.Sprintf("Maximum enrollments reached (%d/%d). Clear the enrollment or delete an embedding first",
			count, d.maxEnrollments), nil
	}
	return true, "", nil
}
