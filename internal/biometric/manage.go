package biometric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/database"
)

// EnrollmentMetrics reports how complete and trustworthy an identity's
// enrollment is.
func (e *Engine) EnrollmentMetrics(ctx context.Context, identityID string) (*EnrollmentMetrics, error) {
	id, err := NormalizeIdentityID(identityID)
	if err != nil {
		return nil, err
	}
	embs, err := e.store.GetEmbeddings(ctx, id, e.Adapter())
	if err != nil {
		return nil, dependencyError("Failed to load embeddings", err)
	}
	return e.buildMetrics(id, embs), nil
}

func (e *Engine) buildMetrics(identityID string, embs []database.FaceEmbedding) *EnrollmentMetrics {
	m := &EnrollmentMetrics{IdentityID: identityID, Count: len(embs)}

	poses := make([]Pose, 0, len(embs))
	var qualitySum float64
	for _, emb := range embs {
		qualitySum += emb.QualityScore
		poses = append(poses, Pose(emb.PoseCategory))
		if emb.IsAdaptive {
			m.AdaptiveCount++
		}
	}
	if len(embs) > 0 {
		m.AvgQuality = qualitySum / float64(len(embs))
	}

	cov := e.poses.Coverage(poses)
	m.PoseCoverage = cov.Covered
	m.MissingPoses = cov.Missing
	m.RequiredMissing = cov.RequiredMissing
	m.PoseCoverageScore = cov.Score
	m.EnrollmentComplete = cov.Complete

	p := e.policy.Enrollment
	switch {
	case m.Count == 0:
		m.NeedsReEnrollment = true
		m.Reason = "No enrollments found"
	case m.Count < p.ReenrollMinEmbeddings:
		m.NeedsReEnrollment = true
		m.Reason = fmt.Sprintf("Only %d sample(s) enrolled, at least %d recommended", m.Count, p.ReenrollMinEmbeddings)
	case len(cov.RequiredMissing) > 0:
		m.NeedsReEnrollment = true
		m.Reason = "Missing required poses: " + joinPoses(cov.RequiredMissing)
	case m.AvgQuality < p.ReenrollMinAvgQuality:
		m.NeedsReEnrollment = true
		m.Reason = fmt.Sprintf("Average quality %.2f is below %.2f", m.AvgQuality, p.ReenrollMinAvgQuality)
	}
	return m
}

func joinPoses(poses []Pose) string {
	parts := make([]string, len(poses))
	for i, p := range poses {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

// ClearEnrollment deletes every embedding and the centroid of an identity
// and returns how many embeddings were removed.
func (e *Engine) ClearEnrollment(ctx context.Context, identityID string) (int, error) {
	id, err := NormalizeIdentityID(identityID)
	if err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var removed int
	err = e.store.WithIdentityTx(ctx, id, func(tx database.IdentityTx) error {
		n, err := tx.DeleteAllEmbeddings(ctx)
		if err != nil {
			return fmt.Errorf("deleting embeddings: %w", err)
		}
		if err := tx.DeleteCentroid(ctx); err != nil {
			return fmt.Errorf("deleting centroid: %w", err)
		}
		removed = n
		return nil
	})
	if err != nil {
		return 0, dependencyError("Failed to clear enrollment", err)
	}

	e.syncIndex(id, nil)
	if err := e.learner.Forget(ctx, id); err != nil {
		e.log.WithError(err).WithField("identity", id).Warn("failed to reset adaptive streak")
	}
	e.log.WithFields(logrus.Fields{"op": "clear", "identity": id, "removed": removed}).Info("enrollment cleared")
	return removed, nil
}

// DeleteEmbedding removes a single embedding and recomputes the centroid.
// It returns the number of embeddings left.
func (e *Engine) DeleteEmbedding(ctx context.Context, identityID, embeddingID string) (int, error) {
	id, err := NormalizeIdentityID(identityID)
	if err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	adapter := e.Adapter()
	var centroid *database.IdentityCentroid
	err = e.store.WithIdentityTx(ctx, id, func(tx database.IdentityTx) error {
		if err := tx.DeleteEmbedding(ctx, embeddingID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return newError(KindInput, ErrEmbeddingNotFound, fmt.Sprintf("Embedding %s not found for identity %s", embeddingID, id))
			}
			return fmt.Errorf("deleting embedding: %w", err)
		}
		c, err := e.centroids.UpdateForIdentity(ctx, tx, id, adapter)
		if err != nil {
			return err
		}
		centroid = c
		return nil
	})
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			return 0, be
		}
		return 0, dependencyError("Failed to delete embedding", err)
	}

	e.syncIndex(id, centroid)
	remaining := 0
	if centroid != nil {
		remaining = centroid.EmbeddingCount
	}
	e.log.WithFields(logrus.Fields{"op": "delete", "identity": id, "embedding": embeddingID, "remaining": remaining}).Info("embedding deleted")
	return remaining, nil
}
