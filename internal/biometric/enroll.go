package biometric

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/database"
)

const (
	sourceUpload   = "upload"
	sourceAdaptive = "adaptive"
)

// Enroll adds one reference sample for an identity. The returned result is
// never nil; err is a *Error describing why nothing was stored.
func (e *Engine) Enroll(ctx context.Context, identityID string, imageData []byte) (*EnrollResult, error) {
	return e.EnrollWithSource(ctx, identityID, imageData, sourceUpload)
}

// EnrollWithSource is Enroll with a caller supplied source label.
func (e *Engine) EnrollWithSource(ctx context.Context, identityID string, imageData []byte, sourceLabel string) (*EnrollResult, error) {
	result := &EnrollResult{IdentityID: identityID}
	log := e.log.WithFields(logrus.Fields{"op": "enroll", "identity": identityID})

	id, err := NormalizeIdentityID(identityID)
	if err != nil {
		return reject(result, err)
	}
	result.IdentityID = id

	img, err := decodeImage(imageData)
	if err != nil {
		return reject(result, err)
	}

	faces, err := e.detect(ctx, imageData)
	if err != nil {
		log.WithError(err).Error("detector failed")
		return reject(result, err)
	}
	if len(faces) == 0 {
		return reject(result, newError(KindInput, ErrNoFace, "No face detected. Please make sure your face is clearly visible"))
	}

	adapter := e.Adapter()
	ok, reason, err := e.dupes.CanEnrollMore(ctx, id, adapter, nil)
	if err != nil {
		log.WithError(err).Error("enrollment count unavailable")
		return reject(result, dependencyError("Failed to read enrollment count", err))
	}
	if !ok {
		return reject(result, newError(KindPolicy, ErrCapReached, reason))
	}

	face := faces[0]
	metrics := e.quality.Analyze(img, face.BBox, face.Confidence)
	result.Quality = &metrics
	result.QualityScore = metrics.OverallScore
	if ok, reason := e.quality.IsAcceptable(metrics, len(faces)); !ok {
		metrics.RejectionReason = reason
		if len(faces) > 1 {
			return reject(result, newError(KindInput, ErrMultipleFaces, reason))
		}
		feedback := e.quality.Feedback(metrics)
		result.Feedback = &feedback
		log.WithFields(logrus.Fields{"score": metrics.OverallScore, "reason": reason}).Info("sample rejected on quality")
		return reject(result, newError(KindQuality, ErrLowQuality, reason))
	}

	pose := e.poses.Classify(face)
	result.PoseCategory = pose.Category
	result.LivenessScore = e.livenessScore(img, face, metrics)

	emb := &database.FaceEmbedding{
		ID:           e.newID(),
		IdentityID:   id,
		Vector:       database.Normalize(face.Embedding),
		QualityScore: metrics.OverallScore,
		PoseCategory: string(pose.Category),
		SourceLabel:  sourceLabel,
		Adapter:      adapter,
		CreatedAt:    e.now(),
	}
	count, err := e.persist(ctx, emb)
	if err != nil {
		if KindOf(err) == KindDependency {
			log.WithError(err).Error("failed to store enrollment")
		}
		return reject(result, err)
	}

	result.Success = true
	result.EmbeddingID = emb.ID
	result.EncodingsCount = count
	result.Message = fmt.Sprintf("Face enrolled successfully (%s pose, quality %.2f). %d sample(s) enrolled",
		pose.Category, metrics.OverallScore, count)
	log.WithFields(logrus.Fields{"embedding": emb.ID, "pose": pose.Category, "count": count}).Info("face enrolled")
	return result, nil
}

// persist stores emb and recomputes the identity's centroid atomically. The
// cap and duplicate checks are repeated against the rows seen inside the
// transaction so concurrent enrollments cannot overshoot.
func (e *Engine) persist(ctx context.Context, emb *database.FaceEmbedding) (int, error) {
	unlock := e.locks.Lock(emb.IdentityID)
	defer unlock()

	var count int
	var centroid *database.IdentityCentroid
	err := e.store.WithIdentityTx(ctx, emb.IdentityID, func(tx database.IdentityTx) error {
		existing, err := tx.Embeddings(ctx, emb.Adapter)
		if err != nil {
			return fmt.Errorf("loading embeddings: %w", err)
		}

		n := len(existing)
		if ok, reason, _ := e.dupes.CanEnrollMore(ctx, emb.IdentityID, emb.Adapter, &n); !ok {
			return newError(KindPolicy, ErrCapReached, reason)
		}
		vectors := make([][]float32, len(existing))
		for i := range existing {
			vectors[i] = existing[i].Vector
		}
		if dup, reason := e.dupes.IsDuplicate(emb.Vector, vectors); dup {
			return newError(KindPolicy, ErrDuplicate, reason)
		}

		if err := tx.SaveEmbedding(ctx, emb); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
		c, err := e.centroids.UpdateForIdentity(ctx, tx, emb.IdentityID, emb.Adapter)
		if err != nil {
			return err
		}
		centroid = c
		count = n + 1
		return nil
	})
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			return 0, be
		}
		return 0, dependencyError("Failed to store enrollment", err)
	}

	e.syncIndex(emb.IdentityID, centroid)
	return count, nil
}

// EnrollBatch runs every image through Enroll. A dependency failure aborts
// the batch; per-image rejections are collected. Enrolling nothing is an
// error carrying the first rejection.
func (e *Engine) EnrollBatch(ctx context.Context, identityID string, images [][]byte) (*BatchEnrollResult, error) {
	return e.EnrollBatchWithProgress(ctx, identityID, images, nil)
}

// EnrollBatchWithProgress is EnrollBatch calling progress after each image.
func (e *Engine) EnrollBatchWithProgress(ctx context.Context, identityID string, images [][]byte, progress func(res *EnrollResult)) (*BatchEnrollResult, error) {
	batch := &BatchEnrollResult{IdentityID: identityID, Attempted: len(images), Results: []EnrollResult{}}
	if len(images) == 0 {
		err := newError(KindInput, ErrNoImages, "No images provided")
		batch.Message = err.Reason
		return batch, err
	}

	var firstErr error
	for _, data := range images {
		res, err := e.Enroll(ctx, identityID, data)
		batch.IdentityID = res.IdentityID
		batch.Results = append(batch.Results, *res)
		if progress != nil {
			progress(res)
		}
		if err != nil {
			if KindOf(err) == KindDependency || KindOf(err) == 0 {
				batch.Message = fmt.Sprintf("Batch aborted after %d of %d images: %s", len(batch.Results), len(images), ReasonOf(err))
				return batch, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		batch.Enrolled++
		batch.EncodingsCount = res.EncodingsCount
	}

	if batch.Enrolled == 0 {
		batch.Message = fmt.Sprintf("No images could be enrolled (0/%d): %s", len(images), ReasonOf(firstErr))
		return batch, &Error{Kind: KindOf(firstErr), Reason: batch.Message, Err: firstErr}
	}

	batch.Success = true
	batch.Message = fmt.Sprintf("Enrolled %d of %d images. %d sample(s) enrolled", batch.Enrolled, len(images), batch.EncodingsCount)
	return batch, nil
}

func reject(result *EnrollResult, err error) (*EnrollResult, error) {
	result.Success = false
	result.Message = ReasonOf(err)
	if result.Quality != nil && result.Quality.RejectionReason == "" && KindOf(err) == KindQuality {
		result.Quality.RejectionReason = result.Message
	}
	return result, err
}
