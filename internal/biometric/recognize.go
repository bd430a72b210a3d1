package biometric

import (
	"context"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-enroll/internal/database"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// Recognize matches the first face in the image against every enrolled
// identity. No match and ambiguous matches are returned as results with
// Matched=false.
func (e *Engine) Recognize(ctx context.Context, imageData []byte) (*RecognitionResult, error) {
	log := e.log.WithField("op", "recognize")

	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}
	faces, err := e.detect(ctx, imageData)
	if err != nil {
		log.WithError(err).Error("detector failed")
		return nil, err
	}
	if len(faces) == 0 {
		return nil, newError(KindInput, ErrNoFace, "No face detected. Please make sure your face is clearly visible")
	}

	face := faces[0]
	query := database.Normalize(face.Embedding)

	candidates, groups, err := e.rankCandidates(ctx, query)
	if err != nil {
		log.WithError(err).Error("failed to load enrollments")
		return nil, err
	}

	result := &RecognitionResult{}
	if e.liveness != nil {
		metrics := e.quality.Analyze(img, face.BBox, face.Confidence)
		result.LivenessScore = e.livenessScore(img, face, metrics)
	}
	if len(candidates) == 0 {
		result.Message = "No enrolled identities to match against"
		return result, nil
	}

	best := candidates[0]
	var runnerUp *Candidate
	if len(candidates) > 1 {
		runnerUp = &candidates[1]
		result.RunnerUpID = runnerUp.IdentityID
	}

	scores := make([]float64, 0, len(groups[best.IdentityID]))
	for _, emb := range groups[best.IdentityID] {
		scores = append(scores, emb.QualityScore)
	}
	threshold := AdaptiveThreshold(e.policy.Matching, scores)
	decision := Decide(e.policy.Matching, best, runnerUp, threshold)

	result.Distance = best.Distance
	result.Source = best.Source
	result.Threshold = threshold
	result.Ambiguous = decision.Ambiguous
	result.Message = decision.Reason
	if !math.IsInf(decision.Gap, 0) {
		gap := decision.Gap
		result.Gap = &gap
	}

	fields := logrus.Fields{"identity": best.IdentityID, "distance": best.Distance, "threshold": threshold}
	if !decision.Matched {
		log.WithFields(fields).WithField("reason", decision.Reason).Info("no match")
		// Streaks count consecutive matches only.
		if e.learner.Enabled() {
			if err := e.learner.Forget(ctx, best.IdentityID); err != nil {
				log.WithError(err).WithField("identity", best.IdentityID).Warn("failed to reset adaptive streak")
			}
		}
		return result, nil
	}

	result.Matched = true
	result.IdentityID = best.IdentityID
	result.Confidence = decision.Confidence
	log.WithFields(fields).WithField("confidence", decision.Confidence).Info("identity matched")

	result.AdaptiveEnrolled = e.learn(ctx, best.IdentityID, query, decision.Confidence, groups[best.IdentityID])
	return result, nil
}

// rankCandidates computes every identity's best distance to query, ascending.
// Ties are broken by identity ID so the ranking is deterministic.
func (e *Engine) rankCandidates(ctx context.Context, query []float32) ([]Candidate, map[string][]database.FaceEmbedding, error) {
	adapter := e.Adapter()
	groups, err := e.store.GetEmbeddingsGrouped(ctx, adapter)
	if err != nil {
		return nil, nil, dependencyError("Failed to load embeddings", err)
	}
	centroidList, err := e.store.ListCentroids(ctx, adapter)
	if err != nil {
		return nil, nil, dependencyError("Failed to load centroids", err)
	}
	centroids := make(map[string][]float32, len(centroidList))
	for _, c := range centroidList {
		centroids[c.IdentityID] = c.Vector
	}

	candidates := make([]Candidate, 0, len(groups))
	for identityID, embs := range groups {
		individuals := make([][]float32, 0, len(embs))
		for _, emb := range embs {
			individuals = append(individuals, emb.Vector)
		}
		dist, source := CompareWithCentroid(query, centroids[identityID], individuals, e.detector.Compare)
		if math.IsInf(dist, 1) {
			continue
		}
		candidates = append(candidates, Candidate{IdentityID: identityID, Distance: dist, Source: source})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].IdentityID < candidates[j].IdentityID
	})
	return candidates, groups, nil
}

// learn feeds the adaptive learner and passively enrolls its candidate.
// Failures are logged and never affect the recognition result.
func (e *Engine) learn(ctx context.Context, identityID string, query []float32, confidence float64, existing []database.FaceEmbedding) bool {
	log := e.log.WithFields(logrus.Fields{"op": "adaptive", "identity": identityID})

	candidate, err := e.learner.RecordRecognition(ctx, identityID, query, confidence)
	if err != nil {
		log.WithError(err).Warn("adaptive learner unavailable")
		return false
	}
	if candidate == nil {
		return false
	}

	// A synthesized sample has no image of its own, so it inherits the
	// average quality of the samples it was matched against.
	var quality float64
	for _, emb := range existing {
		quality += emb.QualityScore
	}
	if len(existing) > 0 {
		quality /= float64(len(existing))
	}

	emb := &database.FaceEmbedding{
		ID:           e.newID(),
		IdentityID:   identityID,
		Vector:       candidate,
		QualityScore: quality,
		IsAdaptive:   true,
		SourceLabel:  sourceAdaptive,
		Adapter:      e.Adapter(),
		CreatedAt:    e.now(),
	}
	count, err := e.persist(ctx, emb)
	if err != nil {
		log.WithField("reason", ReasonOf(err)).Info("adaptive enrollment skipped")
		return false
	}
	log.WithField("count", count).Info("adaptive embedding enrolled")
	return true
}

// SearchIdentities returns the k identities whose centroids are nearest to
// the first face in the image. It uses the centroid index when one is
// attached and populated.
func (e *Engine) SearchIdentities(ctx context.Context, imageData []byte, k int) ([]IdentityMatch, error) {
	if k <= 0 {
		k = defaultSearchLimit
	}
	k = min(k, maxSearchLimit)

	if _, err := decodeImage(imageData); err != nil {
		return nil, err
	}
	faces, err := e.detect(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, newError(KindInput, ErrNoFace, "No face detected. Please make sure your face is clearly visible")
	}
	query := database.Normalize(faces[0].Embedding)

	matches := []IdentityMatch{}
	if e.index != nil && e.index.Len() > 0 && e.index.Adapter() == e.Adapter() {
		for _, hit := range e.index.Search(query, k) {
			matches = append(matches, IdentityMatch{IdentityID: hit.IdentityID, Distance: hit.Distance})
		}
		return matches, nil
	}

	centroids, err := e.store.ListCentroids(ctx, e.Adapter())
	if err != nil {
		return nil, dependencyError("Failed to load centroids", err)
	}
	for _, c := range centroids {
		if len(c.Vector) != len(query) {
			continue
		}
		matches = append(matches, IdentityMatch{IdentityID: c.IdentityID, Distance: e.detector.Compare(query, c.Vector)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].IdentityID < matches[j].IdentityID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
