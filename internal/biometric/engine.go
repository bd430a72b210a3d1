// Package biometric decides whether a face sample may be enrolled for an
// identity and which enrolled identity, if any, a query face belongs to.
package biometric

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/database"
	"github.com/kozaktomas/face-enroll/internal/detector"
	"github.com/kozaktomas/face-enroll/internal/logging"
)

// Engine orchestrates enrollment and recognition on top of a detector and a store.
type Engine struct {
	detector  detector.Detector
	store     database.Store
	policy    config.Policy
	quality   *QualityAnalyzer
	poses     *PoseClassifier
	dupes     *DuplicateChecker
	centroids *CentroidManager
	learner   *AdaptiveLearner
	streaks   StreakStore
	liveness  LivenessScorer
	index     *database.CentroidIndex
	locks     *keyedMutex
	log       *logrus.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStreakStore shares adaptive learner streaks through s.
func WithStreakStore(s StreakStore) Option {
	return func(e *Engine) { e.streaks = s }
}

// WithLiveness attaches an advisory liveness scorer.
func WithLiveness(s LivenessScorer) Option {
	return func(e *Engine) { e.liveness = s }
}

// WithCentroidIndex keeps idx in sync with centroid writes and uses it for
// SearchIdentities.
func WithCentroidIndex(idx *database.CentroidIndex) Option {
	return func(e *Engine) { e.index = idx }
}

// NewEngine wires the engine. The detector is shared by every call and must
// be safe for concurrent use.
func NewEngine(det detector.Detector, store database.Store, policy config.Policy, opts ...Option) (*Engine, error) {
	if det == nil {
		return nil, errors.New("detector is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		detector:  det,
		store:     store,
		policy:    policy,
		quality:   NewQualityAnalyzer(policy.Quality),
		poses:     NewPoseClassifier(policy.Pose),
		dupes:     NewDuplicateChecker(policy.Enrollment, store, det.Compare),
		centroids: NewCentroidManager(),
		locks:     newKeyedMutex(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	e.learner = NewAdaptiveLearner(policy.Adaptive, e.streaks)
	e.centroids.now = e.now
	return e, nil
}

// Adapter returns the tag stored with embeddings produced by the active detector.
func (e *Engine) Adapter() string {
	return e.detector.Version()
}

// Policy returns the decision policy in force.
func (e *Engine) Policy() config.Policy {
	return e.policy
}

// Learner exposes the adaptive learner so it can be toggled at runtime.
func (e *Engine) Learner() *AdaptiveLearner {
	return e.learner
}

// RebuildIndex reloads the centroid index from the store.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.index == nil {
		return nil
	}
	centroids, err := e.store.ListCentroids(ctx, e.Adapter())
	if err != nil {
		return dependencyError("Failed to load centroids", err)
	}
	e.index.Build(centroids)
	return nil
}

func (e *Engine) syncIndex(identityID string, centroid *database.IdentityCentroid) {
	if e.index == nil {
		return
	}
	if centroid == nil {
		e.index.Delete(identityID)
		return
	}
	e.index.Upsert(identityID, centroid.Vector)
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, newError(KindInput, ErrUndecodableImage, "Image is empty")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{
			Kind:   KindInput,
			Reason: "Image could not be decoded. Supported formats are JPEG, PNG, GIF, BMP and WebP",
			Err:    errors.Join(ErrUndecodableImage, err),
		}
	}
	return img, nil
}

// detect runs the detector and validates embedding dimensions and norms. Detector
// failures are dependency errors, never "no face".
func (e *Engine) detect(ctx context.Context, data []byte) ([]detector.Face, error) {
	faces, err := e.detector.Detect(ctx, data)
	if err != nil {
		return nil, dependencyError("Face detector failed", err)
	}
	want := e.detector.EmbeddingSize()
	for _, f := range faces {
		if len(f.Embedding) != want {
			return nil, &Error{
				Kind:   KindDependency,
				Reason: "Face detector returned an embedding of unexpected size",
				Err:    ErrEmbeddingMismatch,
			}
		}
		if n := database.Norm(f.Embedding); n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, &Error{
				Kind:   KindDependency,
				Reason: "Face detector returned a degenerate embedding",
				Err:    ErrEmbeddingMismatch,
			}
		}
	}
	return faces, nil
}

func (e *Engine) livenessScore(img image.Image, face detector.Face, m QualityMetrics) *float64 {
	if e.liveness == nil {
		return nil
	}
	s := e.liveness.Score(img, face, m)
	return &s
}
