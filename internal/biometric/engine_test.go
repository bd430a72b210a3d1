package biometric

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/database"
	"github.com/kozaktomas/face-enroll/internal/database/mock"
	"github.com/kozaktomas/face-enroll/internal/detector"
)

const testDim = 16

type fakeDetector struct {
	mu    sync.Mutex
	faces map[string][]detector.Face
	err   error
	calls int

	distance     DistanceFunc // overrides cosine distance when set
	compareCalls atomic.Int64
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{faces: make(map[string][]detector.Face)}
}

func (f *fakeDetector) register(data []byte, faces ...detector.Face) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[string(data)] = faces
}

func (f *fakeDetector) Detect(ctx context.Context, imageData []byte) ([]detector.Face, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.faces[string(imageData)], nil
}

func (f *fakeDetector) EmbeddingSize() int             { return testDim }
func (f *fakeDetector) Version() string                { return "fake/test/16" }

func (f *fakeDetector) Compare(a, b []float32) float64 {
	f.compareCalls.Add(1)
	if f.distance != nil {
		return f.distance(a, b)
	}
	return database.CosineDistance(a, b)
}

func testFace(emb []float32, yaw float64) detector.Face {
	return detector.Face{
		BBox:       [4]float64{20, 20, 180, 180},
		Confidence: 0.99,
		Embedding:  emb,
		Pose:       &detector.HeadPose{Yaw: yaw},
	}
}

func axis(i int) []float32 {
	return unitVector(testDim, i, 0)
}

type testEnv struct {
	engine *Engine
	det    *fakeDetector
	store  *mock.MockStore
	seed   uint64
}

func newTestEnv(t *testing.T, policy config.Policy, opts ...Option) *testEnv {
	t.Helper()
	det := newFakeDetector()
	store := mock.NewMockStore()
	engine, err := NewEngine(det, store, policy, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return &testEnv{engine: engine, det: det, store: store, seed: 100}
}

// image returns a fresh high quality image whose detection yields faces.
func (env *testEnv) image(t *testing.T, faces ...detector.Face) []byte {
	t.Helper()
	env.seed++
	data := encodePNG(t, noiseImage(200, env.seed, 0, 255))
	env.det.register(data, faces...)
	return data
}

func (env *testEnv) count(t *testing.T, identityID string) int {
	t.Helper()
	n, err := env.store.CountEmbeddings(context.Background(), identityID, env.det.Version())
	if err != nil {
		t.Fatalf("CountEmbeddings() error = %v", err)
	}
	return n
}

// clearFaults removes every injected store error so post-conditions can be
// read back through the same store.
func (env *testEnv) clearFaults() {
	env.store.GetError = nil
	env.store.CountError = nil
	env.store.GroupError = nil
	env.store.TxError = nil
	env.store.CommitError = nil
}

func (env *testEnv) enrollAll(t *testing.T, identityID string, faces ...detector.Face) {
	t.Helper()
	for i, f := range faces {
		res, err := env.engine.Enroll(context.Background(), identityID, env.image(t, f))
		if err != nil {
			t.Fatalf("Enroll #%d error = %v", i+1, err)
		}
		if !res.Success {
			t.Fatalf("Enroll #%d not successful: %s", i+1, res.Message)
		}
	}
}

// atDistance returns a unit vector at cosine distance d from unit vector c,
// tilted towards the unit vector u orthogonal to c.
func atDistance(c, u []float32, d float64) []float32 {
	cos := 1 - d
	sin := math.Sqrt(1 - cos*cos)
	out := make([]float32, len(c))
	for i := range c {
		out[i] = float32(cos*float64(c[i]) + sin*float64(u[i]))
	}
	return out
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())

	env.enrollAll(t, "alice",
		testFace(axis(0), 0),
		testFace(axis(1), -30),
		testFace(axis(2), 30),
	)

	metrics, err := env.engine.EnrollmentMetrics(ctx, "alice")
	if err != nil {
		t.Fatalf("EnrollmentMetrics() error = %v", err)
	}
	if metrics.Count != 3 {
		t.Errorf("Count = %d, want 3", metrics.Count)
	}
	if metrics.NeedsReEnrollment {
		t.Errorf("NeedsReEnrollment = true (%s), want false", metrics.Reason)
	}
	if !metrics.EnrollmentComplete || len(metrics.RequiredMissing) != 0 {
		t.Errorf("expected complete enrollment, got %+v", metrics)
	}

	centroid, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	if centroid == nil || centroid.EmbeddingCount != 3 {
		t.Fatalf("centroid = %+v, want count 3", centroid)
	}

	query := atDistance(centroid.Vector, axis(3), 0.1)
	res, err := env.engine.Recognize(ctx, env.image(t, testFace(query, 0)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if !res.Matched || res.IdentityID != "alice" {
		t.Fatalf("Recognize() = %+v, want match for alice", res)
	}
	if res.Source != SourceCentroid {
		t.Errorf("Source = %q, want centroid", res.Source)
	}
	if res.Threshold != 0.40 {
		t.Errorf("Threshold = %v, want 0.40 for 3 embeddings", res.Threshold)
	}
	if math.Abs(res.Distance-0.1) > 0.001 {
		t.Errorf("Distance = %v, want 0.1", res.Distance)
	}
	if math.Abs(res.Confidence-0.75) > 0.001 {
		t.Errorf("Confidence = %v, want 0.75", res.Confidence)
	}
	if res.Gap != nil {
		t.Errorf("Gap = %v, want nil with a single identity", *res.Gap)
	}
}

func TestEngine_StoredVectorsAreUnitNorm(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())

	scaled := make([]float32, testDim)
	scaled[0], scaled[1] = 3, 4
	env.enrollAll(t, "alice", testFace(scaled, 0))

	embs, _ := env.store.GetEmbeddings(ctx, "alice", env.det.Version())
	if len(embs) != 1 {
		t.Fatalf("expected 1 embedding, got %d", len(embs))
	}
	if n := database.Norm(embs[0].Vector); math.Abs(n-1) > 1e-5 {
		t.Errorf("stored norm = %v, want 1", n)
	}
	if embs[0].Adapter != "fake/test/16" || embs[0].SourceLabel != "upload" || embs[0].PoseCategory != "front" {
		t.Errorf("unexpected embedding metadata %+v", embs[0])
	}
}

func TestEngine_EnrollRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(t *testing.T, env *testEnv) []byte
		wantKind  ErrorKind
		wantErr   error
		wantCount int
	}{
		{
			name: "undecodable image",
			setup: func(t *testing.T, env *testEnv) []byte {
				return []byte("definitely not an image")
			},
			wantKind: KindInput, wantErr: ErrUndecodableImage,
		},
		{
			name: "no face",
			setup: func(t *testing.T, env *testEnv) []byte {
				return env.image(t)
			},
			wantKind: KindInput, wantErr: ErrNoFace,
		},
		{
			name: "multiple faces",
			setup: func(t *testing.T, env *testEnv) []byte {
				return env.image(t, testFace(axis(0), 0), testFace(axis(1), 0))
			},
			wantKind: KindInput, wantErr: ErrMultipleFaces,
		},
		{
			name: "low quality",
			setup: func(t *testing.T, env *testEnv) []byte {
				data := encodePNG(t, flatImage(200, 128))
				env.det.register(data, testFace(axis(0), 0))
				return data
			},
			wantKind: KindQuality, wantErr: ErrLowQuality,
		},
		{
			name: "low detection confidence",
			setup: func(t *testing.T, env *testEnv) []byte {
				f := testFace(axis(0), 0)
				f.Confidence = 0.4
				return env.image(t, f)
			},
			wantKind: KindQuality, wantErr: ErrLowQuality,
		},
		{
			name: "duplicate of existing sample",
			setup: func(t *testing.T, env *testEnv) []byte {
				env.enrollAll(t, "alice", testFace(axis(0), 0))
				return env.image(t, testFace(axis(0), 30))
			},
			wantKind: KindPolicy, wantErr: ErrDuplicate, wantCount: 1,
		},
		{
			name: "detector failure",
			setup: func(t *testing.T, env *testEnv) []byte {
				env.det.err = errors.New("gpu on fire")
				return env.image(t, testFace(axis(0), 0))
			},
			wantKind: KindDependency,
		},
		{
			name: "wrong embedding size",
			setup: func(t *testing.T, env *testEnv) []byte {
				return env.image(t, testFace([]float32{1, 0}, 0))
			},
			wantKind: KindDependency, wantErr: ErrEmbeddingMismatch,
		},
		{
			name: "zero embedding",
			setup: func(t *testing.T, env *testEnv) []byte {
				return env.image(t, testFace(make([]float32, testDim), 0))
			},
			wantKind: KindDependency, wantErr: ErrEmbeddingMismatch,
		},
		{
			name: "NaN embedding",
			setup: func(t *testing.T, env *testEnv) []byte {
				emb := axis(0)
				emb[1] = float32(math.NaN())
				return env.image(t, testFace(emb, 0))
			},
			wantKind: KindDependency, wantErr: ErrEmbeddingMismatch,
		},
		{
			name: "infinite embedding",
			setup: func(t *testing.T, env *testEnv) []byte {
				emb := axis(0)
				emb[2] = float32(math.Inf(1))
				return env.image(t, testFace(emb, 0))
			},
			wantKind: KindDependency, wantErr: ErrEmbeddingMismatch,
		},
		{
			name: "store count failure",
			setup: func(t *testing.T, env *testEnv) []byte {
				env.store.CountError = errors.New("connection refused")
				return env.image(t, testFace(axis(0), 0))
			},
			wantKind: KindDependency,
		},
		{
			name: "commit failure leaves nothing behind",
			setup: func(t *testing.T, env *testEnv) []byte {
				env.store.CommitError = errors.New("commit failed")
				return env.image(t, testFace(axis(0), 0))
			},
			wantKind: KindDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.DefaultPolicy())
			data := tt.setup(t, env)

			res, err := env.engine.Enroll(ctx, "alice", data)
			if err == nil {
				t.Fatal("expected error")
			}
			if res == nil || res.Success || res.Message == "" {
				t.Errorf("expected failed result with message, got %+v", res)
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf(err) = %v, want %v (%v)", got, tt.wantKind, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErr)
			}
			if tt.wantKind == KindDependency && errors.Is(err, ErrNoFace) {
				t.Error("dependency failure reported as no face")
			}
			env.clearFaults()
			if got := env.count(t, "alice"); got != tt.wantCount {
				t.Errorf("stored embeddings = %d, want %d", got, tt.wantCount)
			}
			if tt.wantCount == 0 {
				if c, _ := env.store.GetCentroid(ctx, "alice", env.det.Version()); c != nil {
					t.Errorf("centroid written without embedding: %+v", c)
				}
			}
		})
	}
}

func TestEngine_QualityRejectionCarriesFeedback(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicy())
	data := encodePNG(t, flatImage(200, 128))
	env.det.register(data, testFace(axis(0), 0))

	res, err := env.engine.Enroll(context.Background(), "alice", data)
	if KindOf(err) != KindQuality {
		t.Fatalf("expected quality error, got %v", err)
	}
	if res.Feedback == nil || len(res.Feedback.Issues) == 0 {
		t.Errorf("expected feedback with issues, got %+v", res.Feedback)
	}
	if res.Quality == nil || res.Quality.RejectionReason == "" {
		t.Errorf("expected quality metrics with rejection reason, got %+v", res.Quality)
	}
	if env.store.Calls != 0 {
		t.Errorf("store transaction opened %d times on a quality rejection", env.store.Calls)
	}
}

func TestEngine_CapEnforcement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	for i := range 10 {
		env.store.AddEmbedding(database.FaceEmbedding{
			ID: fmt.Sprintf("seed-%d", i), IdentityID: "alice", Vector: axis(i), QualityScore: 0.9, Adapter: env.det.Version(),
		})
	}

	res, err := env.engine.Enroll(ctx, "alice", env.image(t, testFace(axis(12), 0)))
	if !errors.Is(err, ErrCapReached) || KindOf(err) != KindPolicy {
		t.Fatalf("expected cap reached policy error, got %v", err)
	}
	if res.Message == "" {
		t.Error("expected cap reason in message")
	}
	if got := env.count(t, "alice"); got != 10 {
		t.Errorf("stored embeddings = %d, want 10", got)
	}
}

func TestEngine_ConcurrentEnrollmentsRespectCap(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	for i := range 5 {
		env.store.AddEmbedding(database.FaceEmbedding{
			ID: fmt.Sprintf("seed-%d", i), IdentityID: "alice", Vector: axis(i), QualityScore: 0.9, Adapter: env.det.Version(),
		})
	}

	images := make([][]byte, 8)
	for i := range images {
		images[i] = env.image(t, testFace(axis(5+i), 0))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, capped := 0, 0
	for _, data := range images {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Enroll(ctx, "alice", data)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrCapReached):
				capped++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || capped != 3 {
		t.Errorf("succeeded=%d capped=%d, want 5 and 3", succeeded, capped)
	}
	if got := env.count(t, "alice"); got != 10 {
		t.Errorf("stored embeddings = %d, want 10", got)
	}
	c, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	if c == nil || c.EmbeddingCount != 10 {
		t.Errorf("centroid count = %+v, want 10", c)
	}
}

func TestEngine_EnrollBatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())

	images := [][]byte{
		env.image(t, testFace(axis(0), 0)),
		env.image(t, testFace(axis(0), 0)), // duplicate of the first
		env.image(t),                       // no face
		env.image(t, testFace(axis(1), -30)),
	}
	res, err := env.engine.EnrollBatch(ctx, "alice", images)
	if err != nil {
		t.Fatalf("EnrollBatch() error = %v", err)
	}
	if !res.Success || res.Enrolled != 2 || res.Attempted != 4 || res.EncodingsCount != 2 {
		t.Errorf("unexpected batch result %+v", res)
	}
	if len(res.Results) != 4 || res.Results[1].Success || res.Results[2].Success {
		t.Errorf("unexpected per-image results %+v", res.Results)
	}

	// Nothing enrollable is an error.
	res, err = env.engine.EnrollBatch(ctx, "bob", [][]byte{env.image(t), []byte("junk")})
	if err == nil || res.Success {
		t.Fatalf("expected failure for 0/n, got %+v", res)
	}
	if KindOf(err) != KindInput {
		t.Errorf("KindOf(err) = %v, want input", KindOf(err))
	}

	if _, err := env.engine.EnrollBatch(ctx, "bob", nil); !errors.Is(err, ErrNoImages) {
		t.Errorf("expected ErrNoImages, got %v", err)
	}
}

func TestEngine_EnrollBatchAbortsOnDependencyFailure(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicy())
	images := [][]byte{env.image(t, testFace(axis(0), 0)), env.image(t, testFace(axis(1), 0))}
	env.det.err = errors.New("detector down")

	res, err := env.engine.EnrollBatch(context.Background(), "alice", images)
	if KindOf(err) != KindDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(res.Results) != 1 {
		t.Errorf("batch continued after dependency failure: %d results", len(res.Results))
	}
}

func TestEngine_RecognizeNoMatchAndAmbiguous(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	env.enrollAll(t, "alice", testFace(axis(0), 0))
	env.enrollAll(t, "bob", testFace(axis(1), 0))

	between := database.Normalize(append([]float32{1, 1}, make([]float32, testDim-2)...))
	res, err := env.engine.Recognize(ctx, env.image(t, testFace(between, 0)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Matched || !res.Ambiguous {
		t.Errorf("expected ambiguous non-match, got %+v", res)
	}
	if res.Gap == nil || *res.Gap > 0.0001 {
		t.Errorf("expected zero gap, got %v", res.Gap)
	}
	if res.IdentityID != "" {
		t.Errorf("IdentityID = %q on a non-match", res.IdentityID)
	}

	res, err = env.engine.Recognize(ctx, env.image(t, testFace(axis(7), 0)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Matched || res.Ambiguous {
		t.Errorf("expected plain no match, got %+v", res)
	}
	if res.Threshold != 0.45 {
		t.Errorf("Threshold = %v, want 0.45 for a single embedding", res.Threshold)
	}

	res, err = env.engine.Recognize(ctx, env.image(t, testFace(axis(0), 0)))
	if err != nil || !res.Matched || res.IdentityID != "alice" {
		t.Errorf("expected alice, got %+v (%v)", res, err)
	}
}

func TestEngine_RecognizeIgnoresOtherAdapters(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	env.store.AddEmbedding(database.FaceEmbedding{ID: "old", IdentityID: "mallory", Vector: axis(0), QualityScore: 1, Adapter: "legacy/v0/16"})
	env.store.SetCentroid(database.IdentityCentroid{IdentityID: "mallory", Vector: axis(0), EmbeddingCount: 1, Adapter: "legacy/v0/16"})

	res, err := env.engine.Recognize(ctx, env.image(t, testFace(axis(0), 0)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Matched {
		t.Errorf("matched against a foreign adapter: %+v", res)
	}
}

func TestEngine_RecognizeErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())

	if _, err := env.engine.Recognize(ctx, env.image(t)); !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace, got %v", err)
	}

	env.store.GroupError = errors.New("db down")
	_, err := env.engine.Recognize(ctx, env.image(t, testFace(axis(0), 0)))
	if KindOf(err) != KindDependency {
		t.Errorf("expected dependency error, got %v", err)
	}
}

func TestEngine_AdaptiveLearning(t *testing.T) {
	ctx := context.Background()
	policy := config.DefaultPolicy()
	policy.Adaptive.Enabled = true
	env := newTestEnv(t, policy)

	env.enrollAll(t, "alice", testFace(axis(0), 0), testFace(axis(1), -30), testFace(axis(2), 30))
	centroid, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	data := env.image(t, testFace(centroid.Vector, 0))

	for i := range 3 {
		res, err := env.engine.Recognize(ctx, data)
		if err != nil || !res.Matched {
			t.Fatalf("recognition %d failed: %+v %v", i+1, res, err)
		}
		if want := i == 2; res.AdaptiveEnrolled != want {
			t.Errorf("recognition %d AdaptiveEnrolled = %v, want %v", i+1, res.AdaptiveEnrolled, want)
		}
	}

	embs, _ := env.store.GetEmbeddings(ctx, "alice", env.det.Version())
	if len(embs) != 4 {
		t.Fatalf("expected 4 embeddings after adaptive enrollment, got %d", len(embs))
	}
	adaptive := embs[3]
	if !adaptive.IsAdaptive || adaptive.SourceLabel != "adaptive" || adaptive.PoseCategory != "" {
		t.Errorf("unexpected adaptive embedding %+v", adaptive)
	}

	metrics, _ := env.engine.EnrollmentMetrics(ctx, "alice")
	if metrics.AdaptiveCount != 1 {
		t.Errorf("AdaptiveCount = %d, want 1", metrics.AdaptiveCount)
	}
	c, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	if c.EmbeddingCount != 4 {
		t.Errorf("centroid count = %d, want 4", c.EmbeddingCount)
	}
}

func TestEngine_AdaptiveStreakRequiresConsecutiveMatches(t *testing.T) {
	ctx := context.Background()
	policy := config.DefaultPolicy()
	policy.Adaptive.Enabled = true
	env := newTestEnv(t, policy)

	env.enrollAll(t, "alice", testFace(axis(0), 0), testFace(axis(1), -30), testFace(axis(2), 30))
	centroid, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	hit := env.image(t, testFace(centroid.Vector, 0))
	miss := env.image(t, testFace(axis(5), 0))

	steps := []struct {
		data         []byte
		wantMatched  bool
		wantAdaptive bool
	}{
		{hit, true, false},
		{hit, true, false},
		{miss, false, false},
		{hit, true, false},
		{hit, true, false},
		{hit, true, true},
	}
	for i, step := range steps {
		res, err := env.engine.Recognize(ctx, step.data)
		if err != nil {
			t.Fatalf("recognition %d error = %v", i+1, err)
		}
		if res.Matched != step.wantMatched {
			t.Fatalf("recognition %d Matched = %v, want %v", i+1, res.Matched, step.wantMatched)
		}
		if res.AdaptiveEnrolled != step.wantAdaptive {
			t.Errorf("recognition %d AdaptiveEnrolled = %v, want %v", i+1, res.AdaptiveEnrolled, step.wantAdaptive)
		}
	}

	if got := env.count(t, "alice"); got != 4 {
		t.Errorf("stored embeddings = %d, want 4", got)
	}
}

func TestEngine_DistancesComeFromDetector(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	env.enrollAll(t, "alice", testFace(axis(0), 0))

	// Identical vectors, but the detector's metric says they are far apart.
	env.det.distance = func(a, b []float32) float64 { return 0.5 }
	before := env.det.compareCalls.Load()
	res, err := env.engine.Recognize(ctx, env.image(t, testFace(axis(0), 0)))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Matched || res.Distance != 0.5 {
		t.Errorf("Recognize() = matched %v distance %v, want unmatched at 0.5", res.Matched, res.Distance)
	}
	if env.det.compareCalls.Load() == before {
		t.Error("Recognize() did not use the detector's Compare")
	}

	matches, err := env.engine.SearchIdentities(ctx, env.image(t, testFace(axis(0), 0)), 1)
	if err != nil {
		t.Fatalf("SearchIdentities() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Distance != 0.5 {
		t.Errorf("SearchIdentities() = %+v, want alice at 0.5", matches)
	}

	// Orthogonal vectors, but the detector's metric calls them identical.
	env.det.distance = func(a, b []float32) float64 { return 0 }
	_, err = env.engine.Enroll(ctx, "alice", env.image(t, testFace(axis(3), -30)))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Enroll() error = %v, want ErrDuplicate", err)
	}
}

func TestEngine_AdaptiveDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, config.DefaultPolicy())
	env.enrollAll(t, "alice", testFace(axis(0), 0))
	data := env.image(t, testFace(axis(0), 0))

	for range 5 {
		res, err := env.engine.Recognize(ctx, data)
		if err != nil || res.AdaptiveEnrolled {
			t.Fatalf("unexpected adaptive enrollment %+v %v", res, err)
		}
	}
	if got := env.count(t, "alice"); got != 1 {
		t.Errorf("stored embeddings = %d, want 1", got)
	}
}

func TestEngine_EnrollmentMetricsRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		faces      []detector.Face
		wantNeeds  bool
		wantReason string
	}{
		{"none", nil, true, "No enrollments found"},
		{"too few", []detector.Face{testFace(axis(0), 0), testFace(axis(1), -30)}, true, "Only 2 sample(s)"},
		{"missing required pose", []detector.Face{testFace(axis(0), 0), testFace(axis(1), 0), testFace(axis(2), -30)}, true, "Missing required poses: right_30"},
		{"complete", []detector.Face{testFace(axis(0), 0), testFace(axis(1), -30), testFace(axis(2), 30)}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.DefaultPolicy())
			env.enrollAll(t, "alice", tt.faces...)

			m, err := env.engine.EnrollmentMetrics(ctx, "alice")
			if err != nil {
				t.Fatalf("EnrollmentMetrics() error = %v", err)
			}
			if m.NeedsReEnrollment != tt.wantNeeds {
				t.Errorf("NeedsReEnrollment = %v, want %v", m.NeedsReEnrollment, tt.wantNeeds)
			}
			if m.Reason != tt.wantReason && (tt.wantReason == "" || !strings.Contains(m.Reason, tt.wantReason)) {
				t.Errorf("Reason = %q, want %q", m.Reason, tt.wantReason)
			}
		})
	}
}

func TestEngine_LowAverageQualityNeedsReEnrollment(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicy())
	embs := []database.FaceEmbedding{
		{ID: "1", PoseCategory: "front", QualityScore: 0.5},
		{ID: "2", PoseCategory: "left_30", QualityScore: 0.55},
		{ID: "3", PoseCategory: "right_30", QualityScore: 0.6},
	}
	m := env.engine.buildMetrics("alice", embs)
	if !m.NeedsReEnrollment || !strings.Contains(m.Reason, "Average quality 0.55") {
		t.Errorf("expected low quality re-enrollment, got %+v", m)
	}
}

func TestEngine_ClearAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := database.NewCentroidIndex("fake/test/16")
	env := newTestEnv(t, config.DefaultPolicy(), WithCentroidIndex(idx))

	env.enrollAll(t, "alice", testFace(axis(0), 0), testFace(axis(1), -30))
	env.enrollAll(t, "bob", testFace(axis(5), 0))
	if idx.Len() != 2 {
		t.Fatalf("index size = %d, want 2", idx.Len())
	}

	embs, _ := env.store.GetEmbeddings(ctx, "alice", env.det.Version())
	remaining, err := env.engine.DeleteEmbedding(ctx, "alice", embs[0].ID)
	if err != nil || remaining != 1 {
		t.Fatalf("DeleteEmbedding() = %d, %v; want 1, nil", remaining, err)
	}
	c, _ := env.store.GetCentroid(ctx, "alice", env.det.Version())
	if c == nil || c.EmbeddingCount != 1 {
		t.Errorf("centroid after delete = %+v, want count 1", c)
	}

	if _, err := env.engine.DeleteEmbedding(ctx, "alice", "missing"); !errors.Is(err, ErrEmbeddingNotFound) {
		t.Errorf("expected ErrEmbeddingNotFound, got %v", err)
	}

	removed, err := env.engine.ClearEnrollment(ctx, "alice")
	if err != nil || removed != 1 {
		t.Fatalf("ClearEnrollment() = %d, %v; want 1, nil", removed, err)
	}
	if c, _ := env.store.GetCentroid(ctx, "alice", env.det.Version()); c != nil {
		t.Errorf("centroid survived clear: %+v", c)
	}
	if idx.Len() != 1 {
		t.Errorf("index size after clear = %d, want 1", idx.Len())
	}

	m, _ := env.engine.EnrollmentMetrics(ctx, "alice")
	if m.Count != 0 || !m.NeedsReEnrollment {
		t.Errorf("unexpected metrics after clear %+v", m)
	}
}

func TestEngine_SearchIdentities(t *testing.T) {
	ctx := context.Background()

	for _, withIndex := range []bool{false, true} {
		t.Run(fmt.Sprintf("index=%v", withIndex), func(t *testing.T) {
			var opts []Option
			if withIndex {
				opts = append(opts, WithCentroidIndex(database.NewCentroidIndex("fake/test/16")))
			}
			env := newTestEnv(t, config.DefaultPolicy(), opts...)
			env.enrollAll(t, "alice", testFace(axis(0), 0))
			env.enrollAll(t, "bob", testFace(axis(4), 0))
			env.enrollAll(t, "carol", testFace(axis(8), 0))

			hits, err := env.engine.SearchIdentities(ctx, env.image(t, testFace(unitVector(testDim, 4, 0.3), 0)), 2)
			if err != nil {
				t.Fatalf("SearchIdentities() error = %v", err)
			}
			if len(hits) != 2 {
				t.Fatalf("expected 2 hits, got %d", len(hits))
			}
			if hits[0].IdentityID != "bob" {
				t.Errorf("nearest = %q, want bob", hits[0].IdentityID)
			}
			if hits[0].Distance > hits[1].Distance {
				t.Errorf("hits not sorted: %+v", hits)
			}
		})
	}
}

func TestEngine_RebuildIndex(t *testing.T) {
	ctx := context.Background()
	idx := database.NewCentroidIndex("fake/test/16")
	env := newTestEnv(t, config.DefaultPolicy(), WithCentroidIndex(idx))
	env.store.SetCentroid(database.IdentityCentroid{IdentityID: "alice", Vector: axis(0), EmbeddingCount: 1, Adapter: "fake/test/16"})

	if err := env.engine.RebuildIndex(ctx); err != nil {
		t.Fatalf("RebuildIndex() error = %v", err)
	}
	if idx.Len() != 1 {
		t.Errorf("index size = %d, want 1", idx.Len())
	}
}

type constLiveness float64

func (c constLiveness) Score(_ image.Image, _ detector.Face, _ QualityMetrics) float64 {
	return float64(c)
}

func TestEngine_LivenessIsAdvisory(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicy(), WithLiveness(constLiveness(0)))
	res, err := env.engine.Enroll(context.Background(), "alice", env.image(t, testFace(axis(0), 0)))
	if err != nil || !res.Success {
		t.Fatalf("a zero liveness score must not block enrollment: %+v %v", res, err)
	}
	if res.LivenessScore == nil || *res.LivenessScore != 0 {
		t.Errorf("LivenessScore = %v, want 0", res.LivenessScore)
	}
}

func TestNewEngine_Validation(t *testing.T) {
	if _, err := NewEngine(nil, mock.NewMockStore(), config.DefaultPolicy()); err == nil {
		t.Error("expected error without detector")
	}
	if _, err := NewEngine(newFakeDetector(), nil, config.DefaultPolicy()); err == nil {
		t.Error("expected error without store")
	}
	bad := config.DefaultPolicy()
	bad.Matching.ThresholdWellEnrolled = 0.9
	if _, err := NewEngine(newFakeDetector(), mock.NewMockStore(), bad); err == nil {
		t.Error("expected error for invalid policy")
	}
}

func TestEngine_EnrollBatchWithProgress(t *testing.T) {
	env := newTestEnv(t, config.DefaultPolicy())
	images := [][]byte{env.image(t, testFace(axis(0), 0)), env.image(t), env.image(t, testFace(axis(1), 30))}

	var seen []bool
	res, err := env.engine.EnrollBatchWithProgress(context.Background(), "alice", images, func(r *EnrollResult) {
		seen = append(seen, r.Success)
	})
	if err != nil || res.Enrolled != 2 {
		t.Fatalf("EnrollBatchWithProgress() = %+v, %v", res, err)
	}
	if len(seen) != 3 || !seen[0] || seen[1] || !seen[2] {
		t.Errorf("progress callbacks = %v", seen)
	}
}
