// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-enroll/internal/database"
)

// MockStore is an in-memory database.Store. Identity transactions operate on
// a staged copy of the identity's rows and are applied only when fn succeeds.
type MockStore struct {
	mu         sync.RWMutex
	embeddings map[string][]database.FaceEmbedding // identity -> embeddings
	centroids  map[string]database.IdentityCentroid
	txLocks    map[string]*sync.Mutex

	// Error injection
	GetError    error
	CountError  error
	GroupError  error
	TxError     error
	CommitError error // returned after fn succeeds, nothing is applied

	// Calls counts WithIdentityTx invocations
	Calls int
}

// NewMockStore creates a new empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		embeddings: make(map[string][]database.FaceEmbedding),
		centroids:  make(map[string]database.IdentityCentroid),
		txLocks:    make(map[string]*sync.Mutex),
	}
}

// AddEmbedding seeds an embedding directly, bypassing transactions
func (m *MockStore) AddEmbedding(emb database.FaceEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[emb.IdentityID] = append(m.embeddings[emb.IdentityID], emb)
}

// SetCentroid seeds a centroid directly
func (m *MockStore) SetCentroid(c database.IdentityCentroid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.centroids[c.IdentityID] = c
}

func filterAdapter(embs []database.FaceEmbedding, adapter string) []database.FaceEmbedding {
	out := make([]database.FaceEmbedding, 0, len(embs))
	for _, e := range embs {
		if e.Adapter == adapter {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetEmbeddings returns the identity's embeddings for an adapter
func (m *MockStore) GetEmbeddings(ctx context.Context, identityID, adapter string) ([]database.FaceEmbedding, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterAdapter(m.embeddings[identityID], adapter), nil
}

// CountEmbeddings returns the number of embeddings for an identity
func (m *MockStore) CountEmbeddings(ctx context.Context, identityID, adapter string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(filterAdapter(m.embeddings[identityID], adapter)), nil
}

// GetEmbeddingsGrouped returns all embeddings for an adapter keyed by identity
func (m *MockStore) GetEmbeddingsGrouped(ctx context.Context, adapter string) (map[string][]database.FaceEmbedding, error) {
	if m.GroupError != nil {
		return nil, m.GroupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string][]database.FaceEmbedding)
	for id, embs := range m.embeddings {
		if filtered := filterAdapter(embs, adapter); len(filtered) > 0 {
			result[id] = filtered
		}
	}
	return result, nil
}

// GetCentroid returns the centroid for an identity, nil if missing
func (m *MockStore) GetCentroid(ctx context.Context, identityID, adapter string) (*database.IdentityCentroid, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.centroids[identityID]
	if !ok || c.Adapter != adapter {
		return nil, nil
	}
	return &c, nil
}

// ListCentroids returns all centroids for an adapter ordered by identity
func (m *MockStore) ListCentroids(ctx context.Context, adapter string) ([]database.IdentityCentroid, error) {
	if m.GroupError != nil {
		return nil, m.GroupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []database.IdentityCentroid
	for _, c := range m.centroids {
		if c.Adapter == adapter {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IdentityID < result[j].IdentityID })
	return result, nil
}

func (m *MockStore) identityLock(identityID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.txLocks[identityID]
	if !ok {
		l = &sync.Mutex{}
		m.txLocks[identityID] = l
	}
	return l
}

// WithIdentityTx runs fn against a staged copy of the identity's rows
func (m *MockStore) WithIdentityTx(ctx context.Context, identityID string, fn func(tx database.IdentityTx) error) error {
	if m.TxError != nil {
		return m.TxError
	}
	lock := m.identityLock(identityID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.Calls++
	tx := &mockTx{identityID: identityID}
	tx.embeddings = append(tx.embeddings, m.embeddings[identityID]...)
	if c, ok := m.centroids[identityID]; ok {
		tx.centroid = &c
	}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CommitError != nil {
		return m.CommitError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(tx.embeddings) == 0 {
		delete(m.embeddings, identityID)
	} else {
		m.embeddings[identityID] = tx.embeddings
	}
	if tx.centroid == nil {
		delete(m.centroids, identityID)
	} else {
		m.centroids[identityID] = *tx.centroid
	}
	return nil
}

// Close is a no-op
func (m *MockStore) Close() error {
	return nil
}

type mockTx struct {
	identityID string
	embeddings []database.FaceEmbedding
	centroid   *database.IdentityCentroid
}

func (t *mockTx) Embeddings(ctx context.Context, adapter string) ([]database.FaceEmbedding, error) {
	return filterAdapter(t.embeddings, adapter), nil
}

func (t *mockTx) SaveEmbedding(ctx context.Context, emb *database.FaceEmbedding) error {
	e := *emb
	e.IdentityID = t.identityID
	t.embeddings = append(t.embeddings, e)
	return nil
}

func (t *mockTx) DeleteEmbedding(ctx context.Context, embeddingID string) error {
	for i, e := range t.embeddings {
		if e.ID == embeddingID {
			t.embeddings = append(t.embeddings[:i], t.embeddings[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

func (t *mockTx) DeleteAllEmbeddings(ctx context.Context) (int, error) {
	n := len(t.embeddings)
	t.embeddings = nil
	return n, nil
}

func (t *mockTx) UpsertCentroid(ctx context.Context, c *database.IdentityCentroid) error {
	cp := *c
	cp.IdentityID = t.identityID
	t.centroid = &cp
	return nil
}

func (t *mockTx) DeleteCentroid(ctx context.Context) error {
	t.centroid = nil
	return nil
}
