package database

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// CentroidIndexMetadata stores metadata for validating a persisted centroid index.
type CentroidIndexMetadata struct {
	Adapter       string            `json:"adapter"`
	IdentityCount int               `json:"identity_count"`
	BuildTime     time.Time         `json:"build_time"`
	Version       int               `json:"version"`
	Nodes         map[string]string `json:"nodes"` // identity ID -> current graph key
	Generation    uint64            `json:"generation"`
}

const centroidIndexVersion = 2

// IdentityDistance is a single nearest-neighbour hit.
type IdentityDistance struct {
	IdentityID string
	Distance   float64
}

// CentroidIndex is an approximate nearest neighbour index over identity
// centroids. Nodes are never removed from the graph: every centroid version
// gets its own key, replaced or deleted centroids leave a stale node behind
// which is filtered on search, and the graph is rebuilt once stale nodes
// outnumber live ones.
type CentroidIndex struct {
	graph   *hnsw.Graph[string]
	vectors map[string][]float32 // identity ID -> live centroid
	nodes   map[string]string    // identity ID -> current graph key
	gen     uint64
	adapter string
	mu      sync.RWMutex
}

// NewCentroidIndex creates an empty index for one adapter.
func NewCentroidIndex(adapter string) *CentroidIndex {
	return &CentroidIndex{
		graph:   newCentroidGraph(),
		vectors: make(map[string][]float32),
		nodes:   make(map[string]string),
		adapter: adapter,
	}
}

func newCentroidGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

func nodeKey(identityID string, gen uint64) string {
	return identityID + "#" + strconv.FormatUint(gen, 10)
}

// Adapter returns the adapter tag the index was built for.
func (c *CentroidIndex) Adapter() string {
	return c.adapter
}

// Build replaces the index content with the given centroids.
func (c *CentroidIndex) Build(centroids []IdentityCentroid) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vectors = make(map[string][]float32, len(centroids))
	for i := range centroids {
		cent := &centroids[i]
		if len(cent.Vector) == 0 || cent.Adapter != c.adapter {
			continue
		}
		c.vectors[cent.IdentityID] = cent.Vector
	}
	c.rebuildLocked()
}

// rebuildLocked recreates the graph from the live vectors, dropping every
// stale node.
func (c *CentroidIndex) rebuildLocked() {
	c.graph = newCentroidGraph()
	c.nodes = make(map[string]string, len(c.vectors))
	for id, vec := range c.vectors {
		c.gen++
		key := nodeKey(id, c.gen)
		c.graph.Add(hnsw.MakeNode(key, vec))
		c.nodes[id] = key
	}
}

func (c *CentroidIndex) staleLocked() int {
	return c.graph.Len() - len(c.nodes)
}

func (c *CentroidIndex) compactLocked() {
	if c.staleLocked() > len(c.nodes) {
		c.rebuildLocked()
	}
}

// Upsert inserts or replaces the centroid of an identity.
func (c *CentroidIndex) Upsert(identityID string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph.Len() > 0 && c.graph.Dims() != len(vector) {
		return
	}
	c.gen++
	key := nodeKey(identityID, c.gen)
	c.graph.Add(hnsw.MakeNode(key, vector))
	c.nodes[identityID] = key
	c.vectors[identityID] = vector
	c.compactLocked()
}

// Delete removes an identity from the index.
func (c *CentroidIndex) Delete(identityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.vectors[identityID]; !ok {
		return
	}
	delete(c.vectors, identityID)
	delete(c.nodes, identityID)
	c.compactLocked()
}

// Len returns the number of indexed identities.
func (c *CentroidIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Search returns up to k identities nearest to query, ascending by distance.
func (c *CentroidIndex) Search(query []float32, k int) []IdentityDistance {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if k <= 0 || len(c.vectors) == 0 || c.graph.Dims() != len(query) {
		return nil
	}

	current := make(map[string]string, len(c.nodes))
	for id, key := range c.nodes {
		current[key] = id
	}

	neighbors := c.graph.Search(query, k*HNSWSearchMultiplier+c.staleLocked())
	results := make([]IdentityDistance, 0, k)
	for _, n := range neighbors {
		id, ok := current[n.Key]
		if !ok {
			continue
		}
		// Recompute against the live vector so stale nodes never leak a distance.
		results = append(results, IdentityDistance{IdentityID: id, Distance: CosineDistance(query, c.vectors[id])})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].IdentityID < results[j].IdentityID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Save persists the graph to path along with a .meta sidecar.
func (c *CentroidIndex) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.vectors) == 0 {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create centroid index file: %w", err)
	}
	defer f.Close()

	if err := c.graph.Export(f); err != nil {
		return fmt.Errorf("exporting centroid graph: %w", err)
	}

	meta, err := json.Marshal(CentroidIndexMetadata{
		Adapter:       c.adapter,
		IdentityCount: len(c.vectors),
		BuildTime:     time.Now(),
		Version:       centroidIndexVersion,
		Nodes:         c.nodes,
		Generation:    c.gen,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", meta, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadCentroidIndexMetadata reads the .meta sidecar written by Save.
func LoadCentroidIndexMetadata(path string) (CentroidIndexMetadata, error) {
	var meta CentroidIndexMetadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// Load restores a graph saved by Save. The centroids are still required to
// rebuild the live vector map; when the persisted graph does not match them
// (different adapter, version, identity count or node keys) the index is rebuilt from
// the centroids instead. It reports whether the persisted graph was used.
func (c *CentroidIndex) Load(path string, centroids []IdentityCentroid) (bool, error) {
	meta, err := LoadCentroidIndexMetadata(path)
	if err != nil || meta.Version != centroidIndexVersion || meta.Adapter != c.adapter {
		c.Build(centroids)
		return false, nil
	}

	live := make(map[string][]float32, len(centroids))
	for i := range centroids {
		if centroids[i].Adapter == c.adapter && len(centroids[i].Vector) > 0 {
			live[centroids[i].IdentityID] = centroids[i].Vector
		}
	}
	if meta.IdentityCount != len(live) {
		c.Build(centroids)
		return false, nil
	}

	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Build(centroids)
			return false, nil
		}
		return false, fmt.Errorf("failed to open centroid index: %w", err)
	}
	defer f.Close()

	g := newCentroidGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return false, fmt.Errorf("failed to load centroid index: %w", err)
	}

	nodes := make(map[string]string, len(live))
	for id := range live {
		key, ok := meta.Nodes[id]
		if !ok {
			c.Build(centroids)
			return false, nil
		}
		if _, ok := g.Lookup(key); !ok {
			c.Build(centroids)
			return false, nil
		}
		nodes[id] = key
	}

	c.mu.Lock()
	c.graph = g
	c.vectors = live
	c.nodes = nodes
	c.gen = meta.Generation
	c.compactLocked()
	c.mu.Unlock()
	return true, nil
}
