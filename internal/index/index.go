// Package index provides an in-memory HNSW index over face embeddings,
// used to accelerate similar-face lookups on larger libraries. The index is
// a cache: the store stays authoritative and the graph is rebuilt from it.
package index

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Adioame/PhotoMind-sub002/internal/constants"
)

// Entry is a face id with its embedding.
type Entry struct {
	ID        int64
	Embedding []float32
}

// Neighbor is a search result: a face id with its cosine similarity to the
// query.
type Neighbor struct {
	ID         int64
	Similarity float64
}

// Index wraps an HNSW graph keyed by face id.
type Index struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	live  map[int64]bool // ids currently valid; HNSW has no true deletion
	path  string
}

// New creates an empty index. If path is non-empty, Save persists the graph
// there.
func New(path string) *Index {
	return &Index{live: make(map[int64]bool), path: path}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors) // standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the graph contents with the given entries.
func (x *Index) Build(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if len(entries) == 0 {
		x.graph = nil
		x.live = make(map[int64]bool)
		return
	}

	g := newGraph()
	x.live = make(map[int64]bool, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(e.ID, e.Embedding))
		x.live[e.ID] = true
	}
	x.graph = g
}

// Add inserts a single face into the index.
func (x *Index) Add(e Entry) {
	if len(e.Embedding) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.graph.Add(hnsw.MakeNode(e.ID, e.Embedding))
	x.live[e.ID] = true
}

// Delete removes a face from search results. The HNSW graph keeps the node
// until the next Build; filtering by the live set hides it.
func (x *Index) Delete(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.live, id)
}

// Search returns up to k live neighbors of the query, most similar first.
func (x *Index) Search(query []float32, k int) ([]Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, errors.New("index not initialized")
	}

	// Overfetch to compensate for nodes hidden by deletion.
	nodes := x.graph.Search(query, k+len(x.liveComplement()))
	neighbors := make([]Neighbor, 0, k)
	for _, n := range nodes {
		if !x.live[n.Key] {
			continue
		}
		// CosineDistance = 1 - similarity.
		neighbors = append(neighbors, Neighbor{
			ID:         n.Key,
			Similarity: 1 - float64(hnsw.CosineDistance(query, n.Value)),
		})
		if len(neighbors) == k {
			break
		}
	}
	return neighbors, nil
}

// liveComplement returns ids present in the graph but deleted. Callers must
// hold the lock.
func (x *Index) liveComplement() []int64 {
	if x.graph == nil {
		return nil
	}
	var dead []int64
	if x.graph.Len() > len(x.live) {
		// Exact ids are not needed, only the count for overfetching.
		dead = make([]int64, x.graph.Len()-len(x.live))
	}
	return dead
}

// Count returns the number of live faces in the index.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.live)
}

// Ready reports whether the index has been built.
func (x *Index) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.graph != nil
}

// Save persists the graph to the configured path, if any.
func (x *Index) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.path == "" {
		return nil
	}
	if x.graph == nil {
		// Best-effort cleanup of a stale file for an empty index.
		_ = os.Remove(x.path)
		return nil
	}

	f, err := os.Create(x.path)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close()

	if err := x.graph.Export(f); err != nil {
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	return nil
}
