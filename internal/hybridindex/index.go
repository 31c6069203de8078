// Package hybridindex is the in-memory counterpart to the durable search
// store: a uri-keyed record map, parent/child adjacency, and per-record
// embedding vectors, searched by a weighted combination of BM25-normalised
// text relevance and cosine similarity.
package hybridindex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

const (
	weightBM25   = 0.6
	weightVector = 0.4
	scoreCacheSize = 512
)

// Index is the in-memory hybrid index. Text relevance is delegated to the
// durable FTS store (search_docs_fts); this type owns the embedding
// vectors and the parent/child adjacency used for directory traversal.
type Index struct {
	mu       sync.RWMutex
	records  map[string]*types.IndexRecord
	children map[string][]string

	store      *store.Store
	embedder   Embedder
	scoreCache *lru.Cache[string, float64]
}

// Embedder is the subset of the embedder contract the index needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds an index backed by st for FTS lookups and emb for query
// vectorisation.
func New(st *store.Store, emb Embedder) *Index {
	cache, _ := lru.New[string, float64](scoreCacheSize)
	return &Index{
		records:    make(map[string]*types.IndexRecord),
		children:   make(map[string][]string),
		store:      st,
		embedder:   emb,
		scoreCache: cache,
	}
}

// Upsert inserts or replaces r in the in-memory index and its adjacency.
func (idx *Index) Upsert(r types.IndexRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.records[r.URI]; ok && existing.ParentURI != r.ParentURI {
		idx.detachChild(existing.ParentURI, r.URI)
	}
	cp := r
	idx.records[r.URI] = &cp
	if r.ParentURI != "" {
		idx.attachChild(r.ParentURI, r.URI)
	}
}

func (idx *Index) attachChild(parent, child string) {
	for _, c := range idx.children[parent] {
		if c == child {
			return
		}
	}
	idx.children[parent] = append(idx.children[parent], child)
}

func (idx *Index) detachChild(parent, child string) {
	kids := idx.children[parent]
	for i, c := range kids {
		if c == child {
			idx.children[parent] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

// RemovePrefix deletes uri and every descendant from the in-memory index.
func (idx *Index) RemovePrefix(uri string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	toRemove := []string{}
	for u := range idx.records {
		if u == uri || strings.HasPrefix(u, uri+"/") {
			toRemove = append(toRemove, u)
		}
	}
	for _, u := range toRemove {
		if rec, ok := idx.records[u]; ok {
			idx.detachChild(rec.ParentURI, u)
		}
		delete(idx.records, u)
		delete(idx.children, u)
	}
}

// ChildrenOf returns the direct children of uri.
func (idx *Index) ChildrenOf(uri string) []*types.IndexRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]*types.IndexRecord, 0, len(idx.children[uri]))
	for _, u := range idx.children[uri] {
		if r, ok := idx.records[u]; ok {
			out = append(out, r)
		}
	}
	return out
}

// ScopeRoots returns every depth-0 record whose scope is in scopes.
func (idx *Index) ScopeRoots(scopes []types.Scope) []*types.IndexRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	set := make(map[types.Scope]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	var out []*types.IndexRecord
	for _, r := range idx.records {
		if r.Depth == 0 && scopeOf(r.URI, set) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func scopeOf(uri string, set map[types.Scope]bool) bool {
	for s := range set {
		if strings.HasPrefix(uri, "axiom://"+string(s)) {
			return true
		}
	}
	return false
}

// RecordMatchesFilter reports whether r satisfies filter's tag-subset AND
// mime-equality AND target-prefix AND depth-cap constraints.
func RecordMatchesFilter(r *types.IndexRecord, filter types.Filter) bool {
	if filter.MaxDepth > 0 && r.Depth > filter.MaxDepth {
		return false
	}
	if filter.Mime != "" && r.MimeType != filter.Mime {
		return false
	}
	if filter.TargetURI != "" && r.URI != filter.TargetURI && !strings.HasPrefix(r.URI, filter.TargetURI+"/") {
		return false
	}
	for _, tag := range filter.Tags {
		found := false
		for _, t := range r.Tags {
			if t == tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search runs a hybrid BM25+vector query bounded by limit, honoring
// filter and an optional similarity threshold.
func (idx *Index) Search(ctx context.Context, query string, filter types.Filter, limit int, threshold float64) ([]types.ScoredHit, error) {
	textHits, err := idx.store.SearchDocumentsFTS(ctx, query, filter, limit*4)
	if err != nil {
		return nil, err
	}
	textScore := make(map[string]float64, len(textHits))
	for _, h := range textHits {
		textScore[h.URI] = h.Score
	}

	var queryVec []float32
	if idx.embedder != nil {
		queryVec, _ = idx.embedder.Embed(ctx, query)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var scored []types.ScoredHit
	seen := make(map[string]bool)
	consider := func(uri string, r *types.IndexRecord) {
		if seen[uri] || !RecordMatchesFilter(r, filter) {
			return
		}
		seen[uri] = true
		cacheKey := query + "\x00" + uri
		score, cached := idx.scoreCache.Get(cacheKey)
		if !cached {
			bm25 := textScore[uri]
			vec := 0.0
			if queryVec != nil && len(r.Embedding) > 0 {
				vec = CosineSimilarity(queryVec, r.Embedding)
			}
			score = weightBM25*bm25 + weightVector*vec
			idx.scoreCache.Add(cacheKey, score)
		}
		if score < threshold {
			return
		}
		scored = append(scored, types.ScoredHit{URI: uri, Score: score, Depth: r.Depth})
	}
	for uri := range textScore {
		if r, ok := idx.records[uri]; ok {
			consider(uri, r)
		}
	}
	for uri, r := range idx.records {
		consider(uri, r)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SearchDirectories runs the same hybrid scoring restricted to non-leaf
// records, used by DRR's directory-hit seeding.
func (idx *Index) SearchDirectories(ctx context.Context, query string, filter types.Filter, topK int) ([]types.ScoredHit, error) {
	hits, err := idx.Search(ctx, query, filter, topK*4, 0)
	if err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var dirs []types.ScoredHit
	for _, h := range hits {
		if r, ok := idx.records[h.URI]; ok && !r.IsLeaf {
			dirs = append(dirs, h)
		}
	}
	if len(dirs) > topK {
		dirs = dirs[:topK]
	}
	return dirs, nil
}

// Get returns the record for uri, if present.
func (idx *Index) Get(uri string) (*types.IndexRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.records[uri]
	return r, ok
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors; mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
