package hybridindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

type noopEmbedder struct{}

func (noopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }

func newTestIndex(t *testing.T) (*Index, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, noopEmbedder{}), st
}

func TestUpsertAndChildrenOf(t *testing.T) {
	idx, _ := newTestIndex(t)
	idx.Upsert(types.IndexRecord{URI: "axiom://resources/dir", IsLeaf: false})
	idx.Upsert(types.IndexRecord{URI: "axiom://resources/dir/a.md", ParentURI: "axiom://resources/dir", IsLeaf: true})

	children := idx.ChildrenOf("axiom://resources/dir")
	require.Len(t, children, 1)
	assert.Equal(t, "axiom://resources/dir/a.md", children[0].URI)
}

func TestRemovePrefixRemovesDescendants(t *testing.T) {
	idx, _ := newTestIndex(t)
	idx.Upsert(types.IndexRecord{URI: "axiom://resources/dir", IsLeaf: false})
	idx.Upsert(types.IndexRecord{URI: "axiom://resources/dir/a.md", ParentURI: "axiom://resources/dir", IsLeaf: true})

	idx.RemovePrefix("axiom://resources/dir")

	_, ok := idx.Get("axiom://resources/dir/a.md")
	assert.False(t, ok)
	assert.Empty(t, idx.ChildrenOf("axiom://resources/dir"))
}

func TestSearchAppliesFilter(t *testing.T) {
	idx, st := newTestIndex(t)
	ctx := context.Background()

	rec1 := types.IndexRecord{URI: "axiom://resources/a.md", IsLeaf: true, Name: "a.md", Content: "oauth flow", Tags: []string{"auth"}, UpdatedAt: time.Now()}
	rec2 := types.IndexRecord{URI: "axiom://resources/b.json", IsLeaf: true, Name: "b.json", Content: "flow of cache writes", UpdatedAt: time.Now()}
	require.NoError(t, st.UpsertSearchDocument(ctx, rec1))
	require.NoError(t, st.UpsertSearchDocument(ctx, rec2))
	idx.Upsert(rec1)
	idx.Upsert(rec2)

	hits, err := idx.Search(ctx, "flow", types.Filter{Tags: []string{"auth"}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "axiom://resources/a.md", hits[0].URI)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
}
