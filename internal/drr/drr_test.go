package drr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

type noopEmbedder struct{}

func (noopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *hybridindex.Index, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	idx := hybridindex.New(st, noopEmbedder{})
	return New(idx, st, cfg), idx, st
}

// seedTree builds a depth-2 tree under axiom://resources/oauth with two
// leaf children, matching S5's "tree of depth 2" shape.
func seedTree(t *testing.T, idx *hybridindex.Index, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	docs := []types.IndexRecord{
		{URI: "axiom://resources/oauth", IsLeaf: false, Depth: 0, Name: "oauth"},
		{URI: "axiom://resources/oauth/flow.md", ParentURI: "axiom://resources/oauth", IsLeaf: true, Depth: 1, Content: "oauth authorization flow", Name: "flow.md"},
		{URI: "axiom://resources/oauth/tokens.md", ParentURI: "axiom://resources/oauth", IsLeaf: true, Depth: 1, Content: "oauth refresh tokens", Name: "tokens.md"},
	}
	for _, d := range docs {
		d.UpdatedAt = time.Now()
		require.NoError(t, st.UpsertSearchDocument(ctx, d))
		idx.Upsert(d)
	}
}

func TestFindRespectsMaxNodesBudget(t *testing.T) {
	cfg := DefaultConfig()
	engine, idx, st := newTestEngine(t, cfg)
	seedTree(t, idx, st)

	one := 1
	result, err := engine.Find(context.Background(), Request{
		Query:       "oauth",
		RequestType: "search",
		MaxNodes:    &one,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Trace)
	assert.Contains(t, result.Trace.StopReason, "budget_nodes")
	assert.LessOrEqual(t, result.Trace.Metrics.ExploredNodes, 1)
}

func TestFindRespectsMaxDepthInvariant(t *testing.T) {
	cfg := DefaultConfig()
	engine, idx, st := newTestEngine(t, cfg)
	seedTree(t, idx, st)

	depth := 1
	result, err := engine.Find(context.Background(), Request{
		Query:       "oauth",
		RequestType: "search",
		MaxDepth:    &depth,
		Limit:       10,
	})
	require.NoError(t, err)
	for _, hit := range append(append(result.Memories, result.Resources...), result.Skills...) {
		assert.LessOrEqual(t, hit.Depth, depth)
	}
}

func TestPlanIntentsDedupesAndCaps(t *testing.T) {
	planned := PlanIntents(PlanRequest{
		Query:        "check skill memory preference",
		RequestType:  "search",
		SessionHints: []string{"hint-a", "hint-b", "hint-c"},
	})
	assert.LessOrEqual(t, len(planned), 5)
	seen := make(map[string]bool)
	for _, p := range planned {
		key := p.Text + "|" + scopeSetKey(p.Scopes)
		assert.False(t, seen[key], "duplicate planned query %q", key)
		seen[key] = true
	}
}

func TestPlanIntentsPrimaryAlwaysFirst(t *testing.T) {
	planned := PlanIntents(PlanRequest{Query: "plain lookup"})
	require.NotEmpty(t, planned)
	assert.Equal(t, "primary", planned[0].Kind)
}
