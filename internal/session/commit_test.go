package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/scopedfs"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

type constEmbedder struct{ vec []float32 }

func (c constEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return c.vec, nil }

func newTestCommitter(t *testing.T, vec []float32) (*Committer, *hybridindex.Index) {
	t.Helper()
	fs, err := scopedfs.New(t.TempDir())
	require.NoError(t, err)
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	idx := hybridindex.New(st, constEmbedder{vec: vec})
	return NewCommitter(fs, idx, constEmbedder{vec: vec}, 0.92), idx
}

func TestExtractCandidatesClassifiesByKeyword(t *testing.T) {
	messages := []types.Message{
		{Role: "user", Text: "My name is Alex. I prefer dark mode."},
		{Role: "assistant", Text: "Got it."},
	}
	cands := ExtractCandidates(messages)
	require.Len(t, cands, 2)
	assert.Equal(t, CategoryProfile, cands[0].Category)
	assert.Equal(t, CategoryPreferences, cands[1].Category)
}

func TestMemoryKeyIsDeterministic(t *testing.T) {
	k1 := MemoryKey(CategoryPreferences, "I prefer dark mode")
	k2 := MemoryKey(CategoryPreferences, "  I PREFER   dark mode ")
	assert.Equal(t, k1, k2)
}

func TestCommitWritesAndDedupesNearDuplicates(t *testing.T) {
	c, idx := newTestCommitter(t, []float32{1, 0, 0})
	ctx := context.Background()

	messages := []types.Message{{Role: "user", Text: "I prefer dark mode.", CreatedAt: time.Now()}}
	written, err := c.Commit(ctx, messages)
	require.NoError(t, err)
	require.Len(t, written, 1)

	// Second commit with an identical embedding is a near-duplicate and
	// should be skipped.
	written2, err := c.Commit(ctx, messages)
	require.NoError(t, err)
	assert.Empty(t, written2)

	children := idx.ChildrenOf(memoryDirURI(CategoryPreferences).String())
	assert.Len(t, children, 1)
}
