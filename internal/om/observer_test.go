package om

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/pkg/types"
)

func TestObserverDeterministicRunWritesChunk(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	record, err := st.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s1", "s1", "", "")
	require.NoError(t, err)

	obs := NewObserver(st, ObserverDeterministic, "", "", false, 50)
	messages := []types.Message{
		{ID: "m1", Role: "user", Text: "hello there", TokenCount: 3, CreatedAt: time.Now()},
		{ID: "m2", Role: "assistant", Text: "hi, how can I help", TokenCount: 4, CreatedAt: time.Now()},
	}

	ok, err := obs.Run(ctx, record, messages, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	chunks, err := st.GetBufferedChunks(ctx, "session:s1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Observations, "hello there")
}

func TestObserverRunIsReplaySafe(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	record, err := st.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s1", "s1", "", "")
	require.NoError(t, err)

	obs := NewObserver(st, ObserverDeterministic, "", "", false, 50)
	messages := []types.Message{{ID: "m1", Role: "user", Text: "hello there", TokenCount: 3, CreatedAt: time.Now()}}

	ok1, err := obs.Run(ctx, record, messages, 42)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, err := obs.Run(ctx, record, messages, 42)
	require.NoError(t, err)
	assert.False(t, ok2, "replaying the same outbox event id must be a no-op")
}
