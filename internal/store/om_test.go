package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/pkg/types"
)

func TestGetOrCreateOmRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:abc", "abc", "", "")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), r.GenerationCount)

	again, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:abc", "abc", "", "")
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
}

func TestApplyOmReflectionCASIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s1", "s1", "", "")
	require.NoError(t, err)

	outcome, err := s.ApplyOmReflectionWithCAS(ctx, "session:s1", 0, 42, "compact summary", 3)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	rec, err := s.GetOmRecordByScopeKey(ctx, "session:s1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.GenerationCount)
	assert.True(t, rec.HasLastAppliedOutboxEvent)
	assert.Equal(t, int64(42), rec.LastAppliedOutboxEventID)

	outcome, err = s.ApplyOmReflectionWithCAS(ctx, "session:s1", 0, 42, "compact summary", 3)
	require.NoError(t, err)
	assert.Equal(t, IdempotentEvent, outcome)

	unchanged, err := s.GetOmRecordByScopeKey(ctx, "session:s1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), unchanged.GenerationCount)
}

func TestApplyOmReflectionStaleGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s2", "s2", "", "")
	require.NoError(t, err)

	outcome, err := s.ApplyOmReflectionWithCAS(ctx, "session:s2", 5, 1, "x", 1)
	require.NoError(t, err)
	assert.Equal(t, StaleGeneration, outcome)
}

func TestAppendOmObservationChunkWithEventCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s3", "s3", "", "")
	require.NoError(t, err)

	chunk := types.OmObservationChunk{CycleID: "m1", Observations: "[user] hi", TokenCount: 2, MessageTokens: 2, MessageIDs: []string{"m1"}}
	ok, err := s.AppendOmObservationChunkWithEventCAS(ctx, "session:s3", 0, 100, chunk)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AppendOmObservationChunkWithEventCAS(ctx, "session:s3", 0, 100, chunk)
	require.NoError(t, err)
	assert.False(t, ok, "replayed event must not double-apply")

	chunks, err := s.GetBufferedChunks(ctx, "session:s3")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestBufferOmReflectionWithCASRefusesWhenAlreadyBuffered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s4", "s4", "", "")
	require.NoError(t, err)

	ok, err := s.BufferOmReflectionWithCAS(ctx, "session:s4", 0, "staged", 5, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.BufferOmReflectionWithCAS(ctx, "session:s4", 0, "staged again", 5, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.GetOmRecordByScopeKey(ctx, "session:s4")
	require.NoError(t, err)
	assert.False(t, rec.IsBufferingReflection)
}

func TestUnobservedMessagesForRecordFansOutAcrossThreadsForResourceScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, err := s.GetOrCreateOmRecord(ctx, types.ScopeResources, "resources:doc1", "", "", "doc1")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendMessage(ctx, types.Message{ID: "m1", SessionID: "sA", ThreadID: "t1", ResourceID: "doc1", Role: "user", Text: "hi", CreatedAt: base}))
	require.NoError(t, s.AppendMessage(ctx, types.Message{ID: "m2", SessionID: "sB", ThreadID: "t2", ResourceID: "doc1", Role: "user", Text: "yo", CreatedAt: base.Add(time.Minute)}))

	candidates, err := s.UnobservedMessagesForRecord(ctx, record, false)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "m1", candidates[0].ID)
	assert.Equal(t, "m2", candidates[1].ID)

	require.NoError(t, s.UpsertOmThreadState(ctx, types.OmThreadState{
		ScopeKey:       "resources:doc1",
		ThreadID:       "t1",
		LastObservedAt: base,
		UpdatedAt:      base,
	}))

	candidates, err = s.UnobservedMessagesForRecord(ctx, record, true)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "m2", candidates[0].ID)
}
