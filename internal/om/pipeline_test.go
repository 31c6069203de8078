package om

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestProcessMessageEnqueuesObserverWhenThresholdCrossed(t *testing.T) {
	st := newTestStore(t)
	obsCfg := ObservationConfig{MaxTokensPerBatch: 100, BufferActivation: 0.8}
	reflCfg := ReflectionConfig{ObservationTokens: 10000, BufferActivation: 0.8}
	p := NewPipeline(st, obsCfg, reflCfg)

	ctx := context.Background()
	msg := types.Message{ID: uuid.NewString(), SessionID: "s1", Role: "user", Text: longText(500), TokenCount: 200, CreatedAt: time.Now()}

	plan, err := p.ProcessMessage(ctx, types.ScopeSession, "session:s1", "s1", "", "", msg, ProcessMessageOptions{})
	require.NoError(t, err)
	assert.True(t, plan.ShouldRunObserver)

	rows, err := st.FetchOutbox(ctx, types.OutboxNew, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.EventObserveBufferRequested, rows[0].EventType)
}

func TestProcessMessageReadOnlySkipsWritesAndReflection(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(st, ObservationConfig{MaxTokensPerBatch: 100}, ReflectionConfig{ObservationTokens: 10})

	ctx := context.Background()
	msg := types.Message{ID: uuid.NewString(), SessionID: "s1", Role: "user", Text: "hi", TokenCount: 5, CreatedAt: time.Now()}

	plan, err := p.ProcessMessage(ctx, types.ScopeSession, "session:s1", "s1", "", "", msg, ProcessMessageOptions{ReadOnly: true})
	require.NoError(t, err)
	assert.Nil(t, plan.ReflectionDecision)

	msgs, err := st.RecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func longText(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
