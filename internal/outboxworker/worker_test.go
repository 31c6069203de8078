package outboxworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

func newTestDeps(t *testing.T) (*store.Store, *om.Observer, *om.Reflector) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	observer := om.NewObserver(st, om.ObserverDeterministic, "", "", false, 50)
	reflector := om.NewReflector(st, om.ReflectorDeterministic, "", "", false)
	return st, observer, reflector
}

func TestRunOnceDispatchesObserveEventAndMarksDone(t *testing.T) {
	st, observer, reflector := newTestDeps(t)
	ctx := context.Background()

	record, err := st.GetOrCreateOmRecord(ctx, types.ScopeSession, "session:s1", "s1", "", "")
	require.NoError(t, err)

	require.NoError(t, st.AppendMessage(ctx, types.Message{
		ID: "m1", SessionID: "s1", Role: "user", Text: "hello there", TokenCount: 5, CreatedAt: time.Now(),
	}))

	payload, err := json.Marshal(observePayload{ScopeKey: record.ScopeKey, ExpectedGeneration: record.GenerationCount})
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, types.EventObserveBufferRequested, "", string(payload))
	require.NoError(t, err)

	w := New(st, observer, reflector, logging.New("test"), time.Minute, 10, func() int { return 2000 })
	w.RunOnce(ctx)

	rows, err := st.FetchOutbox(ctx, types.OutboxNew, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunOnceMarksUnknownEventTypeDone(t *testing.T) {
	st, observer, reflector := newTestDeps(t)
	ctx := context.Background()

	_, err := st.Enqueue(ctx, "unknown_event", "", "{}")
	require.NoError(t, err)

	w := New(st, observer, reflector, logging.New("test"), time.Minute, 10, func() int { return 2000 })
	w.RunOnce(ctx)

	rows, err := st.FetchOutbox(ctx, types.OutboxNew, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRunOnceDeadLettersFatalStoreError(t *testing.T) {
	st, observer, reflector := newTestDeps(t)
	ctx := context.Background()

	_, err := st.Enqueue(ctx, types.EventReflectRequested, "", `{"scope_key":"session:missing"}`)
	require.NoError(t, err)

	w := New(st, observer, reflector, logging.New("test"), time.Minute, 10, func() int { return 2000 })
	// GetOmRecordByScopeKey fails with ErrNotFound (not an InferenceError),
	// so handleFailure classifies it Fatal and dead-letters immediately.
	w.RunOnce(ctx)

	rows, err := st.FetchOutbox(ctx, types.OutboxNew, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	assert.Equal(t, backoffBase, backoffDelay(0))
	assert.Equal(t, 2*backoffBase, backoffDelay(1))
	assert.Equal(t, 4*backoffBase, backoffDelay(2))
	assert.Equal(t, backoffCap, backoffDelay(30))
}
