package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

func TestSessionAppendPersistsMessageAndAdvancesTokens(t *testing.T) {
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pipeline := om.NewPipeline(st, om.ObservationConfig{MaxTokensPerBatch: 100000}, om.ReflectionConfig{ObservationTokens: 100000})
	sess := New(st, pipeline, types.ScopeSession, "s1", "", "")

	_, err = sess.Append(context.Background(), "user", "hello world", false)
	require.NoError(t, err)

	texts, ids, err := sess.RecentMessageTexts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, texts, 1)
	assert.Equal(t, "hello world", texts[0])
	assert.NotEmpty(t, ids[0])
}

func TestSessionOmHintEmptyForFreshRecord(t *testing.T) {
	st, err := store.Open(t.TempDir(), logging.New("test"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pipeline := om.NewPipeline(st, om.ObservationConfig{MaxTokensPerBatch: 100000}, om.ReflectionConfig{ObservationTokens: 100000})
	sess := New(st, pipeline, types.ScopeSession, "s1", "", "")

	hint, _, err := sess.OmHint(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hint)
}
