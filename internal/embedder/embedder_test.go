package embedder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder()
	v1, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, Dim)
}

func TestSemanticLiteSynonymSimilarity(t *testing.T) {
	e := NewSemanticLiteEmbedder()
	a, err := e.Embed(context.Background(), "oauth login flow")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "authentication signin flow")
	require.NoError(t, err)

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	assert.Greater(t, dot, 0.5)
}

func TestConfigureRuntimeOnceThenDisagree(t *testing.T) {
	t.Cleanup(func() { installed = nil })
	require.NoError(t, ConfigureRuntime(Runtime{Variant: "hash"}))
	require.NoError(t, ConfigureRuntime(Runtime{Variant: "hash"}))
	err := ConfigureRuntime(Runtime{Variant: "semantic-lite"})
	assert.Error(t, err)
}

func TestValidateLoopbackRejectsRemote(t *testing.T) {
	assert.NoError(t, ValidateLoopback("http://127.0.0.1:8080/embed"))
	assert.NoError(t, ValidateLoopback("http://localhost:8080/embed"))
	assert.Error(t, ValidateLoopback("http://example.com/embed"))
}

func TestSemanticModelHTTPFallsBackOnBadSchema(t *testing.T) {
	ResetFallbackReason()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"nonsense": true}`))
	}))
	defer srv.Close()

	e := NewSemanticModelHTTPEmbedder(srv.URL, "test-model", true)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, Dim)
	assert.NotEmpty(t, FirstFallbackReason())
}

func TestSemanticModelHTTPParsesEmbeddingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	e := NewSemanticModelHTTPEmbedder(srv.URL, "test-model", false)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, Dim)
}
