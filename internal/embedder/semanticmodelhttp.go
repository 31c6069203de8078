package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
)

// SemanticModelHTTPEmbedder POSTs to a loopback-only embedding endpoint
// and projects its (possibly arbitrary-dimension) response into the fixed
// Dim, falling back to semantic-lite on any request/status/json failure.
type SemanticModelHTTPEmbedder struct {
	endpoint string
	model    string
	strict   bool
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	fallback *SemanticLiteEmbedder
}

// NewSemanticModelHTTPEmbedder wraps the HTTP call in a circuit breaker.
// The endpoint is checked for loopback on every Embed call, which rejects
// a non-loopback endpoint with a VALIDATION_FAILED error.
func NewSemanticModelHTTPEmbedder(endpoint, model string, strict bool) *SemanticModelHTTPEmbedder {
	e := &SemanticModelHTTPEmbedder{
		endpoint: endpoint,
		model:    model,
		strict:   strict,
		client:   &http.Client{Timeout: 3 * time.Second},
		fallback: NewSemanticLiteEmbedder(),
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedder-http",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return e
}

// ValidateLoopback rejects any endpoint not resolving to 127.0.0.1 or
// localhost, per 6's loopback-only contract.
func ValidateLoopback(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("VALIDATION_FAILED: parse embedder endpoint: %w", err)
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("VALIDATION_FAILED: embedder endpoint %q is not loopback-only", endpoint)
}

func (e *SemanticModelHTTPEmbedder) Profile() Profile {
	return Profile{Provider: "semantic-model-http:" + e.model, VectorVersion: "v1", Dim: Dim}
}

func (e *SemanticModelHTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ValidateLoopback(e.endpoint); err != nil {
		return nil, err
	}

	result, err := e.breaker.Execute(func() (any, error) {
		return e.post(ctx, text)
	})
	if err != nil {
		return e.fallBack(ctx, text, err.Error())
	}
	raw := result.([]float64)
	return projectToFixedDim(raw), nil
}

func (e *SemanticModelHTTPEmbedder) post(ctx context.Context, text string) ([]float64, error) {
	body, _ := json.Marshal(map[string]any{
		"model":  e.model,
		"input":  text,
		"prompt": text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transient: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("transient: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schema: status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("transient: read body: %w", err)
	}

	parsed := gjson.ParseBytes(buf.Bytes())
	var values []gjson.Result
	if arr := parsed.Get("embedding"); arr.IsArray() {
		values = arr.Array()
	} else if arr := parsed.Get("data.0.embedding"); arr.IsArray() {
		values = arr.Array()
	} else {
		return nil, fmt.Errorf("schema: no embedding field in response")
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v.Float()
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schema: empty embedding array")
	}
	return out, nil
}

func (e *SemanticModelHTTPEmbedder) fallBack(ctx context.Context, text, reason string) ([]float32, error) {
	if e.strict {
		recordFallback(reason)
	}
	return e.fallback.Embed(ctx, text)
}

// projectToFixedDim buckets an arbitrary-dimension vector into Dim
// buckets by signed accumulation, then L2-normalises.
func projectToFixedDim(raw []float64) []float32 {
	vec := make([]float32, Dim)
	step := len(raw)
	if step == 0 {
		return vec
	}
	for i, v := range raw {
		bucket := i % Dim
		vec[bucket] += float32(v)
	}
	l2Normalize(vec)
	return vec
}
