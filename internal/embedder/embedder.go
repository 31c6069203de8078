// Package embedder implements the text-to-vector contract (4.D): three
// interchangeable variants (hash, semantic-lite, semantic-model-http) all
// producing a fixed 64-dimension L2-normalised vector, plus the one-shot
// configure_runtime install and the process-local strict-mode fallback
// slot the release gate reads.
package embedder

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Dim is the fixed output vector dimension required by 4.D.
const Dim = 64

// Profile describes an embedder instance's identity.
type Profile struct {
	Provider      string
	VectorVersion string
	Dim           int
}

// Embedder is the text -> vector contract.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Profile() Profile
}

// Runtime is the configuration installed once via configure_runtime.
type Runtime struct {
	Variant  string // "hash" | "semantic-lite" | "semantic-model-http"
	Endpoint string // loopback URL, semantic-model-http only
	Model    string
	Strict   bool
}

func (r Runtime) equal(other Runtime) bool {
	return r == other
}

var (
	runtimeMu      sync.Mutex
	installed      *Runtime
	fallbackMu     sync.Mutex
	fallbackReason string
)

// ConfigureRuntime installs rt as the process-wide embedder runtime
// config. A second call that disagrees with the first fails; an identical
// second call is a no-op success, matching 4.D's one-shot-init contract.
func ConfigureRuntime(rt Runtime) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if installed != nil && !installed.equal(rt) {
		return fmt.Errorf("VALIDATION_FAILED: embedder runtime already configured as %+v, refusing %+v", *installed, rt)
	}
	cp := rt
	installed = &cp
	return nil
}

// CurrentRuntime returns the installed runtime, or the zero value if none
// has been configured yet (callers should treat that as "hash").
func CurrentRuntime() Runtime {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	if installed == nil {
		return Runtime{Variant: "hash"}
	}
	return *installed
}

// recordFallback stores the first semantic-model-http fallback reason in
// the process-local slot the release gate reads. Only the first call
// takes effect.
func recordFallback(reason string) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	if fallbackReason == "" {
		fallbackReason = reason
	}
}

// FirstFallbackReason returns the first recorded semantic-model-http
// fallback reason, or "" if none occurred.
func FirstFallbackReason() string {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	return fallbackReason
}

// ResetFallbackReason clears the slot; intended for tests.
func ResetFallbackReason() {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	fallbackReason = ""
}

// New builds the Embedder named by the installed runtime's Variant.
func New(rt Runtime) (Embedder, error) {
	switch rt.Variant {
	case "", "hash":
		return NewHashEmbedder(), nil
	case "semantic-lite":
		return NewSemanticLiteEmbedder(), nil
	case "semantic-model-http":
		return NewSemanticModelHTTPEmbedder(rt.Endpoint, rt.Model, rt.Strict), nil
	default:
		return nil, fmt.Errorf("VALIDATION_FAILED: unknown embedder variant %q", rt.Variant)
	}
}

// l2Normalize mutates v in place to unit length; the zero vector is left
// untouched.
func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
