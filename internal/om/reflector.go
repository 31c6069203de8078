package om

import (
	"context"
	"fmt"
	"strings"

	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

// ReflectorMode selects how the Reflector compresses active observations.
type ReflectorMode string

const (
	ReflectorAuto          ReflectorMode = "auto"
	ReflectorDeterministic ReflectorMode = "deterministic"
	ReflectorLLM           ReflectorMode = "llm"
)

const (
	initialMaxChars       = 2000
	maxCompressionRetries = 2
)

// Reflector compresses a record's active_observations into a denser
// reflection, either buffering it or applying it immediately under CAS.
type Reflector struct {
	st     *store.Store
	mode   ReflectorMode
	strict bool
	llm    *loopbackClient
}

// NewReflector builds a Reflector. endpoint == "" forces deterministic mode.
func NewReflector(st *store.Store, mode ReflectorMode, endpoint, model string, strict bool) *Reflector {
	r := &Reflector{st: st, mode: mode, strict: strict}
	if endpoint != "" {
		r.llm = newLoopbackClient(endpoint, model)
	}
	return r
}

// Buffer handles an om_reflect_buffer_requested event: compress and stage
// the result via buffer_om_reflection_with_cas.
func (r *Reflector) Buffer(ctx context.Context, record *types.OmRecord, targetTokens int) (bool, error) {
	text, err := r.compress(ctx, record.ActiveObservations, targetTokens)
	if err != nil {
		return false, err
	}
	tokens := types.EstimateTextTokens(text)
	inputTokens := types.EstimateTextTokens(record.ActiveObservations)
	return r.st.BufferOmReflectionWithCAS(ctx, record.ScopeKey, record.GenerationCount, text, tokens, inputTokens)
}

// Apply handles an om_reflect_requested event: honor an already-buffered
// reflection if present, else compress fresh, then apply under CAS.
func (r *Reflector) Apply(ctx context.Context, record *types.OmRecord, outboxEventID int64, targetTokens int) (store.ApplyOutcome, error) {
	text := record.BufferedReflection
	if text == "" {
		compressed, err := r.compress(ctx, record.ActiveObservations, targetTokens)
		if err != nil {
			return store.StaleGeneration, err
		}
		text = compressed
	}
	lineCount := len(strings.Split(text, "\n"))
	return r.st.ApplyOmReflectionWithCAS(ctx, record.ScopeKey, record.GenerationCount, outboxEventID, text, lineCount)
}

// compress produces a reflection whose estimated token count satisfies
// targetTokens, retrying at higher compression up to maxCompressionRetries.
func (r *Reflector) compress(ctx context.Context, active string, targetTokens int) (string, error) {
	mode := r.mode
	if mode == ReflectorAuto {
		if r.llm != nil {
			mode = ReflectorLLM
		} else {
			mode = ReflectorDeterministic
		}
	}

	maxChars := initialMaxChars
	for attempt := 0; attempt <= maxCompressionRetries; attempt++ {
		var text string
		if mode == ReflectorLLM && r.llm != nil {
			out, err := r.llm.infer(ctx, SourceReflector, reflectorSystemPrompt, active)
			if err == nil {
				text = strings.Join(out.Observations, "\n")
			} else {
				var infErr *InferenceError
				if isInferenceError(err, &infErr) && infErr.Kind == FailureFatal {
					return "", err
				}
				if r.strict {
					return "", err
				}
				text = deterministicCompress(active, maxChars)
			}
		} else {
			text = deterministicCompress(active, maxChars)
		}

		if types.EstimateTextTokens(text) <= targetTokens || attempt == maxCompressionRetries {
			return text, nil
		}
		maxChars = maxChars / 2
	}
	return "", fmt.Errorf("schema: could not reach target compression")
}

const reflectorSystemPrompt = "Compress these accumulated observations into a denser summary, preserving the current task and any pending decisions."

func deterministicCompress(active string, maxChars int) string {
	if len(active) <= maxChars {
		return active
	}
	return active[:maxChars]
}
