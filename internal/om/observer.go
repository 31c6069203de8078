package om

import (
	"context"
	"fmt"
	"strings"

	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

// ObserverMode selects how the Observer synthesises its output.
type ObserverMode string

const (
	ObserverAuto          ObserverMode = "auto"
	ObserverDeterministic ObserverMode = "deterministic"
	ObserverLLM           ObserverMode = "llm"
)

// Observer compresses candidate messages into an observation chunk and
// writes it under CAS.
type Observer struct {
	st          *store.Store
	mode        ObserverMode
	strict      bool
	llm         *loopbackClient
	maxMessages int
}

// NewObserver builds an Observer. endpoint == "" forces deterministic mode
// regardless of the configured mode.
func NewObserver(st *store.Store, mode ObserverMode, endpoint, model string, strict bool, maxMessages int) *Observer {
	o := &Observer{st: st, mode: mode, strict: strict, maxMessages: maxMessages}
	if endpoint != "" {
		o.llm = newLoopbackClient(endpoint, model)
	}
	if o.maxMessages <= 0 {
		o.maxMessages = 50
	}
	return o
}

// Run synthesises an observation from candidates, filters out exact
// duplicates already present in activeObservations, and writes the
// resulting chunk via the CAS-guarded store call.
func (o *Observer) Run(ctx context.Context, record *types.OmRecord, candidates []types.Message, outboxEventID int64) (bool, error) {
	if len(candidates) > o.maxMessages {
		candidates = candidates[:o.maxMessages]
	}

	lines, err := o.synthesize(ctx, record, candidates)
	if err != nil {
		return false, err
	}
	lines = dedupeAgainst(lines, record.ActiveObservations)
	if len(lines) == 0 {
		return true, nil
	}

	text := strings.Join(lines, "\n")
	messageIDs := make([]string, len(candidates))
	var messageTokens int
	for i, m := range candidates {
		messageIDs[i] = m.ID
		messageTokens += m.TokenCount
	}

	chunk := types.OmObservationChunk{
		Observations:   text,
		TokenCount:     types.EstimateTextTokens(text),
		MessageTokens:  messageTokens,
		MessageIDs:     messageIDs,
		LastObservedAt: candidates[len(candidates)-1].CreatedAt,
	}

	return o.st.AppendOmObservationChunkWithEventCAS(ctx, record.ScopeKey, record.GenerationCount, outboxEventID, chunk)
}

func (o *Observer) synthesize(ctx context.Context, record *types.OmRecord, candidates []types.Message) ([]string, error) {
	mode := o.mode
	if mode == ObserverAuto {
		if o.llm != nil {
			mode = ObserverLLM
		} else {
			mode = ObserverDeterministic
		}
	}

	if mode == ObserverLLM && o.llm != nil {
		out, err := o.llm.infer(ctx, SourceObserver, observerSystemPrompt, renderMessageHistory(candidates))
		if err == nil {
			return out.Observations, nil
		}
		var infErr *InferenceError
		if isInferenceError(err, &infErr) && infErr.Kind == FailureFatal {
			return nil, err
		}
		if o.strict {
			return nil, err
		}
		// fall through to deterministic on transient/schema failure when not strict
	}

	return deterministicObservations(candidates), nil
}

const observerSystemPrompt = "Compress the following conversation turns into compact observation lines, one fact per line."

func renderMessageHistory(messages []types.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, m.Text)
	}
	return sb.String()
}

func deterministicObservations(messages []types.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, fmt.Sprintf("[%s] %s", m.Role, m.Text))
	}
	return out
}

func dedupeAgainst(lines []string, existing string) []string {
	seen := make(map[string]bool)
	for _, l := range strings.Split(existing, "\n") {
		seen[strings.TrimSpace(l)] = true
	}
	var out []string
	for _, l := range lines {
		if seen[strings.TrimSpace(l)] {
			continue
		}
		seen[strings.TrimSpace(l)] = true
		out = append(out, l)
	}
	return out
}

func isInferenceError(err error, target **InferenceError) bool {
	if e, ok := err.(*InferenceError); ok {
		*target = e
		return true
	}
	return false
}
