package om

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

const payloadSchemaVersion = 1

// reflectionPayload is the outbox payload for both reflection event kinds.
type reflectionPayload struct {
	SchemaVersion      int    `json:"schema_version"`
	ScopeKey           string `json:"scope_key"`
	ExpectedGeneration uint32 `json:"expected_generation"`
	RequestedAt        string `json:"requested_at_rfc3339"`
}

type observePayload struct {
	SchemaVersion      int    `json:"schema_version"`
	ScopeKey           string `json:"scope_key"`
	ExpectedGeneration uint32 `json:"expected_generation"`
}

// Pipeline ties the pure decision functions to the state store: it
// appends messages, advances pending-token bookkeeping, performs local
// activation, and enqueues observer/reflector outbox events for the
// replay loop to execute.
type Pipeline struct {
	st      *store.Store
	obsCfg  ObservationConfig
	reflCfg ReflectionConfig
	sf      singleflight.Group
}

// NewPipeline builds a Pipeline bound to one resolved configuration.
func NewPipeline(st *store.Store, obsCfg ObservationConfig, reflCfg ReflectionConfig) *Pipeline {
	return &Pipeline{st: st, obsCfg: obsCfg, reflCfg: reflCfg}
}

// ProcessMessageOptions mirrors PlanProcessInputStepOptions minus
// HasBufferedObservationChunks, which ProcessMessage reads from the store.
type ProcessMessageOptions struct {
	ReadOnly      bool
	IsInitialStep bool
}

// ProcessMessage appends msg under scopeKey, advances the record's
// pending-token bookkeeping, runs the activation-before-observer step
// locally, and enqueues observer/reflection outbox events per the plan.
func (p *Pipeline) ProcessMessage(ctx context.Context, scope types.Scope, scopeKey, sessionID, threadID, resourceID string, msg types.Message, opts ProcessMessageOptions) (ProcessInputStepPlan, error) {
	v, err, _ := p.sf.Do(scopeKey, func() (any, error) {
		return p.processMessage(ctx, scope, scopeKey, sessionID, threadID, resourceID, msg, opts)
	})
	if err != nil {
		return ProcessInputStepPlan{}, err
	}
	return v.(ProcessInputStepPlan), nil
}

// processMessage is plan_process_input_step proper; ProcessMessage
// collapses concurrent calls for the same scope key into one of these via
// singleflight so two goroutines racing to process the same scope don't
// double-append or double-enqueue.
func (p *Pipeline) processMessage(ctx context.Context, scope types.Scope, scopeKey, sessionID, threadID, resourceID string, msg types.Message, opts ProcessMessageOptions) (ProcessInputStepPlan, error) {
	record, err := p.st.GetOrCreateOmRecord(ctx, scope, scopeKey, sessionID, threadID, resourceID)
	if err != nil {
		return ProcessInputStepPlan{}, fmt.Errorf("get or create om record: %w", err)
	}

	if !opts.ReadOnly {
		if err := p.st.AppendMessage(ctx, msg); err != nil {
			return ProcessInputStepPlan{}, fmt.Errorf("append message: %w", err)
		}
		record.PendingMessageTokens += msg.TokenCount
		if err := p.st.UpsertOmRecord(ctx, record); err != nil {
			return ProcessInputStepPlan{}, fmt.Errorf("persist pending tokens: %w", err)
		}
	}

	buffered, err := p.st.GetBufferedChunks(ctx, scopeKey)
	if err != nil {
		return ProcessInputStepPlan{}, fmt.Errorf("get buffered chunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	plan := PlanProcessInputStep(record, p.obsCfg, p.reflCfg, now, PlanProcessInputStepOptions{
		IsInitialStep:                opts.IsInitialStep,
		ReadOnly:                     opts.ReadOnly,
		HasBufferedObservationChunks: len(buffered) > 0,
	})

	if plan.ShouldActivateBufferedBeforeObserver && len(buffered) > 0 {
		if err := p.activate(ctx, record, buffered); err != nil {
			return plan, err
		}
	}

	if plan.ShouldRunObserver {
		payload, _ := json.Marshal(observePayload{SchemaVersion: payloadSchemaVersion, ScopeKey: scopeKey, ExpectedGeneration: record.GenerationCount})
		if _, err := p.st.Enqueue(ctx, types.EventObserveBufferRequested, "", string(payload)); err != nil {
			return plan, fmt.Errorf("enqueue observer event: %w", err)
		}
	}

	if plan.ReflectionDecision != nil {
		eventType := types.EventReflectBufferRequested
		if plan.ReflectionDecision.Kind == CommandReflectRequested {
			eventType = types.EventReflectRequested
		}
		payload, _ := json.Marshal(reflectionPayload{
			SchemaVersion:      payloadSchemaVersion,
			ScopeKey:           plan.ReflectionDecision.ScopeKey,
			ExpectedGeneration: plan.ReflectionDecision.ExpectedGeneration,
			RequestedAt:        plan.ReflectionDecision.RequestedAtRFC3339,
		})
		if _, err := p.st.Enqueue(ctx, eventType, "", string(payload)); err != nil {
			return plan, fmt.Errorf("enqueue reflection event: %w", err)
		}
	}

	return plan, nil
}

// activate runs select_activation_boundary over buffered and folds the
// resulting frontier into active_observations via the store.
func (p *Pipeline) activate(ctx context.Context, record *types.OmRecord, buffered []types.OmObservationChunk) error {
	chunks := make([]ChunkLike, len(buffered))
	for i, c := range buffered {
		chunks[i] = ChunkLike{MessageTokens: c.MessageTokens, ObservationTokens: c.TokenCount, MessageIDs: c.MessageIDs}
	}
	boundary := SelectActivationBoundary(chunks, p.obsCfg.BufferActivation, p.obsCfg.MessageTokensBase, record.PendingMessageTokens)
	if boundary.ChunksActivated == 0 {
		return nil
	}

	var text string
	for i := 0; i < boundary.ChunksActivated; i++ {
		if text != "" {
			text += "\n"
		}
		text += buffered[i].Observations
	}
	lastSeq := buffered[boundary.ChunksActivated-1].Seq

	return p.st.ActivateChunks(ctx, record.ScopeKey, text, boundary.ObservationTokensActivated, boundary.ActivatedMessageIDs, boundary.MessageTokensActivated, lastSeq)
}
