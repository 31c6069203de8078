package om

import "github.com/axiomme/axiomme/pkg/types"

// ReflectionAction is select_reflection_action's output variant.
type ReflectionAction string

const (
	ReflectionNone    ReflectionAction = "none"
	ReflectionBuffer  ReflectionAction = "buffer"
	ReflectionReflect ReflectionAction = "reflect"
)

// ObserverWriteDecision is decide_observer_write_action's output.
type ObserverWriteDecision struct {
	Threshold              int
	ThresholdReached       bool
	IntervalTriggered      bool
	BlockAfterExceeded     bool
	ShouldRunObserver      bool
	ShouldActivateAfterRun bool
}

// DecideObserverWriteAction computes the observer threshold from the
// resolved config and the tokens pending since the last buffered mark.
func DecideObserverWriteAction(cfg ObservationConfig, pendingMessageTokens int, isInitialStep, readOnly bool) ObserverWriteDecision {
	threshold := cfg.MaxTokensPerBatch
	if cfg.TotalBudget != nil && *cfg.TotalBudget < threshold {
		threshold = *cfg.TotalBudget
	}
	if cfg.BlockAfter != nil && *cfg.BlockAfter < threshold {
		threshold = *cfg.BlockAfter
	}

	thresholdReached := pendingMessageTokens >= threshold
	blockAfterExceeded := cfg.BlockAfter != nil && pendingMessageTokens >= *cfg.BlockAfter
	intervalTriggered := thresholdReached && !isInitialStep

	should := intervalTriggered && !readOnly
	if isInitialStep && should {
		should = false
	}

	return ObserverWriteDecision{
		Threshold:              threshold,
		ThresholdReached:       thresholdReached,
		IntervalTriggered:      intervalTriggered,
		BlockAfterExceeded:     blockAfterExceeded,
		ShouldRunObserver:      should,
		ShouldActivateAfterRun: should,
	}
}

// ShouldTriggerReflector implements the literal contract:
// observation_tokens >= threshold.
func ShouldTriggerReflector(observationTokens, threshold int) bool {
	return observationTokens >= threshold
}

// SelectReflectionAction implements 4.F.2 step 4.
func SelectReflectionAction(cfg ReflectionConfig, observationTokens int, bufferedReflectionPresent, isBuffering, isReflecting bool) ReflectionAction {
	blockAfter := cfg.BlockAfter
	if blockAfter != nil && observationTokens >= *blockAfter {
		return ReflectionReflect
	}
	if bufferedReflectionPresent {
		return ReflectionReflect
	}
	noBufferConfigured := cfg.BufferActivation <= 0
	if noBufferConfigured && ShouldTriggerReflector(observationTokens, cfg.ObservationTokens) {
		return ReflectionReflect
	}

	activationThreshold := int(cfg.BufferActivation * float64(cfg.ObservationTokens))
	crossedActivation := observationTokens >= activationThreshold
	if crossedActivation && !isBuffering && !isReflecting {
		return ReflectionBuffer
	}
	return ReflectionNone
}

// ReflectionCommandKind is the outbox event variant a reflection decision
// emits.
type ReflectionCommandKind string

const (
	CommandBufferRequested  ReflectionCommandKind = "BufferRequested"
	CommandReflectRequested ReflectionCommandKind = "ReflectRequested"
)

// ReflectionCommand is the emitted reflection-trigger payload.
type ReflectionCommand struct {
	Kind                      ReflectionCommandKind
	ScopeKey                  string
	ExpectedGeneration        uint32
	RequestedAtRFC3339        string
	NextIsReflecting          bool
	NextIsBufferingReflection bool
}

// ProcessInputStepPlan is plan_process_input_step's output.
type ProcessInputStepPlan struct {
	ShouldActivateBufferedBeforeObserver bool
	ShouldRunObserver                    bool
	ShouldActivateBufferedAfterObserver  bool
	ReflectionDecision                   *ReflectionCommand
}

// PlanProcessInputStepOptions carries the 4.F.2 inputs not in the record
// snapshot.
type PlanProcessInputStepOptions struct {
	IsInitialStep                bool
	ReadOnly                     bool
	HasBufferedObservationChunks bool
}

// PlanProcessInputStep is the pure orchestration function for the
// on-message step (4.F.2), encapsulating the observer and reflection
// decisions behind one deterministic plan.
func PlanProcessInputStep(
	record *types.OmRecord,
	obsCfg ObservationConfig,
	reflCfg ReflectionConfig,
	nowRFC3339 string,
	opts PlanProcessInputStepOptions,
) ProcessInputStepPlan {
	plan := ProcessInputStepPlan{}

	plan.ShouldActivateBufferedBeforeObserver = opts.HasBufferedObservationChunks && !opts.ReadOnly

	writeDecision := DecideObserverWriteAction(obsCfg, record.PendingMessageTokens, opts.IsInitialStep, opts.ReadOnly)
	plan.ShouldRunObserver = writeDecision.ShouldRunObserver
	plan.ShouldActivateBufferedAfterObserver = writeDecision.ShouldActivateAfterRun

	action := SelectReflectionAction(reflCfg, record.ObservationTokenCount, record.BufferedReflection != "", record.IsBufferingReflection, record.IsReflecting)
	if action == ReflectionNone || opts.ReadOnly {
		return plan
	}

	cmd := &ReflectionCommand{
		ScopeKey:           record.ScopeKey,
		ExpectedGeneration: record.GenerationCount,
		RequestedAtRFC3339: nowRFC3339,
	}
	switch action {
	case ReflectionBuffer:
		cmd.Kind = CommandBufferRequested
		cmd.NextIsBufferingReflection = true
	case ReflectionReflect:
		cmd.Kind = CommandReflectRequested
		cmd.NextIsReflecting = true
	}
	plan.ReflectionDecision = cmd
	return plan
}

// ActivationBoundary is select_activation_boundary's output.
type ActivationBoundary struct {
	ChunksActivated            int
	MessageTokensActivated     int
	ObservationTokensActivated int
	ActivatedMessageIDs        []string
}

// ChunkLike is the minimal view select_activation_boundary needs of an
// ordered observation chunk.
type ChunkLike struct {
	MessageTokens     int
	ObservationTokens int
	MessageIDs        []string
}

// SelectActivationBoundary is 4.F.4: greedily accumulate chunks while the
// cumulative message-token cost stays within activationRatio*threshold.
// Pure and deterministic per invariant 3 / S4.
func SelectActivationBoundary(chunks []ChunkLike, activationRatio float64, messageThreshold, currentPendingTokens int) ActivationBoundary {
	limit := activationRatio * float64(messageThreshold)
	var out ActivationBoundary
	accumulated := 0
	for _, c := range chunks {
		if float64(accumulated+currentPendingTokens+c.MessageTokens) > limit {
			break
		}
		accumulated += c.MessageTokens
		out.ChunksActivated++
		out.MessageTokensActivated += c.MessageTokens
		out.ObservationTokensActivated += c.ObservationTokens
		out.ActivatedMessageIDs = append(out.ActivatedMessageIDs, c.MessageIDs...)
	}
	return out
}

// PlanProcessOutputResult is plan_process_output_result: whether to
// persist assistant messages on the reply path.
type PlanProcessOutputResult struct {
	ShouldPersist bool
}

// PlanOutputResult implements the literal contract: persist unless
// read-only or there is nothing unsaved.
func PlanOutputResult(readOnly bool, unsavedMessageCount int) PlanProcessOutputResult {
	return PlanProcessOutputResult{ShouldPersist: !readOnly && unsavedMessageCount > 0}
}
