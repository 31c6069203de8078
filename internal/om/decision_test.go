package om

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/pkg/types"
)

func TestResolveConfigDefaults(t *testing.T) {
	cfg, err := ResolveConfig(types.ScopeSession, false, ObservationConfigInput{}, ReflectionConfigInput{})
	require.NoError(t, err)
	assert.Equal(t, defaultMessageTokensBase, cfg.Observation.MessageTokensBase)
	assert.Equal(t, defaultMaxTokensPerBatch, cfg.Observation.MaxTokensPerBatch)
	assert.Equal(t, defaultReflectionTokens, cfg.Reflection.ObservationTokens)
	assert.False(t, cfg.AsyncBufferingDisabled)
}

func TestResolveConfigRejectsShareBudgetWithAsyncBuffering(t *testing.T) {
	_, err := ResolveConfig(types.ScopeSession, true, ObservationConfigInput{}, ReflectionConfigInput{})
	assert.ErrorContains(t, err, "VALIDATION_FAILED")
}

func TestResolveConfigRejectsResourceScopeExplicitAsync(t *testing.T) {
	absolute := 500
	_, err := ResolveConfig(types.ScopeResources, false, ObservationConfigInput{
		BufferTokens: &BufferTokensInput{Absolute: &absolute},
	}, ReflectionConfigInput{})
	assert.ErrorContains(t, err, "VALIDATION_FAILED")
}

func TestResolveConfigRejectsMalformedBufferTokensEnv(t *testing.T) {
	t.Setenv(bufferTokensEnv, "not-a-number")
	_, err := ResolveConfig(types.ScopeSession, false, ObservationConfigInput{}, ReflectionConfigInput{})
	assert.ErrorContains(t, err, "VALIDATION_FAILED")
	assert.ErrorContains(t, err, bufferTokensEnv)
}

func TestResolveConfigAppliesBufferTokensEnv(t *testing.T) {
	t.Setenv(bufferTokensEnv, "disabled")
	cfg, err := ResolveConfig(types.ScopeSession, false, ObservationConfigInput{}, ReflectionConfigInput{})
	require.NoError(t, err)
	assert.True(t, cfg.Observation.BufferTokens.Disabled)

	t.Setenv(bufferTokensEnv, "0.5")
	cfg, err = ResolveConfig(types.ScopeSession, false, ObservationConfigInput{}, ReflectionConfigInput{})
	require.NoError(t, err)
	assert.Equal(t, round(0.5*float64(defaultMessageTokensBase)), cfg.Observation.BufferTokens.Absolute)
}

func TestShouldTriggerReflector(t *testing.T) {
	assert.True(t, ShouldTriggerReflector(6000, 6000))
	assert.True(t, ShouldTriggerReflector(6001, 6000))
	assert.False(t, ShouldTriggerReflector(5999, 6000))
}

func TestSelectReflectionAction(t *testing.T) {
	cfg := ReflectionConfig{ObservationTokens: 1000, BufferActivation: 0.8}

	assert.Equal(t, ReflectionNone, SelectReflectionAction(cfg, 100, false, false, false))
	assert.Equal(t, ReflectionBuffer, SelectReflectionAction(cfg, 800, false, false, false))
	assert.Equal(t, ReflectionNone, SelectReflectionAction(cfg, 800, false, true, false))

	block := 1200
	cfg.BlockAfter = &block
	assert.Equal(t, ReflectionReflect, SelectReflectionAction(cfg, 1200, false, false, false))
	assert.Equal(t, ReflectionReflect, SelectReflectionAction(cfg, 100, true, false, false))
}

func TestDecideObserverWriteAction(t *testing.T) {
	budget := 5000
	block := 4000
	cfg := ObservationConfig{MaxTokensPerBatch: 8192, TotalBudget: &budget, BlockAfter: &block}

	d := DecideObserverWriteAction(cfg, 4500, false, false)
	assert.Equal(t, 4000, d.Threshold)
	assert.True(t, d.ThresholdReached)
	assert.True(t, d.BlockAfterExceeded)
	assert.True(t, d.ShouldRunObserver)

	dReadOnly := DecideObserverWriteAction(cfg, 4500, false, true)
	assert.False(t, dReadOnly.ShouldRunObserver)

	dInitial := DecideObserverWriteAction(cfg, 4500, true, false)
	assert.False(t, dInitial.ShouldRunObserver)
}

// TestActivationBoundaryDeterminism grounds S4: chunks [30,40,50],
// activation_ratio=0.8, message_threshold=100, current_pending_tokens=0.
func TestActivationBoundaryDeterminism(t *testing.T) {
	chunks := []ChunkLike{
		{MessageTokens: 30, ObservationTokens: 10, MessageIDs: []string{"m1"}},
		{MessageTokens: 40, ObservationTokens: 15, MessageIDs: []string{"m2"}},
		{MessageTokens: 50, ObservationTokens: 20, MessageIDs: []string{"m3"}},
	}

	a := SelectActivationBoundary(chunks, 0.8, 100, 0)
	b := SelectActivationBoundary(chunks, 0.8, 100, 0)

	assert.Equal(t, a, b)
	assert.Equal(t, 2, a.ChunksActivated)
	assert.Equal(t, 70, a.MessageTokensActivated)
	assert.Equal(t, []string{"m1", "m2"}, a.ActivatedMessageIDs)
}

func TestPlanProcessInputStep(t *testing.T) {
	record := &types.OmRecord{
		ScopeKey:              "session:s1",
		GenerationCount:       3,
		PendingMessageTokens:  9000,
		ObservationTokenCount: 900,
	}
	obsCfg := ObservationConfig{MaxTokensPerBatch: 8192}
	reflCfg := ReflectionConfig{ObservationTokens: 1000, BufferActivation: 0.8}

	plan := PlanProcessInputStep(record, obsCfg, reflCfg, "2026-07-31T00:00:00Z", PlanProcessInputStepOptions{
		HasBufferedObservationChunks: true,
	})

	assert.True(t, plan.ShouldActivateBufferedBeforeObserver)
	assert.True(t, plan.ShouldRunObserver)
	require.NotNil(t, plan.ReflectionDecision)
	assert.Equal(t, CommandBufferRequested, plan.ReflectionDecision.Kind)
	assert.Equal(t, uint32(3), plan.ReflectionDecision.ExpectedGeneration)
}

func TestPlanProcessInputStepReadOnlySuppressesReflection(t *testing.T) {
	record := &types.OmRecord{ScopeKey: "session:s1", ObservationTokenCount: 900}
	reflCfg := ReflectionConfig{ObservationTokens: 1000, BufferActivation: 0.8}

	plan := PlanProcessInputStep(record, ObservationConfig{MaxTokensPerBatch: 8192}, reflCfg, "now", PlanProcessInputStepOptions{ReadOnly: true})
	assert.Nil(t, plan.ReflectionDecision)
	assert.False(t, plan.ShouldActivateBufferedBeforeObserver)
}

func TestPlanOutputResult(t *testing.T) {
	assert.True(t, PlanOutputResult(false, 2).ShouldPersist)
	assert.False(t, PlanOutputResult(true, 2).ShouldPersist)
	assert.False(t, PlanOutputResult(false, 0).ShouldPersist)
}
