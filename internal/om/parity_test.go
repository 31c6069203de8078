package om

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/axiomme/axiomme/pkg/types"
)

// TestParityFixture enumerates the decision-function cases named in 4.F.6
// as one fixture, grounding invariant 8: config/should_trigger_reflector/
// select_reflection_action/decide_observer_write_action/
// select_activation_boundary/plan_process_input_step/
// plan_process_output_result must all agree, case by case, on replay.
func TestParityFixture(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		cfg, err := ResolveConfig(types.ScopeSession, false, ObservationConfigInput{}, ReflectionConfigInput{})
		assert.NoError(t, err)
		assert.Equal(t, defaultMessageTokensBase, cfg.Observation.MessageTokensBase)

		_, err = ResolveConfig(types.ScopeSession, true, ObservationConfigInput{}, ReflectionConfigInput{})
		assert.Error(t, err)
	})

	t.Run("should_trigger_reflector", func(t *testing.T) {
		cases := []struct {
			tokens, threshold int
			want              bool
		}{
			{100, 200, false},
			{200, 200, true},
			{201, 200, true},
		}
		for _, c := range cases {
			assert.Equal(t, c.want, ShouldTriggerReflector(c.tokens, c.threshold))
		}
	})

	t.Run("select_reflection_action", func(t *testing.T) {
		cfg := ReflectionConfig{ObservationTokens: 1000, BufferActivation: 0.8}
		assert.Equal(t, ReflectionNone, SelectReflectionAction(cfg, 0, false, false, false))
		assert.Equal(t, ReflectionBuffer, SelectReflectionAction(cfg, 800, false, false, false))
		assert.Equal(t, ReflectionNone, SelectReflectionAction(cfg, 800, false, false, true))
		assert.Equal(t, ReflectionReflect, SelectReflectionAction(cfg, 1, true, false, false))
	})

	t.Run("decide_observer_write_action", func(t *testing.T) {
		cfg := ObservationConfig{MaxTokensPerBatch: 1000}
		d := DecideObserverWriteAction(cfg, 1000, false, false)
		assert.Equal(t, 1000, d.Threshold)
		assert.True(t, d.ShouldRunObserver)

		d2 := DecideObserverWriteAction(cfg, 999, false, false)
		assert.False(t, d2.ShouldRunObserver)
	})

	t.Run("select_activation_boundary", func(t *testing.T) {
		chunks := []ChunkLike{{MessageTokens: 30}, {MessageTokens: 40}, {MessageTokens: 50}}
		got := SelectActivationBoundary(chunks, 0.8, 100, 0)
		assert.Equal(t, 2, got.ChunksActivated)
		assert.Equal(t, 70, got.MessageTokensActivated)
	})

	t.Run("plan_process_input_step", func(t *testing.T) {
		record := &types.OmRecord{ScopeKey: "session:s1", PendingMessageTokens: 2000}
		plan := PlanProcessInputStep(record, ObservationConfig{MaxTokensPerBatch: 1000}, ReflectionConfig{ObservationTokens: 5000, BufferActivation: 0.8}, "now", PlanProcessInputStepOptions{})
		assert.True(t, plan.ShouldRunObserver)
	})

	t.Run("plan_process_output_result", func(t *testing.T) {
		assert.True(t, PlanOutputResult(false, 1).ShouldPersist)
		assert.False(t, PlanOutputResult(true, 1).ShouldPersist)
	})
}
