package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMergeHints grounds S6 exactly.
func TestMergeHints(t *testing.T) {
	cfg := HintConfig{RecentHintLimit: 3, TotalHintLimit: 2, KeepRecentWithOM: 1}
	recent := []string{"r1", "r2", "r3"}

	withOM := MergeHints(recent, "om: compact", cfg)
	assert.Equal(t, []string{"r1", "om: compact"}, withOM)

	withoutOM := MergeHints(recent, "", cfg)
	assert.Equal(t, []string{"r1", "r2"}, withoutOM)
}

// TestMergeHintsRespectsTotalLimit grounds invariant 7: when an OM hint is
// present with keep_recent_with_om = 1, total length never exceeds
// total_hint_limit.
func TestMergeHintsRespectsTotalLimit(t *testing.T) {
	cfg := HintConfig{RecentHintLimit: 5, TotalHintLimit: 4, KeepRecentWithOM: 1}
	recent := []string{"a", "b", "c", "d", "e"}

	merged := MergeHints(recent, "om-hint", cfg)
	assert.LessOrEqual(t, len(merged), cfg.TotalHintLimit)
	assert.Equal(t, "a", merged[0])
	assert.Equal(t, "om-hint", merged[1])
}

func TestFilterActivatedDropsActivatedMessages(t *testing.T) {
	ids := []string{"m1", "m2", "m3"}
	texts := []string{"t1", "t2", "t3"}
	out := FilterActivated(ids, texts, []string{"m2"})
	assert.Equal(t, []string{"t1", "t3"}, out)
}
