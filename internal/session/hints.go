// Package session implements message append (with OM hook invocation),
// commit-time memory extraction, and the OM hint-merge used by search.
package session

import "github.com/axiomme/axiomme/pkg/types"

// HintConfig tunes the OM hint-merge policy (4.G).
type HintConfig struct {
	RecentHintLimit  int
	TotalHintLimit   int
	KeepRecentWithOM int
}

// MergeHints implements 4.G's OM hint merge: pre_om_hints are the most
// recent session messages, capped by RecentHintLimit; when an OM hint is
// present, keep KeepRecentWithOM of the freshest recents, splice in the OM
// hint, then backfill with older recents up to TotalHintLimit. Without an
// OM hint, just take up to TotalHintLimit recents.
func MergeHints(recent []string, omHint string, cfg HintConfig) []string {
	preOmHints := recent
	if len(preOmHints) > cfg.RecentHintLimit {
		preOmHints = preOmHints[:cfg.RecentHintLimit]
	}

	if omHint == "" {
		if len(preOmHints) > cfg.TotalHintLimit {
			return append([]string(nil), preOmHints[:cfg.TotalHintLimit]...)
		}
		return append([]string(nil), preOmHints...)
	}

	keep := cfg.KeepRecentWithOM
	if keep > len(preOmHints) {
		keep = len(preOmHints)
	}
	if keep > cfg.TotalHintLimit {
		keep = cfg.TotalHintLimit
	}

	merged := append([]string(nil), preOmHints[:keep]...)
	if len(merged) < cfg.TotalHintLimit {
		merged = append(merged, omHint)
	}
	for i := keep; i < len(preOmHints) && len(merged) < cfg.TotalHintLimit; i++ {
		merged = append(merged, preOmHints[i])
	}
	return merged
}

// FilterActivated removes any recent hint whose message id appears in
// lastActivatedMessageIDs, per 4.G's OM-hint-present filtering step.
func FilterActivated(recentIDs []string, recentTexts []string, lastActivated []string) []string {
	activated := make(map[string]bool, len(lastActivated))
	for _, id := range lastActivated {
		activated[id] = true
	}
	var out []string
	for i, id := range recentIDs {
		if activated[id] {
			continue
		}
		out = append(out, recentTexts[i])
	}
	return out
}

// PreOmHintTokens estimates pre/post hint-merge token counts for
// observability, per 4.G.
func PreOmHintTokens(hints []string) int {
	total := 0
	for _, h := range hints {
		total += types.EstimateTextTokens(h)
	}
	return total
}
