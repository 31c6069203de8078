// Package drr implements the DRR retrieval engine (4.E): a rule-based
// multi-intent planner followed by a bounded best-first traversal over
// the hybrid index, merged into one ranked, budget-respecting result with
// a persisted trace.
package drr

import (
	"sort"
	"strings"

	"github.com/axiomme/axiomme/pkg/types"
)

// PlannedQuery is one typed query the traversal executes.
type PlannedQuery struct {
	Kind     string
	Text     string
	Scopes   []types.Scope
	Priority int
}

// PlanRequest carries the inputs the planner needs to build an intent list.
type PlanRequest struct {
	Query        string
	Target       *types.Filter // TargetURI carries the optional target; may be nil
	RequestType  string        // "search" enables session_recent synthesis
	SessionHints []string
}

// PlanIntents implements 4.E's rule-based planner: always emit primary,
// add session_recent for search requests with hints, add skill_focus and
// memory_focus heuristically when no target is given, dedupe by
// (lowercased text, scope set), sort by (priority, kind, query), cap at 5.
func PlanIntents(req PlanRequest) []PlannedQuery {
	lower := strings.ToLower(req.Query)
	baseScopes := inferBaseScopes(req.Target, lower, len(req.SessionHints) > 0)

	var planned []PlannedQuery
	planned = append(planned, PlannedQuery{Kind: "primary", Text: req.Query, Scopes: baseScopes, Priority: 1})

	if req.RequestType == "search" && len(req.SessionHints) > 0 {
		hints := req.SessionHints
		if len(hints) > 2 {
			hints = hints[:2]
		}
		text := req.Query + " " + strings.Join(hints, " ")
		planned = append(planned, PlannedQuery{Kind: "session_recent", Text: text, Scopes: baseScopes, Priority: 2})
	}

	hasTarget := req.Target != nil && req.Target.TargetURI != ""
	if !hasTarget {
		if strings.Contains(lower, "skill") {
			planned = append(planned, PlannedQuery{Kind: "skill_focus", Text: req.Query, Scopes: []types.Scope{types.ScopeAgent}, Priority: 3})
		}
		if mentionsMemory(lower) || len(req.SessionHints) > 0 {
			planned = append(planned, PlannedQuery{Kind: "memory_focus", Text: req.Query, Scopes: []types.Scope{types.ScopeUser, types.ScopeAgent}, Priority: 3})
		}
	}

	return dedupeSortCap(planned)
}

func inferBaseScopes(target *types.Filter, lowerQuery string, hasSessionHints bool) []types.Scope {
	if target != nil && target.TargetURI != "" {
		if scope := scopeFromURI(target.TargetURI); scope != "" {
			return []types.Scope{scope}
		}
	}
	if strings.Contains(lowerQuery, "skill") {
		return []types.Scope{types.ScopeAgent}
	}
	if mentionsMemory(lowerQuery) {
		return []types.Scope{types.ScopeUser, types.ScopeAgent}
	}
	return []types.Scope{types.ScopeResources}
}

func mentionsMemory(lower string) bool {
	return strings.Contains(lower, "memory") || strings.Contains(lower, "preference") || strings.Contains(lower, "prefer")
}

func scopeFromURI(uri string) types.Scope {
	const prefix = "axiom://"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(uri, prefix)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	scope := types.Scope(rest)
	if types.ValidScope(scope) {
		return scope
	}
	return ""
}

func scopeSetKey(scopes []types.Scope) string {
	cp := append([]types.Scope(nil), scopes...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	parts := make([]string, len(cp))
	for i, s := range cp {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func dedupeSortCap(planned []PlannedQuery) []PlannedQuery {
	seen := make(map[string]bool)
	var out []PlannedQuery
	for _, p := range planned {
		key := strings.ToLower(p.Text) + "|" + scopeSetKey(p.Scopes)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
