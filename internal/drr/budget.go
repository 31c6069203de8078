package drr

import "time"

// Config holds the process-level DRR tuning knobs (4.E).
type Config struct {
	Alpha                float64
	GlobalTopK           int
	MaxConvergenceRounds int
	MaxDepth             int
	MaxNodes             int
}

// DefaultConfig mirrors the fixture defaults documented for the traversal.
func DefaultConfig() Config {
	return Config{
		Alpha:                0.7,
		GlobalTopK:           5,
		MaxConvergenceRounds: 3,
		MaxDepth:             4,
		MaxNodes:             200,
	}
}

// Budget is the per-request resolution of a Config against optional
// request overrides, with the documented floors applied.
type Budget struct {
	MaxMs    int64 // 0 means unbounded
	MaxNodes int
	MaxDepth int
}

// ResolveBudget applies request overrides over cfg, enforcing
// max_nodes >= 1 and max_depth >= 1.
func ResolveBudget(cfg Config, maxMs *int64, maxNodes, maxDepth *int) Budget {
	b := Budget{MaxNodes: cfg.MaxNodes, MaxDepth: cfg.MaxDepth}
	if maxMs != nil {
		b.MaxMs = *maxMs
	}
	if maxNodes != nil {
		b.MaxNodes = *maxNodes
	}
	if maxDepth != nil {
		b.MaxDepth = *maxDepth
	}
	if b.MaxNodes < 1 {
		b.MaxNodes = 1
	}
	if b.MaxDepth < 1 {
		b.MaxDepth = 1
	}
	return b
}

// exceeded reports the stop reason for the current traversal state, or ""
// if the budget still permits another pop.
func (b Budget) exceeded(start time.Time, explored int) string {
	if b.MaxMs > 0 && time.Since(start).Milliseconds() >= b.MaxMs {
		return "budget_ms"
	}
	if explored >= b.MaxNodes {
		return "budget_nodes"
	}
	return ""
}
