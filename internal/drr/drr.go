package drr

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
	"github.com/google/uuid"
)

// traceSaveTimeout bounds the detached trace write below, keeping it from
// outliving the process on a wedged store.
const traceSaveTimeout = 5 * time.Second

// Engine is the DRR retrieval engine: plans multi-intent queries and runs
// a bounded best-first traversal over an Index, persisting one trace per
// request.
type Engine struct {
	idx *hybridindex.Index
	st  *store.Store
	cfg Config
}

// New builds an Engine over idx, persisting traces to st.
func New(idx *hybridindex.Index, st *store.Store, cfg Config) *Engine {
	return &Engine{idx: idx, st: st, cfg: cfg}
}

// Request is one DRR find() call.
type Request struct {
	Query        string
	RequestType  string
	Filter       types.Filter
	SessionHints []string
	Limit        int
	MaxMs        *int64
	MaxNodes     *int
	MaxDepth     *int
}

// Find plans, traverses, merges, and persists a trace for req.
func (e *Engine) Find(ctx context.Context, req Request) (*types.RetrievalResult, error) {
	start := time.Now()
	if req.Limit <= 0 {
		req.Limit = 10
	}
	budget := ResolveBudget(e.cfg, req.MaxMs, req.MaxNodes, req.MaxDepth)

	planned := PlanIntents(PlanRequest{
		Query:        req.Query,
		Target:       &req.Filter,
		RequestType:  req.RequestType,
		SessionHints: req.SessionHints,
	})

	// Multi-intent queries fan out across goroutines (bounded by
	// errgroup's default unlimited-but-gated-by-caller-count behavior,
	// which is fine here since len(planned) is small and CPU-bound on
	// index lookups); results are collected by index and merged back in
	// planned order so round numbering and stop-reason ordering stay
	// deterministic regardless of goroutine finish order.
	runs := make([]queryRun, len(planned))
	g, gctx := errgroup.WithContext(ctx)
	for i, pq := range planned {
		i, pq := i, pq
		g.Go(func() error {
			runs[i] = runQuery(gctx, e.idx, pq, req.Filter, e.cfg, budget)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]float64)
	var allSteps []types.RetrievalStep
	var startPoints []string
	var reasons []string
	exploredTotal := 0
	roundOffset := 0

	for _, run := range runs {
		for uri, score := range run.selected {
			if existing, ok := merged[uri]; !ok || score > existing {
				merged[uri] = score
			}
		}
		for _, step := range run.steps {
			step.Round += roundOffset
			allSteps = append(allSteps, step)
		}
		roundOffset += len(run.steps)
		startPoints = append(startPoints, run.startURIs...)
		reasons = append(reasons, run.stopReason)
		exploredTotal += run.explored
	}

	stopReason := "exhausted"
	if len(reasons) == 1 {
		stopReason = reasons[0]
	} else if len(reasons) > 1 {
		stopReason = "fanout:" + strings.Join(reasons, "|")
	}

	finalTopK := rankedHits(merged, req.Limit)
	for i, h := range finalTopK {
		if r, ok := e.idx.Get(h.URI); ok {
			finalTopK[i].Depth = r.Depth
		}
	}

	trace := &types.RetrievalTrace{
		TraceID:     uuid.NewString(),
		RequestType: req.RequestType,
		Query:       req.Query,
		TargetURI:   req.Filter.TargetURI,
		StartPoints: dedupeStrings(startPoints),
		Steps:       allSteps,
		FinalTopK:   finalTopK,
		StopReason:  stopReason,
		Metrics: types.RetrievalMetrics{
			LatencyMs:         time.Since(start).Milliseconds(),
			ExploredNodes:     exploredTotal,
			ConvergenceRounds: len(allSteps),
			TypedQueryCount:   len(planned),
		},
		CreatedAt: time.Now(),
	}

	if e.st != nil {
		// The trace is worth persisting even if the caller's request
		// context is cancelled the instant Find returns (e.g. an HTTP
		// client disconnect), so the write runs on a detached context.
		traceCtx, cancel := logging.DetachContextWithTimeout(ctx, traceSaveTimeout)
		err := e.st.SaveTrace(traceCtx, trace)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	return splitByPrefix(finalTopK, trace), nil
}

func rankedHits(merged map[string]float64, limit int) []types.ScoredHit {
	hits := make([]types.ScoredHit, 0, len(merged))
	for uri, score := range merged {
		hits = append(hits, types.ScoredHit{URI: uri, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func splitByPrefix(hits []types.ScoredHit, trace *types.RetrievalTrace) *types.RetrievalResult {
	result := &types.RetrievalResult{Trace: trace}
	for _, h := range hits {
		switch {
		case strings.HasPrefix(h.URI, "axiom://user") || strings.HasPrefix(h.URI, "axiom://session"):
			result.Memories = append(result.Memories, h)
		case strings.HasPrefix(h.URI, "axiom://agent"):
			result.Skills = append(result.Skills, h)
		default:
			result.Resources = append(result.Resources, h)
		}
	}
	return result
}
