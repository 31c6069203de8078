package drr

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/pkg/types"
)

// node is one entry on the best-first traversal heap.
type node struct {
	uri   string
	score float64
	depth int
}

type nodeHeap []node

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].score > h[j].score } // max-heap
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)         { *h = append(*h, x.(node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	last := old[n-1]
	*h = old[:n-1]
	return last
}

// queryRun is one planned query's traversal outcome, prior to multi-intent
// merge.
type queryRun struct {
	selected   map[string]float64
	steps      []types.RetrievalStep
	stopReason string
	explored   int
	startURIs  []string
}

// runQuery executes the best-first traversal for a single planned query
// against idx, per 4.E's algorithm.
func runQuery(ctx context.Context, idx *hybridindex.Index, pq PlannedQuery, filter types.Filter, cfg Config, budget Budget) queryRun {
	start := time.Now()
	run := queryRun{selected: make(map[string]float64)}

	scopeFilter := filter
	scoped := func(uri string) bool {
		for _, s := range pq.Scopes {
			if strings.HasPrefix(uri, "axiom://"+string(s)) {
				return true
			}
		}
		return false
	}

	leafHits, _ := idx.Search(ctx, pq.Text, scopeFilter, budget.MaxNodes*4, 0)
	scoreMap := make(map[string]float64, len(leafHits))
	for _, h := range leafHits {
		scoreMap[h.URI] = h.Score
	}

	h := &nodeHeap{}
	heap.Init(h)
	for _, r := range idx.ScopeRoots(pq.Scopes) {
		if r.Depth != 0 {
			continue
		}
		heap.Push(h, node{uri: r.URI, score: scoreMap[r.URI], depth: 0})
		run.startURIs = append(run.startURIs, r.URI)
	}
	dirHits, _ := idx.SearchDirectories(ctx, pq.Text, scopeFilter, cfg.GlobalTopK)
	for _, d := range dirHits {
		if !scoped(d.URI) {
			continue
		}
		heap.Push(h, node{uri: d.URI, score: d.Score, depth: d.Depth})
		run.startURIs = append(run.startURIs, d.URI)
	}

	var convergenceHistory [][]string
	round := 0
	for h.Len() > 0 {
		if reason := budget.exceeded(start, run.explored); reason != "" {
			run.stopReason = reason
			break
		}
		cur := heap.Pop(h).(node)
		run.explored++

		if cur.depth > budget.MaxDepth {
			run.stopReason = "max_depth"
			break
		}

		children := idx.ChildrenOf(cur.uri)
		examined, acceptedCount := 0, 0
		for _, c := range children {
			examined++
			if !scoped(c.URI) {
				continue
			}
			if c.Depth > budget.MaxDepth {
				continue
			}
			if !hybridindex.RecordMatchesFilter(c, filter) {
				continue
			}
			local := scoreMap[c.URI]
			propagated := cfg.Alpha*local + (1-cfg.Alpha)*cur.score
			acceptedCount++
			if c.IsLeaf {
				if existing, ok := run.selected[c.URI]; !ok || propagated > existing {
					run.selected[c.URI] = propagated
				}
			} else {
				heap.Push(h, node{uri: c.URI, score: propagated, depth: c.Depth})
			}
		}

		round++
		run.steps = append(run.steps, types.RetrievalStep{
			Round:            round,
			CurrentURI:       cur.uri,
			ChildrenExamined: examined,
			ChildrenSelected: acceptedCount,
			QueueSizeAfter:   h.Len(),
		})

		topK := topKURIs(run.selected, cfg.GlobalTopK)
		convergenceHistory = append(convergenceHistory, topK)
		if len(convergenceHistory) >= cfg.MaxConvergenceRounds && convergedOver(convergenceHistory, cfg.MaxConvergenceRounds) {
			run.stopReason = "converged"
			break
		}
	}

	if run.stopReason == "" {
		run.stopReason = "exhausted"
	}

	if len(run.selected) == 0 {
		fallback, _ := idx.Search(ctx, pq.Text, filter, budget.MaxNodes, 0)
		for _, f := range fallback {
			run.selected[f.URI] = f.Score
		}
		run.stopReason = "fallback:" + run.stopReason
	}

	return run
}

func topKURIs(selected map[string]float64, k int) []string {
	type pair struct {
		uri   string
		score float64
	}
	pairs := make([]pair, 0, len(selected))
	for u, s := range selected {
		pairs = append(pairs, pair{u, s})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })
	if len(pairs) > k {
		pairs = pairs[:k]
	}
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.uri
	}
	return out
}

func convergedOver(history [][]string, rounds int) bool {
	if len(history) < rounds {
		return false
	}
	recent := history[len(history)-rounds:]
	first := recent[0]
	for _, h := range recent[1:] {
		if !equalStrings(first, h) {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
