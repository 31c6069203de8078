package session

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/axiomuri"
	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/internal/scopedfs"
	"github.com/axiomme/axiomme/pkg/types"
)

// MemoryCategory is one of the six durable memory buckets a commit can
// write into.
type MemoryCategory string

const (
	CategoryProfile     MemoryCategory = "profile"
	CategoryPreferences MemoryCategory = "preferences"
	CategoryEntities    MemoryCategory = "entities"
	CategoryEvents      MemoryCategory = "events"
	CategoryCases       MemoryCategory = "cases"
	CategoryPatterns    MemoryCategory = "patterns"
)

var allCategories = []MemoryCategory{
	CategoryProfile, CategoryPreferences, CategoryEntities, CategoryEvents, CategoryCases, CategoryPatterns,
}

// Embedder is the subset of the embedder contract commit needs for the
// cosine-cutoff dedupe step.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CandidateMemory is one extracted fact pending dedupe and category
// assignment.
type CandidateMemory struct {
	Category MemoryCategory
	Text     string
}

// Committer walks the user scope's memory documents, extracts candidate
// memories from recent messages, dedupes them against embedded existing
// facts, and upserts survivors.
type Committer struct {
	fs       *scopedfs.FS
	idx      *hybridindex.Index
	embedder Embedder
	cutoff   float64
}

// NewCommitter builds a Committer with the given cosine dedupe cutoff
// (typically ~0.92: near-duplicate facts are dropped, distinct ones kept).
func NewCommitter(fs *scopedfs.FS, idx *hybridindex.Index, embedder Embedder, cutoff float64) *Committer {
	return &Committer{fs: fs, idx: idx, embedder: embedder, cutoff: cutoff}
}

// Commit extracts candidates from recentMessages, dedupes against the
// existing memory corpus under axiom://user/memory, and writes survivors.
func (c *Committer) Commit(ctx context.Context, recentMessages []types.Message) ([]CandidateMemory, error) {
	candidates := ExtractCandidates(recentMessages)
	if len(candidates) == 0 {
		return nil, nil
	}

	written := make([]CandidateMemory, 0, len(candidates))
	touchedDirs := make(map[string]bool)

	for _, cand := range candidates {
		dup, err := c.isDuplicate(ctx, cand)
		if err != nil {
			return written, err
		}
		if dup {
			continue
		}
		uri, err := c.write(ctx, cand)
		if err != nil {
			return written, err
		}
		touchedDirs[uri.Parent().String()] = true
		written = append(written, cand)
	}

	for dir := range touchedDirs {
		if err := c.reindexDirectory(ctx, dir); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (c *Committer) isDuplicate(ctx context.Context, cand CandidateMemory) (bool, error) {
	if c.embedder == nil {
		return false, nil
	}
	candVec, err := c.embedder.Embed(ctx, cand.Text)
	if err != nil {
		return false, err
	}
	dirURI := memoryDirURI(cand.Category)
	for _, existing := range c.idx.ChildrenOf(dirURI.String()) {
		if len(existing.Embedding) == 0 {
			continue
		}
		if hybridindex.CosineSimilarity(candVec, existing.Embedding) >= c.cutoff {
			return true, nil
		}
	}
	return false, nil
}

func (c *Committer) write(ctx context.Context, cand CandidateMemory) (axiomuri.URI, error) {
	key := MemoryKey(cand.Category, cand.Text)
	uri := memoryDirURI(cand.Category).Join(key + ".md")

	var vec []float32
	if c.embedder != nil {
		v, err := c.embedder.Embed(ctx, cand.Text)
		if err == nil {
			vec = v
		}
	}

	if err := c.fs.WriteAtomic(uri, []byte(cand.Text), false); err != nil {
		return uri, fmt.Errorf("write memory %s: %w", uri, err)
	}

	c.idx.Upsert(types.IndexRecord{
		URI:          uri.String(),
		ParentURI:    uri.Parent().String(),
		IsLeaf:       true,
		ContextType:  "memory",
		Name:         key,
		AbstractText: cand.Text,
		Content:      cand.Text,
		Tags:         []string{string(cand.Category)},
		Depth:        uri.Depth(),
		UpdatedAt:    time.Now().UTC(),
		Embedding:    vec,
		MimeType:     "text/markdown",
	})
	return uri, nil
}

func (c *Committer) reindexDirectory(ctx context.Context, dirURI string) error {
	u, err := axiomuri.Parse(dirURI)
	if err != nil {
		return err
	}
	c.idx.Upsert(types.IndexRecord{
		URI:       dirURI,
		ParentURI: u.Parent().String(),
		IsLeaf:    false,
		Name:      u.Name(),
		Depth:     u.Depth(),
		UpdatedAt: time.Now().UTC(),
	})
	return nil
}

func memoryDirURI(category MemoryCategory) axiomuri.URI {
	return axiomuri.Root(types.ScopeUser).Join("memory").Join(string(category))
}

// MemoryKey deterministically derives a memory's filename key from its
// category and normalised text.
func MemoryKey(category MemoryCategory, text string) string {
	normalized := normalizeForKey(text)
	sum := sha1.Sum([]byte(string(category) + "\x00" + normalized))
	return hex.EncodeToString(sum[:])[:16]
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func normalizeForKey(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	return whitespacePattern.ReplaceAllString(lower, " ")
}

// ExtractCandidates is the heuristic candidate-memory extractor: it scans
// recent messages for declarative statements ("I am", "I prefer", "I
// like", "remember that", "my name is") and classifies them into a
// category by keyword.
func ExtractCandidates(messages []types.Message) []CandidateMemory {
	var out []CandidateMemory
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		for _, sentence := range splitSentences(m.Text) {
			if cand, ok := classifySentence(sentence); ok {
				out = append(out, cand)
			}
		}
	}
	return out
}

var sentenceSplitPattern = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func classifySentence(sentence string) (CandidateMemory, bool) {
	lower := strings.ToLower(sentence)
	switch {
	case strings.Contains(lower, "my name is") || strings.Contains(lower, "i am "):
		return CandidateMemory{Category: CategoryProfile, Text: sentence}, true
	case strings.Contains(lower, "i prefer") || strings.Contains(lower, "i like") || strings.Contains(lower, "i hate"):
		return CandidateMemory{Category: CategoryPreferences, Text: sentence}, true
	case strings.Contains(lower, "remember that") || strings.Contains(lower, "note that"):
		return CandidateMemory{Category: CategoryEvents, Text: sentence}, true
	case strings.Contains(lower, "always") || strings.Contains(lower, "every time"):
		return CandidateMemory{Category: CategoryPatterns, Text: sentence}, true
	default:
		return CandidateMemory{}, false
	}
}
