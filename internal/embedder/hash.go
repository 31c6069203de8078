package embedder

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

// HashEmbedder is the deterministic feature-hashed bag-of-tokens variant.
type HashEmbedder struct{}

// NewHashEmbedder constructs the hash variant.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (HashEmbedder) Profile() Profile {
	return Profile{Provider: "hash", VectorVersion: "v1", Dim: Dim}
}

// Embed hashes each lowercased token into a bucket, accumulates sign-aware
// weight, and L2-normalises the result.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return hashTokens(tokenize(text)), nil
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func hashTokens(tokens []string) []float32 {
	vec := make([]float32, Dim)
	for _, tok := range tokens {
		bucket, sign := featureHash(tok)
		vec[bucket] += sign
	}
	l2Normalize(vec)
	return vec
}

// featureHash maps tok to a (bucket, sign) pair using the top bit of the
// FNV-1a hash as the sign, following the standard feature-hashing trick
// to keep collisions unbiased in expectation.
func featureHash(tok string) (int, float32) {
	h := fnv.New32a()
	h.Write([]byte(tok))
	sum := h.Sum32()
	bucket := int(sum % uint32(Dim))
	sign := float32(1)
	if sum&0x80000000 != 0 {
		sign = -1
	}
	return bucket, sign
}
