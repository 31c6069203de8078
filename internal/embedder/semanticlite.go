package embedder

import (
	"context"
	"strings"
)

// synonymTable canonicalises near-synonym tokens onto one lemma so that
// e.g. "oauth" and "authentication" land in the same feature bucket.
var synonymTable = map[string]string{
	"auth":           "identity",
	"oauth":          "identity",
	"authentication": "identity",
	"authenticate":   "identity",
	"login":          "signin",
	"signin":         "signin",
	"logon":          "signin",
	"storage":        "storage",
	"cache":          "storage",
	"caching":        "storage",
	"cached":         "storage",
}

const (
	trigramWeight = 0.35
	bigramWeight  = 0.8
)

// SemanticLiteEmbedder canonicalises tokens against synonymTable, folds in
// character trigrams and lemma bigrams, and feature-hashes the combined
// bag into the fixed-dimension vector.
type SemanticLiteEmbedder struct{}

// NewSemanticLiteEmbedder constructs the semantic-lite variant.
func NewSemanticLiteEmbedder() *SemanticLiteEmbedder {
	return &SemanticLiteEmbedder{}
}

func (SemanticLiteEmbedder) Profile() Profile {
	return Profile{Provider: "semantic-lite", VectorVersion: "v1", Dim: Dim}
}

func (SemanticLiteEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	lemmas := make([]string, len(tokens))
	for i, t := range tokens {
		lemmas[i] = lemmatize(t)
	}

	vec := make([]float32, Dim)
	for _, lemma := range lemmas {
		bucket, sign := featureHash(lemma)
		vec[bucket] += sign
	}
	for i := 0; i+1 < len(lemmas); i++ {
		bigram := lemmas[i] + "_" + lemmas[i+1]
		bucket, sign := featureHash(bigram)
		vec[bucket] += sign * bigramWeight
	}
	for _, tri := range charTrigrams(strings.Join(lemmas, "")) {
		bucket, sign := featureHash(tri)
		vec[bucket] += sign * trigramWeight
	}

	l2Normalize(vec)
	return vec, nil
}

// lemmatize canonicalises a token via the synonym table, falling back to a
// minimal suffix-stripping stemmer for plurals and -ing/-ed forms.
func lemmatize(tok string) string {
	if canon, ok := synonymTable[tok]; ok {
		return canon
	}
	stemmed := stem(tok)
	if canon, ok := synonymTable[stemmed]; ok {
		return canon
	}
	return stemmed
}

func stem(tok string) string {
	switch {
	case strings.HasSuffix(tok, "ing") && len(tok) > 5:
		return tok[:len(tok)-3]
	case strings.HasSuffix(tok, "ed") && len(tok) > 4:
		return tok[:len(tok)-2]
	case strings.HasSuffix(tok, "s") && len(tok) > 3 && !strings.HasSuffix(tok, "ss"):
		return tok[:len(tok)-1]
	default:
		return tok
	}
}

func charTrigrams(s string) []string {
	if len(s) < 3 {
		return nil
	}
	var out []string
	for i := 0; i+3 <= len(s); i++ {
		out = append(out, s[i:i+3])
	}
	return out
}
