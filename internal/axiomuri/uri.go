// Package axiomuri implements the axiom:// URI grammar used to address
// every node in the store: axiom://<scope>/<seg>/... Segments are opaque
// strings; only the scope token is validated against the known set.
package axiomuri

import (
	"errors"
	"fmt"
	"strings"

	"github.com/axiomme/axiomme/pkg/types"
)

const scheme = "axiom://"

// ErrInvalidURI is returned for any malformed axiom:// string.
var ErrInvalidURI = errors.New("invalid uri")

// URI is a parsed axiom:// address.
type URI struct {
	Scope    types.Scope
	Segments []string
}

// Parse validates and splits raw into a URI. A bare scope root ("axiom://resources")
// is valid and carries zero segments.
func Parse(raw string) (URI, error) {
	if !strings.HasPrefix(raw, scheme) {
		return URI{}, fmt.Errorf("%w: missing scheme %q in %q", ErrInvalidURI, scheme, raw)
	}
	rest := strings.TrimPrefix(raw, scheme)
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return URI{}, fmt.Errorf("%w: empty scope in %q", ErrInvalidURI, raw)
	}
	parts := strings.Split(rest, "/")
	scope := types.Scope(parts[0])
	if !types.ValidScope(scope) {
		return URI{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidURI, parts[0])
	}
	segs := parts[1:]
	for _, s := range segs {
		if s == "" {
			return URI{}, fmt.Errorf("%w: empty segment in %q", ErrInvalidURI, raw)
		}
	}
	return URI{Scope: scope, Segments: segs}, nil
}

// MustParse panics on an invalid uri; intended for literals in tests.
func MustParse(raw string) URI {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// String renders the canonical axiom:// form.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString(string(u.Scope))
	for _, s := range u.Segments {
		b.WriteByte('/')
		b.WriteString(s)
	}
	return b.String()
}

// Root returns the scopeless base of u's scope, e.g. axiom://resources.
func Root(scope types.Scope) URI {
	return URI{Scope: scope}
}

// Parent drops the last segment. Parent of a scope root is itself.
func (u URI) Parent() URI {
	if len(u.Segments) == 0 {
		return u
	}
	return URI{Scope: u.Scope, Segments: append([]string(nil), u.Segments[:len(u.Segments)-1]...)}
}

// Join appends one segment.
func (u URI) Join(seg string) URI {
	segs := append(append([]string(nil), u.Segments...), seg)
	return URI{Scope: u.Scope, Segments: segs}
}

// Depth is the segment count (scope root has depth 0).
func (u URI) Depth() int {
	return len(u.Segments)
}

// IsPrefixOf reports whether u is other or an ancestor of other.
func (u URI) IsPrefixOf(other URI) bool {
	if u.Scope != other.Scope {
		return false
	}
	if len(u.Segments) > len(other.Segments) {
		return false
	}
	for i, s := range u.Segments {
		if other.Segments[i] != s {
			return false
		}
	}
	return true
}

// Name is the final segment, or the scope token for a scope root.
func (u URI) Name() string {
	if len(u.Segments) == 0 {
		return string(u.Scope)
	}
	return u.Segments[len(u.Segments)-1]
}
