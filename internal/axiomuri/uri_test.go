package axiomuri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/pkg/types"
)

func TestParseValid(t *testing.T) {
	u, err := Parse("axiom://resources/docs/auth.md")
	require.NoError(t, err)
	assert.Equal(t, types.ScopeResources, u.Scope)
	assert.Equal(t, []string{"docs", "auth.md"}, u.Segments)
	assert.Equal(t, "axiom://resources/docs/auth.md", u.String())
}

func TestParseScopeRoot(t *testing.T) {
	u, err := Parse("axiom://session")
	require.NoError(t, err)
	assert.Equal(t, types.ScopeSession, u.Scope)
	assert.Empty(t, u.Segments)
	assert.Equal(t, 0, u.Depth())
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"http://resources/x",
		"axiom://bogus/x",
		"axiom://resources//x",
		"axiom://",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrInvalidURI, c)
	}
}

func TestParentJoin(t *testing.T) {
	u := MustParse("axiom://resources/a/b/c")
	p := u.Parent()
	assert.Equal(t, "axiom://resources/a/b", p.String())
	assert.Equal(t, u, p.Join("c"))
}

func TestIsPrefixOf(t *testing.T) {
	root := MustParse("axiom://resources/a")
	child := MustParse("axiom://resources/a/b")
	other := MustParse("axiom://user/a/b")
	assert.True(t, root.IsPrefixOf(child))
	assert.True(t, root.IsPrefixOf(root))
	assert.False(t, root.IsPrefixOf(other))
}
