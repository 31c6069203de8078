package scopedfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/axiomuri"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	root := t.TempDir()
	fs, err := New(root)
	require.NoError(t, err)
	return fs
}

func TestWriteReadRoundtrip(t *testing.T) {
	fs := newTestFS(t)
	u := axiomuri.MustParse("axiom://resources/docs/a.md")
	require.NoError(t, fs.Write(u, []byte("hello"), false))
	got, err := fs.Read(u)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestWriteAtomicLeavesNoTempOnSuccess(t *testing.T) {
	fs := newTestFS(t)
	u := axiomuri.MustParse("axiom://resources/docs/b.md")
	require.NoError(t, fs.WriteAtomic(u, []byte("atomic"), false))
	entries, err := os.ReadDir(filepath.Join(fs.Root, "resources", "docs"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "b.md", entries[0].Name())
}

func TestQueueScopeReadOnly(t *testing.T) {
	fs := newTestFS(t)
	u := axiomuri.MustParse("axiom://queue/traces/x.json")
	err := fs.Write(u, []byte("x"), false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NoError(t, fs.Write(u, []byte("x"), true))
}

func TestMvCrossScopeRejected(t *testing.T) {
	fs := newTestFS(t)
	src := axiomuri.MustParse("axiom://resources/a.md")
	require.NoError(t, fs.Write(src, []byte("x"), false))
	dst := axiomuri.MustParse("axiom://user/a.md")
	err := fs.Mv(src, dst, false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSecurityViolationEscapingRoot(t *testing.T) {
	fs := newTestFS(t)
	outside := filepath.Join(fs.Root, "..", "escaped")
	_, err := fs.resolve(outside)
	assert.ErrorIs(t, err, ErrSecurityViolation)
}

func TestRmPrefix(t *testing.T) {
	fs := newTestFS(t)
	require.NoError(t, fs.Write(axiomuri.MustParse("axiom://resources/dir/a.md"), []byte("a"), false))
	require.NoError(t, fs.Write(axiomuri.MustParse("axiom://resources/dir/b.md"), []byte("b"), false))
	require.NoError(t, fs.Rm(axiomuri.MustParse("axiom://resources/dir"), false))
	_, err := os.Stat(filepath.Join(fs.Root, "resources", "dir"))
	assert.True(t, os.IsNotExist(err))
}
