// Package scopedfs implements root-jailed filesystem I/O beneath a single
// workspace root, addressed through axiom:// URIs. Every operation
// canonicalizes the nearest existing ancestor of its target path and
// refuses to proceed if that ancestor escapes the root.
package scopedfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/axiomme/axiomme/internal/axiomuri"
	"github.com/axiomme/axiomme/pkg/types"
)

// ErrSecurityViolation is returned whenever a resolved path would escape
// the workspace root, including via symlinks.
var ErrSecurityViolation = errors.New("security violation")

// ErrPermissionDenied is returned for scope-policy violations (queue scope
// writes by non-system callers, cross-scope moves).
var ErrPermissionDenied = errors.New("permission denied")

// FS is a root-jailed filesystem rooted at Root.
type FS struct {
	Root string
}

// New canonicalizes root and returns an FS rooted there. root must already
// exist.
func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize root: %w", err)
	}
	return &FS{Root: real}, nil
}

// ResolveURI maps an axiom:// URI to an absolute path under Root, without
// touching the filesystem.
func (f *FS) ResolveURI(u axiomuri.URI) string {
	parts := append([]string{f.Root, string(u.Scope)}, u.Segments...)
	return filepath.Join(parts...)
}

// resolve canonicalizes the nearest existing ancestor of path and verifies
// it (and, if path itself exists, path's own canonical form) lies inside
// Root. Per 4.A: same check applies to the final path if it exists.
func (f *FS) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	cur := abs
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			if !f.withinRoot(real) {
				return "", fmt.Errorf("%w: %q escapes root %q", ErrSecurityViolation, path, f.Root)
			}
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("canonicalize %q: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("%w: no existing ancestor for %q", ErrSecurityViolation, path)
		}
		cur = parent
	}

	if !f.withinRoot(abs) {
		return "", fmt.Errorf("%w: %q escapes root %q", ErrSecurityViolation, path, f.Root)
	}
	return abs, nil
}

func (f *FS) withinRoot(p string) bool {
	rel, err := filepath.Rel(f.Root, p)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// checkScopeWrite enforces that queue scope is read-only for non-system
// callers.
func checkScopeWrite(u axiomuri.URI, isSystem bool) error {
	if u.Scope == types.ScopeQueue && !isSystem {
		return fmt.Errorf("%w: queue scope is read-only", ErrPermissionDenied)
	}
	return nil
}

// Read returns the contents addressed by u.
func (f *FS) Read(u axiomuri.URI) ([]byte, error) {
	path, err := f.resolve(f.ResolveURI(u))
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Write truncates and writes data to the path addressed by u. Non-atomic;
// prefer WriteAtomic for anything that must never be observed partially
// written.
func (f *FS) Write(u axiomuri.URI, data []byte, isSystem bool) error {
	if err := checkScopeWrite(u, isSystem); err != nil {
		return err
	}
	target := f.ResolveURI(u)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	path, err := f.resolveForWrite(target)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// resolveForWrite resolves the parent (which must exist) and appends the
// final element without requiring the final element itself to exist yet.
func (f *FS) resolveForWrite(target string) (string, error) {
	parent, err := f.resolve(filepath.Dir(target))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(target)), nil
}

// WriteAtomic implements 4.A's atomic write contract: write to
// .<name>.tmp.<uuid> in the same directory, fsync the file, rename onto
// the target, fsync the parent directory. The temp file is removed on any
// failure before rename.
func (f *FS) WriteAtomic(u axiomuri.URI, data []byte, isSystem bool) error {
	if err := checkScopeWrite(u, isSystem); err != nil {
		return err
	}
	target := f.ResolveURI(u)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	resolvedDir, err := f.resolve(dir)
	if err != nil {
		return err
	}
	tmpName := fmt.Sprintf(".%s.tmp.%s", filepath.Base(target), uuid.NewString())
	tmpPath := filepath.Join(resolvedDir, tmpName)
	finalPath := filepath.Join(resolvedDir, filepath.Base(target))

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	if dirHandle, err := os.Open(resolvedDir); err == nil {
		dirHandle.Sync()
		dirHandle.Close()
	}
	return nil
}

// Append opens the path addressed by u for append, creating it (and its
// parent) if missing.
func (f *FS) Append(u axiomuri.URI, data []byte, isSystem bool) error {
	if err := checkScopeWrite(u, isSystem); err != nil {
		return err
	}
	target := f.ResolveURI(u)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	path, err := f.resolveForWrite(target)
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer fh.Close()
	_, err = fh.Write(data)
	return err
}

// List returns the immediate entry names under u.
func (f *FS) List(u axiomuri.URI) ([]string, error) {
	path, err := f.resolve(f.ResolveURI(u))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Glob matches pattern (a filepath.Match pattern applied to the final
// segment) against entries under u.
func (f *FS) Glob(u axiomuri.URI, pattern string) ([]string, error) {
	path, err := f.resolve(f.ResolveURI(u))
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(path, pattern))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Mkdir creates the directory addressed by u, including parents.
func (f *FS) Mkdir(u axiomuri.URI, isSystem bool) error {
	if err := checkScopeWrite(u, isSystem); err != nil {
		return err
	}
	parent, err := f.resolve(filepath.Dir(f.ResolveURI(u)))
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Join(parent, filepath.Base(f.ResolveURI(u))), 0o755)
}

// Rm removes the file or directory tree addressed by u.
func (f *FS) Rm(u axiomuri.URI, isSystem bool) error {
	if err := checkScopeWrite(u, isSystem); err != nil {
		return err
	}
	path, err := f.resolve(f.ResolveURI(u))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.RemoveAll(path)
}

// Mv moves src to dst. Cross-scope moves are rejected per 4.A.
func (f *FS) Mv(src, dst axiomuri.URI, isSystem bool) error {
	if src.Scope != dst.Scope {
		return fmt.Errorf("%w: move between scopes %q and %q", ErrPermissionDenied, src.Scope, dst.Scope)
	}
	if err := checkScopeWrite(src, isSystem); err != nil {
		return err
	}
	if err := checkScopeWrite(dst, isSystem); err != nil {
		return err
	}
	srcPath, err := f.resolve(f.ResolveURI(src))
	if err != nil {
		return err
	}
	dstTarget := f.ResolveURI(dst)
	if err := os.MkdirAll(filepath.Dir(dstTarget), 0o755); err != nil {
		return err
	}
	dstPath, err := f.resolveForWrite(dstTarget)
	if err != nil {
		return err
	}
	return os.Rename(srcPath, dstPath)
}

// TreeNode is one entry in a recursive directory listing.
type TreeNode struct {
	Name     string
	IsDir    bool
	Children []TreeNode
}

// Tree recursively walks u and returns its structure.
func (f *FS) Tree(u axiomuri.URI) (TreeNode, error) {
	path, err := f.resolve(f.ResolveURI(u))
	if err != nil {
		return TreeNode{}, err
	}
	return walkTree(path, u.Name())
}

func walkTree(path, name string) (TreeNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return TreeNode{}, err
	}
	node := TreeNode{Name: name, IsDir: info.IsDir()}
	if !info.IsDir() {
		return node, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return TreeNode{}, err
	}
	for _, e := range entries {
		child, err := walkTree(filepath.Join(path, e.Name()), e.Name())
		if err != nil {
			return TreeNode{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
