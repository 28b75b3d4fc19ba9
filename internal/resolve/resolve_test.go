package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgrissen2/plannotator-ext/internal/security"
)

// project builds a tree under a temp root and returns the root.
func project(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func newResolver(t *testing.T, baseDir, root string) *Resolver {
	t.Helper()
	r, err := New(baseDir, root)
	require.NoError(t, err)
	return r
}

func TestResolve_AmbiguousBareFilename(t *testing.T) {
	root := project(t, map[string]string{
		"a/x.md": "a",
		"b/x.md": "b",
	})
	r := newResolver(t, root, root)

	_, err := r.Resolve(context.Background(), "x.md")
	require.ErrorIs(t, err, ErrAmbiguousFilename)

	var ae *AmbiguousError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"a/x.md", "b/x.md"}, ae.Matches)

	got, err := r.Resolve(context.Background(), "a/x.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "x.md"), got)
}

func TestResolve_Strategies(t *testing.T) {
	root := project(t, map[string]string{
		"plans/plan.md":         "main",
		"plans/sibling.md":      "sibling",
		"docs/arch.md":          "arch",
		"deep/nested/only.md":   "only",
		"node_modules/x/dep.md": "dep",
		".git/info.md":          "git",
	})
	baseDir := filepath.Join(root, "plans")
	r := newResolver(t, baseDir, root)
	ctx := context.Background()

	tests := []struct {
		name    string
		request string
		want    string
		wantErr error
	}{
		{"absolute", filepath.Join(root, "docs", "arch.md"), filepath.Join(root, "docs", "arch.md"), nil},
		{"relative to base dir", "sibling.md", filepath.Join(baseDir, "sibling.md"), nil},
		{"relative to project root", "docs/arch.md", filepath.Join(root, "docs", "arch.md"), nil},
		{"bare filename search", "only.md", filepath.Join(root, "deep", "nested", "only.md"), nil},
		{"skipped dirs are not searched", "dep.md", "", ErrFileNotFound},
		{"git dir not searched", "info.md", "", ErrFileNotFound},
		{"missing bare filename", "nope.md", "", ErrFileNotFound},
		{"missing relative path", "docs/nope.md", "", ErrFileNotFound},
		{"missing absolute", filepath.Join(root, "nope.md"), "", ErrFileNotFound},
		{"empty", "", "", ErrFileNotFound},
		{"directory is not a document", "docs", "", ErrFileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.request)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_BaseDirWinsOverProjectRoot(t *testing.T) {
	root := project(t, map[string]string{
		"notes.md":       "root",
		"plans/notes.md": "plans",
	})
	r := newResolver(t, filepath.Join(root, "plans"), root)

	doc, err := r.Read(context.Background(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "plans", doc.Content)
	assert.True(t, doc.ReadOnly)
}

func TestResolve_ContainmentEnforced(t *testing.T) {
	outside := project(t, map[string]string{"secret.md": "secret"})
	root := project(t, map[string]string{"plan.md": "plan"})
	r := newResolver(t, root, root)
	ctx := context.Background()

	_, err := r.Resolve(ctx, filepath.Join(outside, "secret.md"))
	assert.ErrorIs(t, err, security.ErrPathTraversal)

	rel, err := filepath.Rel(root, filepath.Join(outside, "secret.md"))
	require.NoError(t, err)
	_, err = r.Resolve(ctx, rel)
	assert.ErrorIs(t, err, security.ErrPathTraversal)
}

func TestResolve_SymlinkOutOfRootRejected(t *testing.T) {
	outside := project(t, map[string]string{"secret.md": "secret"})
	root := project(t, map[string]string{"plan.md": "plan"})
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.md"), filepath.Join(root, "link.md")))
	r := newResolver(t, root, root)

	_, err := r.Read(context.Background(), "link.md")
	assert.ErrorIs(t, err, security.ErrPathTraversal)
}

func TestResolve_GlobMetacharactersAreLiteral(t *testing.T) {
	root := project(t, map[string]string{
		"a/[draft].md": "draft",
		"b/d.md":       "d",
	})
	r := newResolver(t, root, root)

	got, err := r.Resolve(context.Background(), "[draft].md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "[draft].md"), got)

	_, err = r.Resolve(context.Background(), "*.md")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestResolve_CancelledContext(t *testing.T) {
	root := project(t, map[string]string{"a/x.md": "a"})
	r := newResolver(t, root, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, "x.md")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_SearchDoesNotFollowSymlinks(t *testing.T) {
	root := project(t, map[string]string{
		"docs/x.md":              "x",
		"node_modules/pkg/x.md":  "dep",
		"vendor/.git/x.md":       "git",
		"docs/nested/readme.txt": "r",
	})
	// A directory loop back to the root and a second name for the same file.
	require.NoError(t, os.Symlink("..", filepath.Join(root, "docs", "up")))
	require.NoError(t, os.Symlink(filepath.Join(root, "docs"), filepath.Join(root, "alias")))
	r := newResolver(t, root, root)

	got, err := r.Resolve(context.Background(), "x.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs", "x.md"), got)
}

func TestResolve_SearchHonoursContext(t *testing.T) {
	root := project(t, map[string]string{"a/x.md": "a", "b/y.md": "b"})
	r := newResolver(t, root, root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.search(ctx, "x.md")
	assert.ErrorIs(t, err, context.Canceled)
}
