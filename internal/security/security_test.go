package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	base := t.TempDir()
	other := t.TempDir()

	tests := []struct {
		name      string
		requested string
		bases     []string
		wantErr   bool
	}{
		{"base itself", base, []string{base}, false},
		{"child", filepath.Join(base, "a", "b.md"), []string{base}, false},
		{"second base", filepath.Join(other, "x.png"), []string{base, other}, false},
		{"sibling sharing prefix", base + "c", []string{base}, true},
		{"sibling file sharing prefix", base + "foo/x.md", []string{base}, true},
		{"parent", filepath.Dir(base), []string{base}, true},
		{"dot-dot escape", filepath.Join(base, "..", "etc", "passwd"), []string{base}, true},
		{"no bases", base, nil, true},
		{"empty base skipped", base, []string{"", base}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.requested, tt.bases)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrPathTraversal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Clean(tt.requested), got)
		})
	}
}

func TestValidatePath_RootBase(t *testing.T) {
	got, err := ValidatePath("/tmp/whatever", []string{"/"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/whatever", got)
}

func TestValidatePath_Symlinks(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.md"), []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "real.md"), []byte("r"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.md"), filepath.Join(base, "leak.md")))
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "out")))
	require.NoError(t, os.Symlink(filepath.Join(base, "real.md"), filepath.Join(base, "alias.md")))

	_, err := ValidatePath(filepath.Join(base, "leak.md"), []string{base})
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidatePath(filepath.Join(base, "out", "secret.md"), []string{base})
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidatePath(filepath.Join(base, "out", "missing.md"), []string{base})
	assert.ErrorIs(t, err, ErrPathTraversal)

	got, err := ValidatePath(filepath.Join(base, "new", "draft.md"), []string{base})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "new", "draft.md"), got)

	got, err = ValidatePath(filepath.Join(base, "alias.md"), []string{base})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "alias.md"), got)

	// A link out of one base into another allowed base is fine.
	got, err = ValidatePath(filepath.Join(base, "leak.md"), []string{base, outside})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "leak.md"), got)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("/a/b", "/a/b"))
	assert.True(t, Contains("/a/b", "/a/b/c"))
	assert.False(t, Contains("/a/b", "/a/bc"))
	assert.False(t, Contains("/a/b", "/a"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"image.png", "image.png"},
		{"../../etc/passwd", "etcpasswd"},
		{`..\..\windows\system32`, "windowssystem32"},
		{"a<b>c:d\"e|f?g*h", "abcdefgh"},
		{"  spaced name.txt  ", "spaced name.txt"},
		{"...hidden...", "hidden"},
		{"tab\tand\nnewline", "tabandnewline"},
		{"", UnnamedFile},
		{"..", UnnamedFile},
		{"/////", UnnamedFile},
		{". . .", UnnamedFile},
		{"a.../.b", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_Idempotent(t *testing.T) {
	inputs := []string{
		"normal.md",
		"....//..//x",
		". .. . ..a",
		"a. .b",
		"x/./../y",
		" \x00\x1f..name..\x7f ",
		"résumé?.pdf",
		"..\\..\\",
		"a. ..",
	}

	for _, in := range inputs {
		once := SanitizeFilename(in)
		twice := SanitizeFilename(once)
		assert.Equal(t, once, twice, "not idempotent for %q", in)
		assert.NotEmpty(t, once)
		assert.False(t, strings.ContainsAny(once, `/\`), "separator left in %q", once)
		assert.NotContains(t, once, "..")
	}
}

func TestIsAllowedImageExtension(t *testing.T) {
	for _, name := range []string{"a.png", "b.JPG", "c.jpeg", "d.gif", "e.webp", "f.SVG", "g.bmp", "h.ico"} {
		assert.True(t, IsAllowedImageExtension(name), name)
	}
	for _, name := range []string{"a.exe", "b", "c.png.exe", "d.tiff", ".png.sh"} {
		assert.False(t, IsAllowedImageExtension(name), name)
	}
}

func TestValidateImagePath(t *testing.T) {
	base := t.TempDir()

	got, err := ValidateImagePath(filepath.Join(base, "shot.PNG"), []string{base})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "shot.PNG"), got)

	_, err = ValidateImagePath(filepath.Join(base, "notes.md"), []string{base})
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)

	_, err = ValidateImagePath(filepath.Join(base+"x", "shot.png"), []string{base})
	assert.ErrorIs(t, err, ErrPathTraversal)
}
