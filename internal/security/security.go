// Package security holds the path containment and filename checks applied
// to every file plannotator reads or writes on behalf of the browser.
// Only ValidatePath touches the filesystem, to evaluate symlinks.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	ErrPathTraversal       = errors.New("path escapes allowed directories")
	ErrExtensionNotAllowed = errors.New("file extension not allowed")
)

// UnnamedFile is returned by SanitizeFilename when nothing survives.
const UnnamedFile = "unnamed"

var imageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"webp": {},
	"svg":  {},
	"bmp":  {},
	"ico":  {},
}

// ValidatePath resolves requested to an absolute path and returns it if it
// equals one of allowedBases or lies beneath one of them. Containment is
// checked per path segment, so base /a/b does not admit /a/bc. When the path
// exists its symlinks are evaluated and the real location must be contained
// too, so a link inside a base cannot expose a file outside every base.
func ValidatePath(requested string, allowedBases []string) (string, error) {
	resolved, err := filepath.Abs(requested)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", requested, err)
	}

	if !within(resolved, allowedBases, false) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, requested)
	}

	existing, linked, ok := evalExisting(resolved)
	if !ok {
		return resolved, nil
	}
	if linked != existing && !within(linked, allowedBases, true) {
		return "", fmt.Errorf("%w: %s links outside allowed directories", ErrPathTraversal, requested)
	}
	return resolved, nil
}

// evalExisting evaluates symlinks on path, or on its nearest existing
// ancestor when path is not on disk yet.
func evalExisting(path string) (existing, linked string, ok bool) {
	for p := path; ; {
		if l, err := filepath.EvalSymlinks(p); err == nil {
			return p, l, true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", "", false
		}
		p = parent
	}
}

func within(target string, bases []string, evalBases bool) bool {
	for _, base := range bases {
		if base == "" {
			continue
		}
		absBase, err := filepath.Abs(base)
		if err != nil {
			continue
		}
		if evalBases {
			if realBase, err := filepath.EvalSymlinks(absBase); err == nil {
				absBase = realBase
			}
		}
		if Contains(absBase, target) {
			return true
		}
	}
	return false
}

// Contains reports whether target is base itself or inside it. Both paths
// must already be absolute and clean.
func Contains(base, target string) bool {
	if target == base {
		return true
	}
	prefix := base
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(target, prefix)
}

// SanitizeFilename strips everything that could make name act as a path or
// upset a filesystem: separators, "..", control characters and <>:"|?*.
// Leading and trailing whitespace and dots are trimmed. The result is never
// empty and SanitizeFilename(SanitizeFilename(x)) == SanitizeFilename(x).
func SanitizeFilename(name string) string {
	for {
		next := sanitizeOnce(name)
		if next == name {
			break
		}
		name = next
	}
	if name == "" {
		return UnnamedFile
	}
	return name
}

func sanitizeOnce(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return -1
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return -1
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "..", "")
	return strings.TrimFunc(name, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
}

// IsAllowedImageExtension reports whether name ends in one of the image
// extensions the UI may embed. The comparison ignores case.
func IsAllowedImageExtension(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	_, ok := imageExtensions[strings.ToLower(ext)]
	return ok
}

// ValidateImagePath applies ValidatePath and then the image extension
// allow-list.
func ValidateImagePath(path string, allowedBases []string) (string, error) {
	resolved, err := ValidatePath(path, allowedBases)
	if err != nil {
		return "", err
	}
	if !IsAllowedImageExtension(resolved) {
		return "", fmt.Errorf("%w: %s", ErrExtensionNotAllowed, filepath.Ext(resolved))
	}
	return resolved, nil
}
