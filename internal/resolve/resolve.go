// Package resolve maps the document paths the UI asks for onto files on
// disk, trying the reviewed document's directory, the project root and
// finally a project-wide filename search.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dgrissen2/plannotator-ext/internal/security"
)

var (
	ErrFileNotFound      = errors.New("file not found")
	ErrAmbiguousFilename = errors.New("ambiguous filename")
)

// AmbiguousError lists every file a bare filename matched, relative to the
// project root.
type AmbiguousError struct {
	Request string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous filename %q: %d matches (%s)", e.Request, len(e.Matches), strings.Join(e.Matches, ", "))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguousFilename }

// skipDirs are never descended into by the filename search.
var skipDirs = []string{".git", "node_modules"}

// Resolver resolves linked document requests for one session.
type Resolver struct {
	BaseDir     string
	ProjectRoot string
}

// New returns a Resolver with absolute, cleaned directories.
func New(baseDir, projectRoot string) (*Resolver, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	return &Resolver{BaseDir: base, ProjectRoot: root}, nil
}

// Document is a resolved linked document. Linked documents are always
// served read-only.
type Document struct {
	Path     string
	Content  string
	ReadOnly bool
}

// Resolve returns the real path for request. Strategies run in order and
// the first hit wins:
//
//  1. an absolute path that exists
//  2. request relative to BaseDir
//  3. request relative to ProjectRoot
//  4. for a bare filename, a unique match anywhere under ProjectRoot
//
// Whatever is chosen must lie within BaseDir or ProjectRoot.
func (r *Resolver) Resolve(ctx context.Context, request string) (string, error) {
	if request == "" {
		return "", fmt.Errorf("%w: empty path", ErrFileNotFound)
	}

	chosen, err := r.choose(ctx, request)
	if err != nil {
		return "", err
	}

	return security.ValidatePath(chosen, r.allowedBases())
}

// Read resolves request and loads the file.
func (r *Resolver) Read(ctx context.Context, request string) (Document, error) {
	path, err := r.Resolve(ctx, request)
	if err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, fmt.Errorf("%w: %s", ErrFileNotFound, request)
		}
		return Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{Path: path, Content: string(data), ReadOnly: true}, nil
}

func (r *Resolver) allowedBases() []string {
	return []string{r.BaseDir, r.ProjectRoot}
}

func (r *Resolver) choose(ctx context.Context, request string) (string, error) {
	if filepath.IsAbs(request) {
		if isFile(request) {
			return request, nil
		}
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, request)
	}

	for _, dir := range []string{r.BaseDir, r.ProjectRoot} {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := filepath.Join(dir, request)
		if isFile(candidate) {
			return candidate, nil
		}
	}

	if strings.ContainsAny(request, `/\`) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, request)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	matches, err := r.search(ctx, request)
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, request)
	case 1:
		return filepath.Join(r.ProjectRoot, filepath.FromSlash(matches[0])), nil
	default:
		return "", &AmbiguousError{Request: request, Matches: matches}
	}
}

// search finds regular files under ProjectRoot whose last path segment
// equals name. Symlinks are not followed and skipDirs are pruned, so each
// file is reported once. Results are slash-separated, relative to
// ProjectRoot and sorted.
func (r *Resolver) search(ctx context.Context, name string) ([]string, error) {
	pattern := "**/" + escapeMeta(name)

	var matches []string
	err := fs.WalkDir(os.DirFS(r.ProjectRoot), ".", func(rel string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			// Unreadable subtrees are not fatal to the search.
			if rel == "." {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if rel != "." && slices.Contains(skipDirs, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() != name {
			return nil
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	slices.Sort(matches)
	return matches, nil
}

// escapeMeta quotes glob metacharacters so name only matches itself.
func escapeMeta(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`*?[]{}\`, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
