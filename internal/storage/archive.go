// Package storage keeps the on-disk record of review sessions: the plan
// as submitted, the reviewer's annotations, and the final snapshot.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dgrissen2/plannotator-ext/internal/fsutil"
	"github.com/dgrissen2/plannotator-ext/internal/model"
	"github.com/dgrissen2/plannotator-ext/internal/slug"
)

// Archive writes session artifacts into Dir.
type Archive struct {
	Dir    string
	Writer *fsutil.Writer
	Slugs  slug.Allocator
	Logger zerolog.Logger
}

// New returns an Archive rooted at dir. Artifacts are readable only by the
// owner.
func New(dir string, logger zerolog.Logger) *Archive {
	w := fsutil.NewWriter(0o600, logger)
	w.DirPerm = 0o700
	return &Archive{
		Dir:    dir,
		Writer: w,
		Logger: logger,
	}
}

// Record is one session's set of artifacts. All of them share Slug.
type Record struct {
	Slug    string
	archive *Archive
}

// Begin allocates a slug for content and stores it as {slug}.md.
func (a *Archive) Begin(content string) (*Record, error) {
	s := a.Slugs.Unique(content, a.Dir)
	rec := &Record{Slug: s, archive: a}
	if _, err := a.Writer.Write(rec.PlanPath(), []byte(content)); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	a.Logger.Debug().Str("slug", s).Str("dir", a.Dir).Msg("plan archived")
	return rec, nil
}

// PlanPath is {dir}/{slug}.md.
func (r *Record) PlanPath() string {
	return filepath.Join(r.archive.Dir, r.Slug+".md")
}

// AnnotationsPath is {dir}/{slug}.diff.md.
func (r *Record) AnnotationsPath() string {
	return filepath.Join(r.archive.Dir, r.Slug+".diff.md")
}

// FinalPath is {dir}/{slug}-approved.md or {dir}/{slug}-denied.md.
func (r *Record) FinalPath(approved bool) string {
	suffix := "-denied.md"
	if approved {
		suffix = "-approved.md"
	}
	return filepath.Join(r.archive.Dir, r.Slug+suffix)
}

// SaveAnnotations replaces {slug}.diff.md with text.
func (r *Record) SaveAnnotations(text string) (string, error) {
	path, err := r.archive.Writer.Write(r.AnnotationsPath(), []byte(text))
	if err != nil {
		return "", fmt.Errorf("save annotations: %w", err)
	}
	return path, nil
}

// Finalize stores the decision. A denial writes both the feedback to
// {slug}.diff.md and the snapshot; an approval writes only the snapshot.
func (r *Record) Finalize(content string, d model.Decision) ([]string, error) {
	writes := []fsutil.FileWrite{
		{Path: r.FinalPath(d.Approved), Data: []byte(Snapshot(content, d))},
	}
	if !d.Approved {
		writes = append([]fsutil.FileWrite{
			{Path: r.AnnotationsPath(), Data: []byte(d.Feedback)},
		}, writes...)
	}

	paths, err := r.archive.Writer.WriteAll(writes)
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", r.Slug, err)
	}
	r.archive.Logger.Info().
		Str("slug", r.Slug).
		Bool("approved", d.Approved).
		Strs("paths", paths).
		Msg("review archived")
	return paths, nil
}

// Snapshot renders the final document: the plan, followed by the
// reviewer's feedback when changes were requested.
func Snapshot(content string, d model.Decision) string {
	if d.Approved {
		return content
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(content, "\n"))
	sb.WriteString("\n\n---\n\n## Review Feedback\n\n")
	sb.WriteString(d.Feedback)
	sb.WriteString("\n")
	return sb.String()
}
