// Package diff produces the git diffs presented in review mode and the
// repository details shown alongside any document.
package diff

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/go-git/go-git/v5"

	"github.com/dgrissen2/plannotator-ext/internal/model"
)

// File is one file touched by a diff.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s → %s", f.OldName, f.NewName)
	}
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
	Raw   string
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Parse reads a unified diff string and returns a DiffSet.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}
		for _, frag := range f.TextFragments {
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}
		ds.Files = append(ds.Files, df)
	}

	return ds, nil
}

// Git runs git commands in a directory.
type Git struct {
	Path string // git binary, "git" when empty
	Dir  string
}

func (g Git) run(ctx context.Context, args ...string) (string, error) {
	bin := g.Path
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = g.Dir
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

// Root returns the top level of the repository containing Dir.
func (g Git) Root(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WorkingTree returns uncommitted changes (staged and unstaged) against HEAD.
func (g Git) WorkingTree(ctx context.Context, contextLines int) (string, error) {
	return g.run(ctx, "diff", fmt.Sprintf("-U%d", contextLines), "HEAD")
}

// Range returns the diff for a commit range like "main...HEAD".
func (g Git) Range(ctx context.Context, commitRange string, contextLines int) (string, error) {
	return g.run(ctx, "diff", fmt.Sprintf("-U%d", contextLines), commitRange)
}

// RepoInfo describes the repository containing Dir. It returns nil when
// Dir is not inside a git checkout. The lookup reads .git directly and does
// not need a git binary.
func (g Git) RepoInfo(ctx context.Context) *model.RepoInfo {
	if ctx.Err() != nil {
		return nil
	}
	repo, err := git.PlainOpenWithOptions(g.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil
	}

	info := &model.RepoInfo{Root: wt.Filesystem.Root()}
	// An unborn or detached HEAD leaves Branch empty.
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info
}

// WithStats fills the diff statistics of ds into info.
func WithStats(info *model.RepoInfo, ds *DiffSet) *model.RepoInfo {
	if info == nil || ds == nil {
		return info
	}
	info.Files, info.Added, info.Deleted = ds.Stats()
	return info
}
