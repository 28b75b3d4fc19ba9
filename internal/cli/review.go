package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgrissen2/plannotator-ext/internal/api"
	"github.com/dgrissen2/plannotator-ext/internal/diff"
	"github.com/dgrissen2/plannotator-ext/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review [commit-range]",
	Short: "Review code changes in the browser",
	Long: `Open a git diff for review. By default, reviews uncommitted changes
against HEAD. Optionally specify a commit range.

Examples:
  plannotator review                     # working tree vs HEAD
  plannotator review HEAD~1..HEAD        # last commit
  plannotator review main...HEAD         # branch vs main
  git diff | plannotator review -        # pipe any diff`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().IntP("context", "C", 3, "lines of context around changes")
	reviewCmd.Flags().Bool("stat", false, "print diff stats and exit (non-interactive)")
	reviewCmd.Flags().Bool("json", false, "print the full decision, including any agent switch, as JSON")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	contextLines, _ := cmd.Flags().GetInt("context")

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	git := diff.Git{Dir: cwd}

	raw, err := getDiff(ctx, cmd.InOrStdin(), git, args, contextLines)
	if err != nil {
		return err
	}

	ds, err := diff.Parse(raw)
	if err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" || len(ds.Files) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No changes to review.")
		return nil
	}

	if stat, _ := cmd.Flags().GetBool("stat"); stat {
		return printStat(cmd.OutOrStdout(), ds)
	}

	root, info := projectRoot(ctx, cwd)
	sess := api.NewSession(model.ModeReview, "", raw, root)
	sess.RepoInfo = diff.WithStats(info, ds)

	d, err := app.runSession(ctx, sess, nil)
	if err != nil {
		return err
	}
	return printDecision(cmd, d)
}

func getDiff(ctx context.Context, stdin io.Reader, git diff.Git, args []string, contextLines int) (string, error) {
	// Read from stdin if "-" is passed
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}

	if _, err := git.Root(ctx); err != nil {
		return "", fmt.Errorf("not in a git repository (or git not installed): %w", err)
	}

	if len(args) == 1 {
		return git.Range(ctx, args[0], contextLines)
	}
	return git.WorkingTree(ctx, contextLines)
}

func printStat(w io.Writer, ds *diff.DiffSet) error {
	files, added, deleted := ds.Stats()
	fmt.Fprintf(w, "%d file(s) changed, %d insertions(+), %d deletions(-)\n\n", files, added, deleted)
	for _, f := range ds.Files {
		status := "M"
		if f.IsNew {
			status = "A"
		} else if f.IsDeleted {
			status = "D"
		} else if f.IsRenamed {
			status = "R"
		}
		fmt.Fprintf(w, "  %s %-50s +%-4d -%d\n", status, f.Name(), f.AddedLines, f.DeletedLines)
	}
	return nil
}
