package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgrissen2/plannotator-ext/internal/api"
	"github.com/dgrissen2/plannotator-ext/internal/model"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <file>",
	Short: "Annotate a markdown file",
	Long: `Open a markdown file for annotation and print the reviewer's
feedback. Links to other documents in the project can be opened read-only
from the review page.

Examples:
  plannotator annotate docs/design.md`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().Bool("json", false, "print the full decision, including any agent switch, as JSON")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	root, info := projectRoot(ctx, filepath.Dir(path))

	sess := api.NewSession(model.ModeAnnotate, path, string(data), root)
	sess.RepoInfo = info

	d, err := app.runSession(ctx, sess, nil)
	if err != nil {
		return err
	}
	return printDecision(cmd, d)
}

// printDecision writes d as JSON when --json is set and as plain feedback
// otherwise.
func printDecision(cmd *cobra.Command, d model.Decision) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if d.Approved && d.Feedback == "" {
			d.Feedback = model.ApprovedFeedback
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(d)
	}
	return printFeedback(cmd.OutOrStdout(), d)
}

// printFeedback writes the text the agent acts on.
func printFeedback(w io.Writer, d model.Decision) error {
	text := d.Feedback
	if d.Approved && text == "" {
		text = model.ApprovedFeedback
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
