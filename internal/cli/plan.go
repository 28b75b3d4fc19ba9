package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgrissen2/plannotator-ext/internal/api"
	"github.com/dgrissen2/plannotator-ext/internal/diff"
	"github.com/dgrissen2/plannotator-ext/internal/model"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Review a plan submitted by an agent hook",
	Long: `Read a plan from stdin, open it for review and print the hook
response for the calling agent.

stdin is either a permission-request hook event carrying the plan in
tool_input.plan, or the plan markdown itself.

Examples:
  plannotator plan < event.json
  cat plan.md | plannotator plan`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().String("origin", "claude-code", "agent that submitted the plan")
}

// hookEvent is the subset of a permission-request hook payload we read.
type hookEvent struct {
	ToolInput struct {
		Plan string `json:"plan"`
	} `json:"tool_input"`
	Cwd string `json:"cwd"`
}

type hookDecision struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message,omitempty"`
}

type hookOutput struct {
	HookEventName string       `json:"hookEventName"`
	Decision      hookDecision `json:"decision"`
}

type hookResponse struct {
	HookSpecificOutput hookOutput `json:"hookSpecificOutput"`
}

var errNoPlan = errors.New("no plan on stdin")

// readPlan extracts the plan and the agent's working directory from r.
func readPlan(r io.Reader) (plan, cwd string, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", "", fmt.Errorf("reading stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", errNoPlan
	}

	var ev hookEvent
	if err := json.Unmarshal(data, &ev); err == nil {
		if strings.TrimSpace(ev.ToolInput.Plan) == "" {
			return "", "", errNoPlan
		}
		return ev.ToolInput.Plan, ev.Cwd, nil
	}
	return string(data), "", nil
}

// hookResponseFor maps d onto the PermissionRequest hook reply. The hook
// schema has no slot for an agent switch, so AgentSwitch is only logged.
func hookResponseFor(d model.Decision) hookResponse {
	dec := hookDecision{Behavior: "allow"}
	if !d.Approved {
		dec = hookDecision{Behavior: "deny", Message: d.Feedback}
	}
	return hookResponse{HookSpecificOutput: hookOutput{
		HookEventName: "PermissionRequest",
		Decision:      dec,
	}}
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, cwd, err := readPlan(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	root, info := projectRoot(ctx, cwd)

	sess := api.NewSession(model.ModePlan, "", plan, root)
	sess.Origin, _ = cmd.Flags().GetString("origin")
	sess.RepoInfo = info

	rec := app.archive(plan)
	d, err := app.runSession(ctx, sess, rec)
	if err != nil {
		return err
	}
	app.finalize(rec, plan, d)

	return json.NewEncoder(cmd.OutOrStdout()).Encode(hookResponseFor(d))
}

// projectRoot returns the git checkout containing dir, or dir itself.
func projectRoot(ctx context.Context, dir string) (string, *model.RepoInfo) {
	info := diff.Git{Dir: dir}.RepoInfo(ctx)
	if info == nil {
		return dir, nil
	}
	return info.Root, info
}
