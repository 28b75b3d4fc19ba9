package diff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/dgrissen2/plannotator-ext/internal/model"
)

const sampleDiff = `diff --git a/hello.go b/hello.go
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/hello.go
@@ -0,0 +1,11 @@
+package main
+
+import "fmt"
+
+func main() {
+	fmt.Println("hello")
+}
+
+func add(a, b int) int {
+	return a + b
+}
diff --git a/readme.md b/readme.md
index abc1234..def5678 100644
--- a/readme.md
+++ b/readme.md
@@ -1,3 +1,4 @@
 # Project

-Old description
+New description
+Added line
`

func TestParse(t *testing.T) {
	ds, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(ds.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(ds.Files))
	}

	f0 := ds.Files[0]
	if !f0.IsNew {
		t.Error("expected hello.go to be new")
	}
	if f0.Name() != "hello.go" {
		t.Errorf("expected name 'hello.go', got %q", f0.Name())
	}
	if f0.AddedLines != 11 {
		t.Errorf("expected 11 added lines, got %d", f0.AddedLines)
	}

	f1 := ds.Files[1]
	if f1.Name() != "readme.md" {
		t.Errorf("expected name 'readme.md', got %q", f1.Name())
	}
	if f1.AddedLines != 2 {
		t.Errorf("expected 2 added lines, got %d", f1.AddedLines)
	}
	if f1.DeletedLines != 1 {
		t.Errorf("expected 1 deleted line, got %d", f1.DeletedLines)
	}

	files, added, deleted := ds.Stats()
	if files != 2 || added != 13 || deleted != 1 {
		t.Errorf("stats: got %d/%d/%d, want 2/13/1", files, added, deleted)
	}
}

func TestParseEmpty(t *testing.T) {
	ds, err := Parse("")
	if err != nil {
		t.Fatalf("Parse empty failed: %v", err)
	}
	if len(ds.Files) != 0 {
		t.Errorf("expected 0 files, got %d", len(ds.Files))
	}
}

func TestWithStats(t *testing.T) {
	ds, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	info := WithStats(&model.RepoInfo{Root: "/repo"}, ds)
	if info.Files != 2 || info.Added != 13 || info.Deleted != 1 {
		t.Errorf("got %+v", info)
	}

	if WithStats(nil, ds) != nil {
		t.Error("expected nil info to stay nil")
	}
}

func TestRepoInfoOutsideRepo(t *testing.T) {
	g := Git{Dir: t.TempDir()}
	if info := g.RepoInfo(context.Background()); info != nil {
		t.Errorf("expected nil repo info outside a checkout, got %+v", info)
	}
}

func TestRepoInfoInsideRepo(t *testing.T) {
	root := t.TempDir()
	repo, err := git.PlainInit(root, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "plan.md"), []byte("# Plan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("plan.md"); err != nil {
		t.Fatalf("add: %v", err)
	}
	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	sub := filepath.Join(root, "docs")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	info := Git{Dir: sub}.RepoInfo(context.Background())
	if info == nil {
		t.Fatal("expected repo info inside a checkout")
	}
	if info.Root != root {
		t.Errorf("root: got %q, want %q", info.Root, root)
	}
	if info.Branch != "master" {
		t.Errorf("branch: got %q, want %q", info.Branch, "master")
	}
}
