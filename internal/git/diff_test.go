package git

import (
	"context"
	"strings"
	"testing"

	"github.com/thiagokokada/gitpatcher-go/internal/gittest"
)

func TestTreeDiff(t *testing.T) {
	t.Parallel()

	tr := gittest.Init(t)
	tr.Commit("base", map[string]*string{
		"a.txt":    gittest.S("one\ntwo\n"),
		"gone.txt": gittest.S("bye\n"),
	})
	tr.Commit("change", map[string]*string{
		"a.txt":    gittest.S("one\nthree\n"),
		"b.txt":    gittest.S("new\n"),
		"gone.txt": nil,
	})

	repo, err := Open(tr.Dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng, err := repo.ResolveRange(context.Background(), "HEAD~1")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	out, err := repo.TreeDiff(context.Background(), rng.Base, rng.Commits[0])
	if err != nil {
		t.Fatalf("TreeDiff: %v", err)
	}
	text := string(out)
	for _, want := range []string{
		"diff --git a/a.txt b/a.txt\n",
		"-two\n",
		"+three\n",
		"diff --git a/b.txt b/b.txt\nnew file mode 100644\n",
		"diff --git a/gone.txt b/gone.txt\ndeleted file mode 100644\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in diff:\n%s", want, text)
		}
	}
	if strings.Index(text, "a/a.txt") > strings.Index(text, "a/b.txt") ||
		strings.Index(text, "a/b.txt") > strings.Index(text, "a/gone.txt") {
		t.Fatalf("expected files in path order:\n%s", text)
	}
}

func TestTreeDiff_EmptyCommit(t *testing.T) {
	t.Parallel()

	tr := gittest.Init(t)
	tr.Commit("base", map[string]*string{"a.txt": gittest.S("one\n")})
	tr.Commit("empty", nil)

	repo, err := Open(tr.Dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng, err := repo.ResolveRange(context.Background(), "HEAD~1")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	out, err := repo.TreeDiff(context.Background(), rng.Base, rng.Commits[0])
	if err != nil {
		t.Fatalf("TreeDiff: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty diff, got %q", out)
	}
}
