package git

import (
	"context"
	"errors"
	"testing"

	"github.com/thiagokokada/gitpatcher-go/internal/gittest"
)

func TestResolveRange_Linear(t *testing.T) {
	t.Parallel()

	tr := gittest.Init(t)
	base := tr.Commit("upstream", map[string]*string{"a.txt": gittest.S("a\n")})
	tr.Tag("v1", base)
	first := tr.Commit("first", map[string]*string{"a.txt": gittest.S("b\n")})
	second := tr.Commit("second", map[string]*string{"b.txt": gittest.S("c\n")})

	repo, err := Open(tr.Dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng, err := repo.ResolveRange(context.Background(), "v1")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if rng.Base.Hash != base.String() {
		t.Fatalf("expected base %s, got %s", base, rng.Base.Hash)
	}
	if len(rng.Commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(rng.Commits))
	}
	if rng.Commits[0].Hash != first.String() || rng.Commits[1].Hash != second.String() {
		t.Fatalf("unexpected order: %s, %s", rng.Commits[0].Hash, rng.Commits[1].Hash)
	}
	if rng.Commits[0].Message != "first" {
		t.Fatalf("unexpected message %q", rng.Commits[0].Message)
	}
}

func TestResolveRange_HeadAtBase(t *testing.T) {
	t.Parallel()

	tr := gittest.Init(t)
	base := tr.Commit("upstream", map[string]*string{"a.txt": gittest.S("a\n")})
	tr.Branch("upstream", base)

	repo, err := Open(tr.Dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rng, err := repo.ResolveRange(context.Background(), "upstream")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	if len(rng.Commits) != 0 {
		t.Fatalf("expected empty range, got %d commits", len(rng.Commits))
	}
}

func TestResolveRange_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(tr *gittest.Repo) string
		wantKind RangeErrorKind
		wantAt   bool
	}{
		{
			name: "missing base",
			setup: func(tr *gittest.Repo) string {
				tr.Commit("only", map[string]*string{"a.txt": gittest.S("a\n")})
				return "does-not-exist"
			},
			wantKind: RangeBaseMissing,
		},
		{
			name: "not ancestor",
			setup: func(tr *gittest.Repo) string {
				tr.Commit("root", map[string]*string{"a.txt": gittest.S("a\n")})
				mid := tr.Commit("mid", map[string]*string{"a.txt": gittest.S("b\n")})
				tip := tr.Commit("tip", map[string]*string{"a.txt": gittest.S("c\n")})
				tr.Branch("ahead", tip)
				tr.Checkout(mid)
				return "ahead"
			},
			wantKind: RangeNotAncestor,
		},
		{
			name: "merge in range",
			setup: func(tr *gittest.Repo) string {
				base := tr.Commit("root", map[string]*string{"a.txt": gittest.S("a\n")})
				tr.Tag("base", base)
				tr.Commit("work", map[string]*string{"a.txt": gittest.S("b\n")})
				tr.Merge("merge", base)
				tr.Commit("after", map[string]*string{"a.txt": gittest.S("c\n")})
				return "base"
			},
			wantKind: RangeNonLinear,
			wantAt:   true,
		},
		{
			name: "unborn head",
			setup: func(tr *gittest.Repo) string {
				base := tr.Commit("root", map[string]*string{"a.txt": gittest.S("a\n")})
				tr.Tag("base", base)
				tr.PointHead("orphan")
				return "base"
			},
			wantKind: RangeHeadMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := gittest.Init(t)
			ref := tt.setup(tr)
			repo, err := Open(tr.Dir, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_, err = repo.ResolveRange(context.Background(), ref)
			var rangeErr *RangeError
			if !errors.As(err, &rangeErr) {
				t.Fatalf("expected RangeError, got %v", err)
			}
			if rangeErr.Kind != tt.wantKind {
				t.Fatalf("expected kind %v, got %v", tt.wantKind, rangeErr.Kind)
			}
			if tt.wantAt && rangeErr.Commit == "" {
				t.Fatalf("expected offending commit in %v", rangeErr)
			}
		})
	}
}

func TestResolveRange_Canceled(t *testing.T) {
	t.Parallel()

	tr := gittest.Init(t)
	base := tr.Commit("root", map[string]*string{"a.txt": gittest.S("a\n")})
	tr.Tag("base", base)
	tr.Commit("work", map[string]*string{"a.txt": gittest.S("b\n")})

	repo, err := Open(tr.Dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := repo.ResolveRange(ctx, "base"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
