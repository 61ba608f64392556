package patcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/thiagokokada/gitpatcher-go/internal/apply"
	"github.com/thiagokokada/gitpatcher-go/internal/extract"
	"github.com/thiagokokada/gitpatcher-go/internal/git"
	"github.com/thiagokokada/gitpatcher-go/internal/gittest"
	"github.com/thiagokokada/gitpatcher-go/internal/patch"
	"github.com/thiagokokada/gitpatcher-go/internal/reconcile"
)

type fixture struct {
	sub    *gittest.Repo
	super  *gittest.Repo
	target Target
	base   plumbing.Hash
}

// newFixture builds a submodule whose "upstream" branch holds bar.txt, and
// a superproject with an initial commit that will hold the patches.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	sub := gittest.Init(t)
	base := sub.Commit("upstream import", map[string]*string{
		"bar.txt": gittest.S("one\ntwo\nthree\n"),
	})
	sub.Branch("upstream", base)

	super := gittest.Init(t)
	super.Commit("init", map[string]*string{"README": gittest.S("super\n")})
	return &fixture{
		sub:   sub,
		super: super,
		base:  base,
		target: Target{
			SubmodulePath: sub.Dir,
			UpstreamRef:   "upstream",
			PatchDir:      filepath.Join(super.Dir, "patches"),
		},
	}
}

func (f *fixture) patchNames(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.target.PatchDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (f *fixture) readPatch(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.target.PatchDir, name))
	require.NoError(t, err)
	return string(data)
}

func TestUpdate_ScenarioA(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\nb\nc\n")})
	f.sub.Commit("modify foo", map[string]*string{"foo.txt": gittest.S("a\nB\nc\n")})

	ctx := context.Background()
	res, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Result.Created)
	require.Equal(t, []string{"0001-add-foo.patch", "0002-modify-foo.patch"}, f.patchNames(t))
	require.Contains(t, f.readPatch(t, "0002-modify-foo.patch"), "-b\n+B\n")

	idx, err := f.super.Storer.Index()
	require.NoError(t, err)
	_, err = idx.Entry("patches/0001-add-foo.patch")
	require.NoError(t, err)
	_, err = idx.Entry("patches/0002-modify-foo.patch")
	require.NoError(t, err)

	again, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Zero(t, again.Result.Writes())
	require.Empty(t, again.Result.Staged)
	require.False(t, again.Plan.HasWrites())
	for i, rec := range again.New.Records {
		require.Equal(t, res.New.Records[i].Hash, rec.Hash)
	}
}

func TestUpdate_ScenarioB(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\nb\nc\n")})
	f.sub.Commit("modify foo", map[string]*string{"foo.txt": gittest.S("a\nB\nc\n")})

	ctx := context.Background()
	_, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	before := f.readPatch(t, "0001-add-foo.patch")
	info, err := os.Stat(filepath.Join(f.target.PatchDir, "0001-add-foo.patch"))
	require.NoError(t, err)

	// Rewrite the second commit only.
	f.sub.Checkout(first)
	f.sub.Commit("modify foo", map[string]*string{"foo.txt": gittest.S("a\nb\nC\n")})

	res, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Result.Writes())
	require.Equal(t, 1, res.Result.Overwritten)
	require.Equal(t, []string{"0002-modify-foo.patch"}, res.Result.Staged)
	require.Equal(t, reconcile.Unchanged, res.Plan.Changes[0].Kind)
	require.Equal(t, reconcile.Modified, res.Plan.Changes[1].Kind)

	require.Equal(t, before, f.readPatch(t, "0001-add-foo.patch"))
	after, err := os.Stat(filepath.Join(f.target.PatchDir, "0001-add-foo.patch"))
	require.NoError(t, err)
	require.Equal(t, info.ModTime(), after.ModTime())
	require.Contains(t, f.readPatch(t, "0002-modify-foo.patch"), "-c\n+C\n")
}

func TestUpdate_LineEndingChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\nb\n")})

	ctx := context.Background()
	first, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Result.Created)

	f.sub.Amend("add foo", map[string]*string{"foo.txt": gittest.S("a\r\nb\r\n")})
	wantTree := headTree(t, f.sub)

	res, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, reconcile.Modified, res.Plan.Changes[0].Kind)
	require.Equal(t, 1, res.Result.Writes())
	require.Equal(t, 1, res.Result.Overwritten)
	require.NotEqual(t, first.New.Records[0].Hash, res.New.Records[0].Hash)
	require.Contains(t, f.readPatch(t, "0001-add-foo.patch"), "+a\r\n+b\r\n")

	_, err = Rebuild(ctx, Env{}, f.target, RebuildOptions{Commit: true})
	require.NoError(t, err)
	require.Equal(t, "a\r\nb\r\n", f.sub.Read("foo.txt"))
	require.Equal(t, wantTree, headTree(t, f.sub))

	again, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Zero(t, again.Result.Writes())
}

func TestUpdate_RemovesAndRenames(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
	f.sub.Commit("add baz", map[string]*string{"baz.txt": gittest.S("z\n")})
	f.sub.Commit("add qux", map[string]*string{"qux.txt": gittest.S("q\n")})

	ctx := context.Background()
	_, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)

	f.sub.Checkout(first)
	f.sub.Commit("add baz differently", map[string]*string{"baz.txt": gittest.S("Z\n")})

	res, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Result.Overwritten)
	require.Equal(t, 1, res.Result.Deleted)
	require.Equal(t, []string{"0001-add-foo.patch", "0002-add-baz-differently.patch"}, f.patchNames(t))

	idx, err := f.super.Storer.Index()
	require.NoError(t, err)
	_, err = idx.Entry("patches/0003-add-qux.patch")
	require.Error(t, err)
	_, err = idx.Entry("patches/0002-add-baz.patch")
	require.Error(t, err)
	_, err = idx.Entry("patches/0002-add-baz-differently.patch")
	require.NoError(t, err)
}

func TestUpdate_DryRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})

	res, err := Update(context.Background(), Env{}, f.target, UpdateOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Equal(t, 1, res.Plan.Count(reconcile.Added))
	require.Zero(t, res.Result.Writes())
	_, err = os.Stat(f.target.PatchDir)
	require.True(t, os.IsNotExist(err))
}

func TestUpdate_NoStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})

	res, err := Update(context.Background(), Env{}, f.target, UpdateOptions{NoStage: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.Result.Created)
	idx, err := f.super.Storer.Index()
	require.NoError(t, err)
	_, err = idx.Entry("patches/0001-add-foo.patch")
	require.Error(t, err)
}

func TestUpdate_OutsideRepository(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
	f.target.PatchDir = filepath.Join(t.TempDir(), "nested", "patches")

	res, err := Update(context.Background(), Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Result.Created)
	require.Equal(t, []string{"0001-add-foo.patch"}, f.patchNames(t))
}

func TestUpdate_ErrorsLeaveStoreUntouched(t *testing.T) {
	t.Parallel()

	t.Run("blank message", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
		f.sub.Commit("  \n", map[string]*string{"foo.txt": gittest.S("b\n")})

		_, err := Update(context.Background(), Env{}, f.target, UpdateOptions{})
		var exErr *extract.ExtractionError
		require.ErrorAs(t, err, &exErr)
		require.Equal(t, 2, exErr.Seq)
		require.ErrorIs(t, err, extract.ErrBlankMessage)
		_, err = os.Stat(f.target.PatchDir)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("merge in range", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		side := f.sub.Commit("side", map[string]*string{"side.txt": gittest.S("s\n")})
		f.sub.Checkout(f.base)
		f.sub.Commit("main", map[string]*string{"main.txt": gittest.S("m\n")})
		f.sub.Merge("merge side", side)

		_, err := Update(context.Background(), Env{}, f.target, UpdateOptions{})
		var rangeErr *git.RangeError
		require.ErrorAs(t, err, &rangeErr)
		require.Equal(t, git.RangeNonLinear, rangeErr.Kind)
		_, err = os.Stat(f.target.PatchDir)
		require.True(t, os.IsNotExist(err))
	})

	t.Run("missing upstream", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.target.UpstreamRef = "does-not-exist"

		_, err := Update(context.Background(), Env{}, f.target, UpdateOptions{})
		var rangeErr *git.RangeError
		require.ErrorAs(t, err, &rangeErr)
		require.Equal(t, git.RangeBaseMissing, rangeErr.Kind)
	})
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()

	full := Target{SubmodulePath: "vendor/x", UpstreamRef: "origin/main", PatchDir: "patches"}
	require.NoError(t, full.Validate())

	tests := map[string]func(*Target){
		"submodule-path": func(t *Target) { t.SubmodulePath = "" },
		"upstream-ref":   func(t *Target) { t.UpstreamRef = "" },
		"patch-dir":      func(t *Target) { t.PatchDir = "" },
	}
	for name, mutate := range tests {
		target := full
		mutate(&target)
		err := target.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), name)
	}
}

func headTree(t *testing.T, r *gittest.Repo) plumbing.Hash {
	t.Helper()
	ref, err := r.Head()
	require.NoError(t, err)
	c, err := r.CommitObject(ref.Hash())
	require.NoError(t, err)
	return c.TreeHash
}

func TestRebuild_RoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\nb\nc\n")})
	f.sub.Commit("Touch several files\n\nWith a body that\nspans lines.\n---\nAnd keeps a dash line.", map[string]*string{
		"foo.txt":        gittest.S("a\nb\nc\nd\n"),
		"dir/nested.txt": gittest.S("no newline at end"),
		"bar.txt":        gittest.S("one\nTWO\nthree\n"),
	})
	f.sub.Commit("empty commit", nil)
	f.sub.Commit("remove foo", map[string]*string{
		"foo.txt":        nil,
		"dir/nested.txt": gittest.S("still no newline"),
	})
	wantTree := headTree(t, f.sub)

	ctx := context.Background()
	first, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, first.Result.Created)

	res, err := Rebuild(ctx, Env{}, f.target, RebuildOptions{Commit: true})
	require.NoError(t, err)
	require.Len(t, res.Applied, 4)
	require.Equal(t, f.base.String(), res.Base.Hash)
	require.Equal(t, wantTree, headTree(t, f.sub))
	require.Equal(t, "still no newline", f.sub.Read("dir/nested.txt"))

	again, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)
	require.Zero(t, again.Result.Writes())
	for i, rec := range again.New.Records {
		require.Equal(t, first.New.Records[i].Hash, rec.Hash, rec.Name)
		require.NotEqual(t, first.New.Records[i].Commit, rec.Commit, rec.Name)
	}
}

func TestRebuild_WithoutCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
	ctx := context.Background()
	_, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)

	res, err := Rebuild(ctx, Env{}, f.target, RebuildOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"0001-add-foo.patch"}, res.Applied)
	require.Equal(t, "a\n", f.sub.Read("foo.txt"))

	ref, err := f.sub.Head()
	require.NoError(t, err)
	require.Equal(t, f.base, ref.Hash())
}

func TestRebuild_ScenarioC(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
	f.sub.Commit("change bar", map[string]*string{"bar.txt": gittest.S("one\nTWO\nthree\n")})
	ctx := context.Background()
	_, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)

	// Upstream moves on and rewrites the lines patch 2 depends on.
	f.sub.Checkout(f.base)
	moved := f.sub.Commit("upstream rewrite", map[string]*string{"bar.txt": gittest.S("uno\ndos\ntres\n")})
	f.sub.Branch("upstream", moved)

	res, err := Rebuild(ctx, Env{}, f.target, RebuildOptions{})
	var applyErr *apply.ApplyError
	require.ErrorAs(t, err, &applyErr)
	require.Equal(t, 2, applyErr.Seq)
	require.Equal(t, "bar.txt", applyErr.File)
	require.True(t, errors.Is(err, apply.ErrContextMismatch))
	require.Equal(t, []string{"0001-add-foo.patch"}, res.Applied)

	require.Equal(t, "a\n", f.sub.Read("foo.txt"))
	require.Equal(t, "uno\ndos\ntres\n", f.sub.Read("bar.txt"))
}

func TestRebuild_MissingUpstream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sub.Commit("add foo", map[string]*string{"foo.txt": gittest.S("a\n")})
	ctx := context.Background()
	_, err := Update(ctx, Env{}, f.target, UpdateOptions{})
	require.NoError(t, err)

	f.target.UpstreamRef = "gone"
	_, err = Rebuild(ctx, Env{}, f.target, RebuildOptions{})
	var rangeErr *git.RangeError
	require.ErrorAs(t, err, &rangeErr)
	require.Equal(t, git.RangeBaseMissing, rangeErr.Kind)
}

func TestCommitMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "subject\n", commitMessage(patch.Header{Subject: "subject"}))
	require.Equal(t, "subject\n\nbody\n", commitMessage(patch.Header{Subject: "subject", Body: "body"}))
}
