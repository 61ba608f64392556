// Package patcher wires the engine together: Update turns a submodule's
// history into a patch directory and Rebuild replays that directory onto
// upstream.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	gitlib "github.com/go-git/go-git/v5"

	"github.com/thiagokokada/gitpatcher-go/internal/apply"
	"github.com/thiagokokada/gitpatcher-go/internal/extract"
	"github.com/thiagokokada/gitpatcher-go/internal/git"
	"github.com/thiagokokada/gitpatcher-go/internal/patch"
	"github.com/thiagokokada/gitpatcher-go/internal/reconcile"
	"github.com/thiagokokada/gitpatcher-go/internal/store"
)

// Env carries what every run shares.
type Env struct {
	Logger *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}

// Target names one vendored submodule and where its patches live.
type Target struct {
	SubmodulePath string
	UpstreamRef   string
	PatchDir      string
}

// Validate reports the first missing option.
func (t Target) Validate() error {
	switch {
	case t.SubmodulePath == "":
		return errors.New("submodule-path is required")
	case t.UpstreamRef == "":
		return errors.New("upstream-ref is required")
	case t.PatchDir == "":
		return errors.New("patch-dir is required")
	}
	return nil
}

type UpdateOptions struct {
	DryRun  bool
	NoStage bool
}

type UpdateResult struct {
	Target Target
	Old    patch.Set
	New    patch.Set
	Plan   reconcile.Plan
	Result reconcile.Result
	DryRun bool
}

// Update extracts the commits between UpstreamRef and HEAD of the submodule
// and reconciles them with the patch directory. Nothing is written when
// extraction fails, and nothing at all with DryRun.
func Update(ctx context.Context, env Env, t Target, opts UpdateOptions) (UpdateResult, error) {
	if err := t.Validate(); err != nil {
		return UpdateResult{}, err
	}
	log := env.logger().With(slog.String("submodule", t.SubmodulePath))
	res := UpdateResult{Target: t, DryRun: opts.DryRun}

	repo, err := git.Open(t.SubmodulePath, log)
	if err != nil {
		return res, err
	}
	rng, err := repo.ResolveRange(ctx, t.UpstreamRef)
	if err != nil {
		return res, err
	}
	next, err := extract.New(repo, log).Extract(ctx, rng)
	if err != nil {
		return res, err
	}
	next.Submodule = t.SubmodulePath
	res.New = next

	var stager store.Stager
	if !opts.NoStage && !opts.DryRun {
		super, err := superproject(t.PatchDir, log)
		if err != nil {
			return res, err
		}
		if super != nil {
			stager = super
		}
	}
	st, err := store.Open(t.PatchDir, store.Options{Stager: stager, Logger: log})
	if err != nil {
		return res, err
	}
	old, err := st.Load()
	if err != nil {
		return res, err
	}
	old.Submodule = t.SubmodulePath
	res.Old = old
	res.Plan = reconcile.Diff(old, next)

	log.Debug("update plan",
		slog.Int("commits", len(rng.Commits)),
		slog.Int("added", res.Plan.Count(reconcile.Added)),
		slog.Int("modified", res.Plan.Count(reconcile.Modified)),
		slog.Int("removed", res.Plan.Count(reconcile.Removed)),
	)
	if opts.DryRun {
		return res, nil
	}

	rec := reconcile.New(st, reconcile.Options{NoStage: stager == nil, Logger: log})
	res.Result, err = rec.Apply(ctx, res.Plan)
	if err != nil {
		return res, err
	}
	log.Info("patches updated",
		slog.String("dir", st.Dir()),
		slog.Int("patches", next.Len()),
		slog.Int("writes", res.Result.Writes()),
	)
	return res, nil
}

// superproject opens the repository that contains dir, starting from its
// nearest existing ancestor since dir may not exist yet. It returns nil when
// dir is not inside a repository.
func superproject(dir string, log *slog.Logger) (*git.Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			break
		}
		abs = parent
	}
	repo, err := git.Open(abs, log)
	if errors.Is(err, gitlib.ErrRepositoryNotExists) {
		log.Warn("patch directory is not inside a git repository, not staging", slog.String("dir", dir))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

type RebuildOptions struct {
	// Commit records one commit per applied patch.
	Commit bool
	// NoReset applies on top of the current worktree instead of upstream.
	NoReset   bool
	MaxOffset int
}

type RebuildResult struct {
	Target  Target
	Base    *git.Commit
	Applied []string
	Files   int
}

// Rebuild resets the submodule to UpstreamRef and replays the patch
// directory on it. The first patch that does not apply stops the run with
// an *apply.ApplyError; the patches before it stay applied.
func Rebuild(ctx context.Context, env Env, t Target, opts RebuildOptions) (RebuildResult, error) {
	if err := t.Validate(); err != nil {
		return RebuildResult{}, err
	}
	log := env.logger().With(slog.String("submodule", t.SubmodulePath))
	res := RebuildResult{Target: t}

	st, err := store.Open(t.PatchDir, store.Options{Logger: log})
	if err != nil {
		return res, err
	}
	set, err := st.LoadStrict()
	if err != nil {
		return res, err
	}
	set.Submodule = t.SubmodulePath

	repo, err := git.Open(t.SubmodulePath, log)
	if err != nil {
		return res, err
	}
	if _, err := repo.Resolve(t.UpstreamRef); err != nil {
		return res, &git.RangeError{Kind: git.RangeBaseMissing, Upstream: t.UpstreamRef, Err: err}
	}
	if !opts.NoReset {
		base, err := repo.ResetHard(t.UpstreamRef)
		if err != nil {
			return res, err
		}
		res.Base = base
		set.Base = base.Hash
		log.Info("reset submodule", slog.String("upstream", t.UpstreamRef), slog.String("commit", base.ShortHash()))
	}

	applyOpts := apply.Options{MaxOffset: opts.MaxOffset, Logger: log}
	if opts.Commit {
		applyOpts.OnApplied = func(_ context.Context, r patch.Record) error {
			c, err := repo.CommitAll(commitMessage(r.Header), git.Signature{
				Name:  r.Header.Author,
				Email: r.Header.Email,
				When:  r.Header.Date,
			})
			if err != nil {
				return fmt.Errorf("commit %s: %w", r.Name, err)
			}
			log.Debug("committed patch", slog.String("name", r.Name), slog.String("commit", c.ShortHash()))
			return nil
		}
	}
	out, err := apply.New(osfs.New(repo.Root()), applyOpts).ApplySet(ctx, set)
	res.Applied = out.Applied
	res.Files = out.Files
	if err != nil {
		return res, err
	}
	log.Info("patches applied", slog.Int("patches", len(out.Applied)), slog.Int("files", out.Files))
	return res, nil
}

func commitMessage(h patch.Header) string {
	if h.Body == "" {
		return h.Subject + "\n"
	}
	return h.Subject + "\n\n" + h.Body + "\n"
}
