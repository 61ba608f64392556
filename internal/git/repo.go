package git

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is the shared version-control handle. It is passed explicitly to the
// range resolver, the extractor and (as a Stager) the patch store.
type Repo struct {
	*gitlib.Repository
	path string
	log  *slog.Logger
}

// Open opens the repository containing repoPath, walking up to find .git.
// Submodule checkouts whose .git is a gitdir file are supported.
func Open(repoPath string, logger *slog.Logger) (*Repo, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", abs, err)
	}
	return wrap(repo, abs, logger), nil
}

func wrap(repo *gitlib.Repository, path string, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Repo{Repository: repo, path: path, log: logger}
}

func (r *Repo) RepoPath() string {
	return r.path
}

// Root returns the worktree root, or the opened path for bare repositories.
func (r *Repo) Root() string {
	wt, err := r.Worktree()
	if err != nil {
		return r.path
	}
	return wt.Filesystem.Root()
}

// Resolve turns a branch, tag or revision expression into a commit.
func (r *Repo) Resolve(rev string) (*object.Commit, error) {
	if r.Repository == nil {
		return nil, fmt.Errorf("repository not initialized")
	}
	hash, err := r.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, err
	}
	return r.CommitObject(*hash)
}

// HeadCommit returns the commit HEAD points at.
func (r *Repo) HeadCommit() (*object.Commit, error) {
	ref, err := r.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("resolve HEAD: no commit on the current branch")
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	return r.CommitObject(ref.Hash())
}

// HeadName returns the short branch name HEAD points at, or "HEAD" when it
// cannot be read.
func (r *Repo) HeadName() string {
	ref, err := r.Head()
	if err != nil {
		return "HEAD"
	}
	if !ref.Name().IsBranch() {
		return "HEAD"
	}
	return refName(ref)
}

func refName(ref *plumbing.Reference) string {
	name := ref.Name().Short()
	if name == "" {
		name = ref.Name().String()
	}
	return name
}
