package git

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	gitindex "github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Stage records paths in the index. Paths may be absolute or relative to the
// worktree root. A path missing on disk is staged as a removal; a path that is
// neither on disk nor in the index is skipped.
func (r *Repo) Stage(paths ...string) error {
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	root := wt.Filesystem.Root()
	for _, p := range paths {
		rel, err := worktreeRelative(root, p)
		if err != nil {
			return err
		}
		err = wt.AddWithOptions(&gitlib.AddOptions{Path: rel, SkipStatus: true})
		if errors.Is(err, gitindex.ErrEntryNotFound) {
			r.log.Debug("stage skipped untracked removal", slog.String("path", rel))
			continue
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", rel, err)
		}
		r.log.Debug("staged", slog.String("path", rel))
	}
	return nil
}

func worktreeRelative(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(filepath.Clean(p)), nil
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("path %s: %w", p, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside worktree %s", p, root)
	}
	return filepath.ToSlash(rel), nil
}

// ResetHard moves the current branch to rev and makes the worktree match it,
// removing untracked files.
func (r *Repo) ResetHard(rev string) (*Commit, error) {
	target, err := r.Resolve(rev)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Reset(&gitlib.ResetOptions{Commit: target.Hash, Mode: gitlib.HardReset}); err != nil {
		return nil, fmt.Errorf("reset to %s: %w", rev, err)
	}
	if err := wt.Clean(&gitlib.CleanOptions{Dir: true}); err != nil {
		return nil, fmt.Errorf("clean worktree: %w", err)
	}
	r.log.Debug("reset worktree", slog.String("rev", rev), slog.String("commit", target.Hash.String()))
	return newCommit(target), nil
}

// CommitAll stages every worktree change and records it as one commit with
// author used for both signatures.
func (r *Repo) CommitAll(message string, author Signature) (*Commit, error) {
	wt, err := r.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gitlib.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("stage worktree: %w", err)
	}
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: author.When}
	hash, err := wt.Commit(message, &gitlib.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	obj, err := r.CommitObject(hash)
	if err != nil {
		return nil, err
	}
	return newCommit(obj), nil
}
