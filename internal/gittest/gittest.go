// Package gittest builds throwaway repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Epoch is the author time of the first commit made by Commit; each later
// commit in the same repository is one minute newer.
var Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.FixedZone("", 2*60*60))

type Repo struct {
	*gitlib.Repository
	Dir string

	t     testing.TB
	count int
}

// Init creates an empty repository in a temporary directory.
func Init(t testing.TB) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	return &Repo{Repository: repo, Dir: dir, t: t}
}

// Write creates or replaces files relative to the worktree. A nil value
// removes the file.
func (r *Repo) Write(files map[string]*string) {
	r.t.Helper()
	for name, content := range files {
		path := filepath.Join(r.Dir, filepath.FromSlash(name))
		if content == nil {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				r.t.Fatalf("remove %s: %v", name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			r.t.Fatalf("mkdir %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(*content), 0o644); err != nil {
			r.t.Fatalf("write %s: %v", name, err)
		}
	}
}

// Commit writes files and records every worktree change as a commit.
func (r *Repo) Commit(message string, files map[string]*string) plumbing.Hash {
	r.t.Helper()
	r.Write(files)
	wt, err := r.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	if err := wt.AddWithOptions(&gitlib.AddOptions{All: true}); err != nil {
		r.t.Fatalf("Add: %v", err)
	}
	sig := r.signature()
	hash, err := wt.Commit(message, &gitlib.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("Commit: %v", err)
	}
	return hash
}

// Amend replaces HEAD with a commit on HEAD's parent that carries files,
// message and HEAD's original author and committer.
func (r *Repo) Amend(message string, files map[string]*string) plumbing.Hash {
	r.t.Helper()
	head, err := r.Head()
	if err != nil {
		r.t.Fatalf("Head: %v", err)
	}
	prev, err := r.CommitObject(head.Hash())
	if err != nil {
		r.t.Fatalf("CommitObject: %v", err)
	}
	if prev.NumParents() != 1 {
		r.t.Fatalf("Amend needs a commit with one parent, got %d", prev.NumParents())
	}
	r.Checkout(prev.ParentHashes[0])
	r.Write(files)
	wt, err := r.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	if err := wt.AddWithOptions(&gitlib.AddOptions{All: true}); err != nil {
		r.t.Fatalf("Add: %v", err)
	}
	author, committer := prev.Author, prev.Committer
	hash, err := wt.Commit(message, &gitlib.CommitOptions{
		Author:            &author,
		Committer:         &committer,
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("Commit: %v", err)
	}
	return hash
}

// Merge records a commit with two parents on top of HEAD.
func (r *Repo) Merge(message string, other plumbing.Hash) plumbing.Hash {
	r.t.Helper()
	wt, err := r.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	head, err := r.Head()
	if err != nil {
		r.t.Fatalf("Head: %v", err)
	}
	sig := r.signature()
	hash, err := wt.Commit(message, &gitlib.CommitOptions{
		Author:            sig,
		Committer:         sig,
		Parents:           []plumbing.Hash{head.Hash(), other},
		AllowEmptyCommits: true,
	})
	if err != nil {
		r.t.Fatalf("Commit merge: %v", err)
	}
	return hash
}

// Tag points a lightweight tag at hash.
func (r *Repo) Tag(name string, hash plumbing.Hash) {
	r.t.Helper()
	if _, err := r.CreateTag(name, hash, nil); err != nil {
		r.t.Fatalf("CreateTag %s: %v", name, err)
	}
}

// Branch points a branch at hash without checking it out.
func (r *Repo) Branch(name string, hash plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("SetReference %s: %v", name, err)
	}
}

// PointHead makes HEAD a symbolic reference to branch, which need not exist.
func (r *Repo) PointHead(branch string) {
	r.t.Helper()
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := r.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("SetReference HEAD: %v", err)
	}
}

// Checkout moves HEAD and the current branch to hash, resetting the worktree.
func (r *Repo) Checkout(hash plumbing.Hash) {
	r.t.Helper()
	wt, err := r.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree: %v", err)
	}
	if err := wt.Reset(&gitlib.ResetOptions{Commit: hash, Mode: gitlib.HardReset}); err != nil {
		r.t.Fatalf("Reset: %v", err)
	}
}

// Read returns a worktree file, failing the test when it is missing.
func (r *Repo) Read(name string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Dir, filepath.FromSlash(name)))
	if err != nil {
		r.t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func (r *Repo) signature() *object.Signature {
	when := Epoch.Add(time.Duration(r.count) * time.Minute)
	r.count++
	return &object.Signature{Name: "Jane Doe", Email: "jane@example.com", When: when}
}

// S returns a pointer to s, for use as a file content in Write and Commit.
func S(s string) *string { return &s }
