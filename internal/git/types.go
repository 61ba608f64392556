package git

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
)

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is a read-only view of a history entry. The engine never mutates it.
type Commit struct {
	Hash         string
	ParentHashes []string
	Author       Signature
	Committer    Signature
	Message      string

	obj *object.Commit
}

func newCommit(c *object.Commit) *Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		Hash:         c.Hash.String(),
		ParentHashes: parents,
		Author:       Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
		obj:          c,
	}
}

// ShortHash returns the abbreviated hash used in log lines.
func (c *Commit) ShortHash() string {
	if len(c.Hash) < 7 {
		return c.Hash
	}
	return c.Hash[:7]
}
