package git

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

type RangeErrorKind uint8

const (
	// RangeBaseMissing means the upstream reference could not be resolved.
	RangeBaseMissing RangeErrorKind = iota
	// RangeNotAncestor means the first-parent walk from HEAD never met the base.
	RangeNotAncestor
	// RangeNonLinear means a merge commit sits between the base and HEAD.
	RangeNonLinear
	// RangeHeadMissing means HEAD does not resolve to a commit.
	RangeHeadMissing
)

func (k RangeErrorKind) String() string {
	switch k {
	case RangeBaseMissing:
		return "base missing"
	case RangeNotAncestor:
		return "base is not an ancestor of HEAD"
	case RangeNonLinear:
		return "non-linear history"
	case RangeHeadMissing:
		return "HEAD cannot be resolved"
	default:
		return "unknown"
	}
}

// RangeError reports a history range that cannot be turned into patches.
type RangeError struct {
	Kind     RangeErrorKind
	Upstream string
	Commit   string // offending commit for RangeNonLinear
	Err      error
}

func (e *RangeError) Error() string {
	msg := fmt.Sprintf("resolve range %s..HEAD: %s", e.Upstream, e.Kind)
	if e.Commit != "" {
		msg += fmt.Sprintf(" at %s", e.Commit)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RangeError) Unwrap() error { return e.Err }

// Range is a linear run of commits on top of Base, oldest first.
type Range struct {
	Base    *Commit
	Commits []*Commit
}

// ResolveRange lists the commits between upstreamRef (exclusive) and HEAD
// (inclusive), oldest first. Only first parents are followed and a merge
// commit anywhere on the path is rejected.
func (r *Repo) ResolveRange(ctx context.Context, upstreamRef string) (Range, error) {
	base, err := r.Resolve(upstreamRef)
	if err != nil {
		return Range{}, &RangeError{Kind: RangeBaseMissing, Upstream: upstreamRef, Err: err}
	}
	head, err := r.HeadCommit()
	if err != nil {
		return Range{}, &RangeError{Kind: RangeHeadMissing, Upstream: upstreamRef, Err: err}
	}
	r.log.Debug("ResolveRange start",
		slog.String("upstream", upstreamRef),
		slog.String("base", base.Hash.String()),
		slog.String("head", head.Hash.String()),
	)

	var commits []*Commit
	current := head
	for current.Hash != base.Hash {
		if err := ctx.Err(); err != nil {
			return Range{}, err
		}
		switch n := current.NumParents(); {
		case n == 0:
			return Range{}, &RangeError{Kind: RangeNotAncestor, Upstream: upstreamRef}
		case n > 1:
			return Range{}, &RangeError{Kind: RangeNonLinear, Upstream: upstreamRef, Commit: current.Hash.String()}
		}
		commits = append(commits, newCommit(current))
		parent, err := current.Parent(0)
		if err != nil {
			return Range{}, &RangeError{Kind: RangeNotAncestor, Upstream: upstreamRef, Err: err}
		}
		current = parent
	}
	slices.Reverse(commits)
	r.log.Debug("ResolveRange done", slog.Int("commits", len(commits)))
	return Range{Base: newCommit(base), Commits: commits}, nil
}
