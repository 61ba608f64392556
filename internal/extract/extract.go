// Package extract turns a range of commits into a patch series.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/thiagokokada/gitpatcher-go/internal/git"
	"github.com/thiagokokada/gitpatcher-go/internal/patch"
)

// ErrBlankMessage is returned for commits whose message is empty or only
// whitespace, since they cannot be named.
var ErrBlankMessage = errors.New("blank commit message")

// ExtractionError reports the commit that could not be turned into a patch.
type ExtractionError struct {
	Seq    int
	Commit string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract patch %04d from commit %s: %v", e.Seq, e.Commit, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// TreeDiffer renders the change between two commits. *git.Repo implements it.
type TreeDiffer interface {
	TreeDiff(ctx context.Context, parent, commit *git.Commit) ([]byte, error)
}

type Extractor struct {
	differ TreeDiffer
	log    *slog.Logger
}

func New(differ TreeDiffer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{differ: differ, log: logger}
}

// Extract renders every commit of rng, oldest first, into a contiguous
// series. Any failure aborts the whole pass so callers never see a partial
// series.
func (e *Extractor) Extract(ctx context.Context, rng git.Range) (patch.Set, error) {
	set := patch.Set{Records: make([]patch.Record, 0, len(rng.Commits))}
	if rng.Base != nil {
		set.Base = rng.Base.Hash
	}
	parent := rng.Base
	for i, commit := range rng.Commits {
		if err := ctx.Err(); err != nil {
			return patch.Set{}, err
		}
		rec, err := e.extractOne(ctx, i+1, parent, commit)
		if err != nil {
			return patch.Set{}, err
		}
		e.log.Debug("extracted patch",
			slog.String("name", rec.Name),
			slog.String("commit", commit.ShortHash()),
			slog.Int("bytes", len(rec.Diff)),
		)
		set.Records = append(set.Records, rec)
		parent = commit
	}
	return set, nil
}

func (e *Extractor) extractOne(ctx context.Context, seq int, parent, commit *git.Commit) (patch.Record, error) {
	subject, body, ok := patch.SplitMessage(commit.Message)
	if !ok {
		return patch.Record{}, &ExtractionError{Seq: seq, Commit: commit.Hash, Err: ErrBlankMessage}
	}
	diff, err := e.differ.TreeDiff(ctx, parent, commit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return patch.Record{}, ctxErr
		}
		return patch.Record{}, &ExtractionError{Seq: seq, Commit: commit.Hash, Err: err}
	}
	header := patch.Header{
		Author:  commit.Author.Name,
		Email:   commit.Author.Email,
		Date:    commit.Author.When,
		Subject: subject,
		Body:    body,
	}
	return patch.New(seq, commit.Hash, header, diff), nil
}
