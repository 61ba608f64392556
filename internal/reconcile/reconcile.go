// Package reconcile brings a patch directory in line with a freshly
// extracted series while touching as few files as possible.
package reconcile

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/thiagokokada/gitpatcher-go/internal/patch"
)

type Kind uint8

const (
	Unchanged Kind = iota
	Modified
	Added
	Removed
)

func (k Kind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Symbol is the one-letter marker used in plan listings.
func (k Kind) Symbol() string {
	switch k {
	case Modified:
		return "M"
	case Added:
		return "A"
	case Removed:
		return "D"
	default:
		return "="
	}
}

// Change is one planned action. Old is nil for Added, New is nil for Removed.
type Change struct {
	Kind Kind
	Seq  int
	Old  *patch.Record
	New  *patch.Record
}

// Renamed reports a modification whose file name changes.
func (c Change) Renamed() bool {
	return c.Kind == Modified && c.Old.Name != c.New.Name
}

// Name is the file the change is about: the new name when there is one.
func (c Change) Name() string {
	if c.New != nil {
		return c.New.Name
	}
	return c.Old.Name
}

type Plan struct {
	Changes []Change
}

// Count returns how many changes are of kind k.
func (p Plan) Count(k Kind) int {
	n := 0
	for _, c := range p.Changes {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// HasWrites reports whether applying p would touch the filesystem.
func (p Plan) HasWrites() bool {
	return slices.ContainsFunc(p.Changes, func(c Change) bool { return c.Kind != Unchanged })
}

// Diff pairs old and new records strictly by sequence number. Subjects never
// take part in matching; a subject change shows up as a renamed
// modification. Extra old files sharing a sequence number are removed.
func Diff(old, next patch.Set) Plan {
	oldBySeq := make(map[int][]*patch.Record)
	newBySeq := make(map[int]*patch.Record)
	var seqs []int
	for i := range old.Records {
		r := &old.Records[i]
		if _, seen := oldBySeq[r.Seq]; !seen {
			seqs = append(seqs, r.Seq)
		}
		oldBySeq[r.Seq] = append(oldBySeq[r.Seq], r)
	}
	for i := range next.Records {
		r := &next.Records[i]
		if _, seen := oldBySeq[r.Seq]; !seen {
			if _, dup := newBySeq[r.Seq]; !dup {
				seqs = append(seqs, r.Seq)
			}
		}
		newBySeq[r.Seq] = r
	}
	slices.Sort(seqs)

	var plan Plan
	for _, seq := range seqs {
		olds := oldBySeq[seq]
		nr := newBySeq[seq]
		if nr == nil {
			for _, or := range olds {
				plan.Changes = append(plan.Changes, Change{Kind: Removed, Seq: seq, Old: or})
			}
			continue
		}
		if len(olds) == 0 {
			plan.Changes = append(plan.Changes, Change{Kind: Added, Seq: seq, New: nr})
			continue
		}
		keep := pickOld(olds, nr)
		kind := Modified
		if keep.Hash == nr.Hash && keep.Name == nr.Name {
			kind = Unchanged
		}
		plan.Changes = append(plan.Changes, Change{Kind: kind, Seq: seq, Old: keep, New: nr})
		for _, or := range olds {
			if or != keep {
				plan.Changes = append(plan.Changes, Change{Kind: Removed, Seq: seq, Old: or})
			}
		}
	}
	return plan
}

// pickOld chooses which of the old files at one position carries over:
// an identical file first, then one with the same name, then the first.
func pickOld(olds []*patch.Record, nr *patch.Record) *patch.Record {
	for _, or := range olds {
		if or.Name == nr.Name && or.Hash == nr.Hash {
			return or
		}
	}
	for _, or := range olds {
		if or.Name == nr.Name {
			return or
		}
	}
	return olds[0]
}

// Store is the mutation surface the Reconciler needs. *store.Store
// implements it.
type Store interface {
	Create(r patch.Record) error
	Overwrite(r patch.Record) error
	Delete(name string) error
	Stage(names ...string) error
}

type Options struct {
	// NoStage leaves the index alone.
	NoStage bool
	Logger  *slog.Logger
}

type Reconciler struct {
	store Store
	opts  Options
	log   *slog.Logger
}

func New(store Store, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{store: store, opts: opts, log: logger}
}

// Result counts the filesystem operations Apply performed.
type Result struct {
	Created     int
	Overwritten int
	Deleted     int
	Staged      []string
}

// Writes is the number of files created, overwritten or deleted.
func (r Result) Writes() int {
	return r.Created + r.Overwritten + r.Deleted
}

// Apply carries out plan in sequence order and stages every touched file
// once at the end. Unchanged entries are never written or staged. On error
// the files already handled stay as they are; running again repairs them.
func (r *Reconciler) Apply(ctx context.Context, plan Plan) (Result, error) {
	var res Result
	for _, c := range plan.Changes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch c.Kind {
		case Unchanged:
			continue
		case Added:
			if err := r.store.Create(*c.New); err != nil {
				return res, err
			}
			res.Created++
			res.Staged = append(res.Staged, c.New.Name)
		case Removed:
			if err := r.store.Delete(c.Old.Name); err != nil {
				return res, err
			}
			res.Deleted++
			res.Staged = append(res.Staged, c.Old.Name)
		case Modified:
			if c.Renamed() {
				if err := r.store.Delete(c.Old.Name); err != nil {
					return res, err
				}
				if err := r.store.Create(*c.New); err != nil {
					return res, err
				}
				res.Staged = append(res.Staged, c.Old.Name)
			} else if err := r.store.Overwrite(*c.New); err != nil {
				return res, err
			}
			res.Overwritten++
			res.Staged = append(res.Staged, c.New.Name)
		}
		r.log.Info("reconciled patch",
			slog.String("change", c.Kind.String()),
			slog.String("name", c.Name()),
		)
	}
	if r.opts.NoStage || len(res.Staged) == 0 {
		return res, nil
	}
	if err := r.store.Stage(res.Staged...); err != nil {
		return res, err
	}
	return res, nil
}
