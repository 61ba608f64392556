// Package patch models patch files: their names, their on-disk format and
// the content hash used to decide whether a rewrite is needed.
package patch

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Header is the mail-style metadata at the top of a patch file.
type Header struct {
	Author  string
	Email   string
	Date    time.Time
	Subject string
	Body    string
}

// Record is one patch: a single commit rendered as header plus unified diff.
type Record struct {
	Seq    int
	Commit string
	Name   string
	Header Header
	Diff   []byte
	Hash   string
}

// New builds a record for the commit at position seq, deriving its file name
// and content hash.
func New(seq int, commit string, header Header, diff []byte) Record {
	r := Record{
		Seq:    seq,
		Commit: commit,
		Name:   FileName(seq, header.Subject),
		Header: header,
		Diff:   diff,
	}
	r.Hash = ContentHash(Render(r))
	return r
}

// Bytes returns the file content of r.
func (r Record) Bytes() []byte {
	return Render(r)
}

// Set is an ordered patch series for one submodule.
type Set struct {
	Submodule string
	Base      string
	Records   []Record
}

func (s Set) Len() int { return len(s.Records) }

// Validate reports a *SequenceError unless the records carry the sequence
// numbers 1..n in order.
func (s Set) Validate() error {
	seen := make(map[int]int, len(s.Records))
	maxSeq := 0
	ordered := true
	for i, r := range s.Records {
		seen[r.Seq]++
		maxSeq = max(maxSeq, r.Seq)
		if r.Seq != i+1 {
			ordered = false
		}
	}
	if ordered {
		return nil
	}
	serr := &SequenceError{}
	for seq := 1; seq <= maxSeq; seq++ {
		switch n := seen[seq]; {
		case n == 0:
			serr.Missing = append(serr.Missing, seq)
		case n > 1:
			serr.Duplicate = append(serr.Duplicate, seq)
		}
	}
	for seq := range seen {
		if seq < 1 {
			serr.Invalid = append(serr.Invalid, seq)
		}
	}
	slices.Sort(serr.Invalid)
	return serr
}

// SequenceError describes a series whose numbering is not exactly 1..n.
type SequenceError struct {
	Missing   []int
	Duplicate []int
	Invalid   []int
}

func (e *SequenceError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+joinSeqs(e.Missing))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate "+joinSeqs(e.Duplicate))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+joinSeqs(e.Invalid))
	}
	if len(parts) == 0 {
		parts = append(parts, "out of order")
	}
	return "patch sequence not contiguous: " + strings.Join(parts, ", ")
}

func joinSeqs(seqs []int) string {
	out := make([]string, len(seqs))
	for i, s := range seqs {
		out[i] = fmt.Sprintf("%04d", s)
	}
	return strings.Join(out, " ")
}
