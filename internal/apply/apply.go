// Package apply replays a patch series onto a working tree.
package apply

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/thiagokokada/gitpatcher-go/internal/patch"
)

type Options struct {
	// MaxOffset bounds how far from its recorded position a hunk may be
	// found. Zero allows the whole file.
	MaxOffset int
	// OnApplied runs after each patch has been written, e.g. to commit it.
	OnApplied func(ctx context.Context, r patch.Record) error
	Logger    *slog.Logger
}

type Applier struct {
	fs   billy.Filesystem
	opts Options
	log  *slog.Logger
}

func New(fs billy.Filesystem, opts Options) *Applier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Applier{fs: fs, opts: opts, log: logger}
}

// Result lists the patches that were applied, in order.
type Result struct {
	Applied []string
	Files   int
}

// ApplySet applies every record of set in sequence order. It stops at the
// first patch that does not apply and returns an *ApplyError; patches
// before it stay applied and the failing one leaves no trace.
func (a *Applier) ApplySet(ctx context.Context, set patch.Set) (Result, error) {
	var res Result
	if err := set.Validate(); err != nil {
		return res, fmt.Errorf("apply series: %w", err)
	}
	for _, rec := range set.Records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := a.Apply(rec)
		if err != nil {
			return res, err
		}
		if a.opts.OnApplied != nil {
			if err := a.opts.OnApplied(ctx, rec); err != nil {
				return res, fmt.Errorf("after applying %s: %w", rec.Name, err)
			}
		}
		res.Applied = append(res.Applied, rec.Name)
		res.Files += n
		a.log.Info("applied patch", slog.String("name", rec.Name), slog.Int("files", n))
	}
	return res, nil
}

// Apply applies one record and returns how many files it touched. Nothing
// is written unless every file patch in the record applies.
func (a *Applier) Apply(rec patch.Record) (int, error) {
	files, err := ParseDiff(rec.Diff)
	if err != nil {
		return 0, &ApplyError{Seq: rec.Seq, Name: rec.Name, Err: err}
	}
	ws := newWorkspace(a.fs)
	for _, fp := range files {
		if err := a.applyFile(ws, fp); err != nil {
			var aerr *ApplyError
			if !errors.As(err, &aerr) {
				aerr = &ApplyError{File: fp.Path(), Err: err}
			}
			aerr.Seq, aerr.Name = rec.Seq, rec.Name
			return 0, aerr
		}
	}
	if err := ws.commit(); err != nil {
		return 0, &ApplyError{Seq: rec.Seq, Name: rec.Name, Err: err}
	}
	return len(ws.order), nil
}

func (a *Applier) applyFile(ws *workspace, fp FilePatch) error {
	if fp.Binary {
		return &ApplyError{File: fp.Path(), Err: ErrBinary}
	}
	var (
		st  *fileState
		err error
	)
	if fp.IsNew() {
		st, err = ws.create(fp.NewPath)
	} else {
		st, err = ws.open(fp.OldPath)
	}
	if err != nil {
		return &ApplyError{File: fp.Path(), Err: err}
	}

	delta, drift := 0, 0
	for i, h := range fp.Hunks {
		landed, miss := a.applyHunk(st, h, delta, drift)
		if miss != nil {
			return &ApplyError{File: fp.Path(), Hunk: i + 1, Detail: miss.detail, Err: ErrContextMismatch}
		}
		delta += h.NewLines - h.OldLines
		drift = landed
	}

	switch {
	case fp.IsDelete():
		if len(st.lines) != 0 {
			return &ApplyError{File: fp.OldPath, Err: fmt.Errorf("%w: deleted file still has content", ErrContextMismatch)}
		}
		ws.remove(fp.OldPath)
		return nil
	case fp.OldPath != fp.NewPath && !fp.IsNew():
		st = ws.rename(fp.OldPath, fp.NewPath)
	}
	if fp.NewMode != "" {
		st.mode = fp.NewMode
	}
	st.touched = true
	return nil
}

type mismatch struct {
	detail string
}

// applyHunk locates h in st and splices it in. delta is the line shift from
// earlier hunks of the same file and drift how far the previous hunk landed
// from where it was expected. It returns the new drift.
func (a *Applier) applyHunk(st *fileState, h Hunk, delta, drift int) (int, *mismatch) {
	before, after := h.Before(), h.After()
	expected := h.OldStart - 1
	if h.OldLines == 0 {
		expected = h.OldStart
	}
	expected += delta + drift

	at := a.locate(st, before, expected, h.OldNoEOL)
	if at < 0 {
		return 0, &mismatch{detail: mismatchDetail(st.path, before, st.lines, expected)}
	}
	reachesEnd := at+len(before) == len(st.lines)
	st.lines = splice(st.lines, at, len(before), after)
	if reachesEnd {
		st.noEOL = h.NewNoEOL && len(st.lines) > 0
	}
	return at - (expected - drift), nil
}

// locate searches outward from expected for before, nearest position
// first, within MaxOffset lines.
func (a *Applier) locate(st *fileState, before []string, expected int, oldNoEOL bool) int {
	last := len(st.lines) - len(before)
	if last < 0 {
		return -1
	}
	if len(before) == 0 {
		return max(0, min(expected, last))
	}
	if expected >= 0 && expected <= last && st.matches(before, expected, oldNoEOL) {
		return expected
	}
	limit := a.opts.MaxOffset
	if limit <= 0 {
		limit = len(st.lines) + max(expected, -expected)
	}
	for off := 1; off <= limit; off++ {
		lo, hi := expected-off, expected+off
		if lo < 0 && hi > last {
			break
		}
		if lo >= 0 && lo <= last && st.matches(before, lo, oldNoEOL) {
			return lo
		}
		if hi >= 0 && hi <= last && st.matches(before, hi, oldNoEOL) {
			return hi
		}
	}
	return -1
}

func splice(target []string, index, deleteCount int, replacement []string) []string {
	if deleteCount == 0 && len(replacement) == 0 {
		return target
	}
	result := make([]string, 0, len(target)-deleteCount+len(replacement))
	result = append(result, target[:index]...)
	result = append(result, replacement...)
	result = append(result, target[index+deleteCount:]...)
	return result
}

// fileState is the in-memory content of one file while a patch is applied.
type fileState struct {
	path     string
	lines    []string
	noEOL    bool
	mode     string
	diskMode string // mode on disk when loaded, empty for new files
	touched  bool
}

func (st *fileState) matches(before []string, at int, oldNoEOL bool) bool {
	for i, l := range before {
		if st.lines[at+i] != l {
			return false
		}
	}
	if len(before) == 0 {
		return true
	}
	atEnd := at+len(before) == len(st.lines)
	if oldNoEOL {
		return atEnd && st.noEOL
	}
	return !(atEnd && st.noEOL)
}

func (st *fileState) content() []byte {
	if len(st.lines) == 0 {
		return nil
	}
	text := strings.Join(st.lines, "\n")
	if !st.noEOL {
		text += "\n"
	}
	return []byte(text)
}

func splitContent(data []byte) (lines []string, noEOL bool) {
	if len(data) == 0 {
		return nil, false
	}
	text := string(data)
	noEOL = !strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n"), noEOL
}

// workspace stages the files of one patch in memory.
type workspace struct {
	fs      billy.Filesystem
	files   map[string]*fileState
	removed map[string]bool
	order   []string
}

func newWorkspace(fs billy.Filesystem) *workspace {
	return &workspace{fs: fs, files: map[string]*fileState{}, removed: map[string]bool{}}
}

func (ws *workspace) track(st *fileState) {
	if _, ok := ws.files[st.path]; !ok {
		ws.order = append(ws.order, st.path)
	}
	ws.files[st.path] = st
	delete(ws.removed, st.path)
}

func (ws *workspace) exists(p string) (bool, error) {
	if st, ok := ws.files[p]; ok {
		return !ws.removed[st.path], nil
	}
	if _, err := ws.fs.Lstat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (ws *workspace) create(p string) (*fileState, error) {
	ok, err := ws.exists(p)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, ErrFileExists
	}
	st := &fileState{path: p}
	ws.track(st)
	return st, nil
}

func (ws *workspace) open(p string) (*fileState, error) {
	if st, ok := ws.files[p]; ok {
		if ws.removed[p] {
			return nil, ErrFileMissing
		}
		return st, nil
	}
	info, err := ws.fs.Lstat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileMissing
	}
	if err != nil {
		return nil, err
	}
	mode := modeString(info.Mode())
	st := &fileState{path: p, mode: mode, diskMode: mode}
	var data []byte
	if mode == modeLink {
		target, err := ws.fs.Readlink(p)
		if err != nil {
			return nil, err
		}
		data = []byte(target)
	} else if data, err = util.ReadFile(ws.fs, p); err != nil {
		return nil, err
	}
	st.lines, st.noEOL = splitContent(data)
	ws.track(st)
	return st, nil
}

func (ws *workspace) remove(p string) {
	if _, ok := ws.files[p]; !ok {
		ws.order = append(ws.order, p)
		ws.files[p] = &fileState{path: p}
	}
	ws.removed[p] = true
}

func (ws *workspace) rename(from, to string) *fileState {
	moved := *ws.files[from]
	moved.path = to
	moved.diskMode = ""
	ws.remove(from)
	ws.track(&moved)
	return &moved
}

// commit writes every touched file and removes deleted ones.
func (ws *workspace) commit() error {
	for _, p := range ws.order {
		if ws.removed[p] {
			if err := removeFile(ws.fs, p); err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
			continue
		}
		st := ws.files[p]
		if !st.touched {
			continue
		}
		if err := writeFile(ws.fs, st); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	return nil
}

// writeFile stores st on disk. Files whose type or mode changes are
// recreated, since the filesystem only sets permissions on creation.
func writeFile(fs billy.Filesystem, st *fileState) error {
	if st.diskMode != "" && st.diskMode != st.mode {
		if err := fs.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if st.mode == modeLink {
		if st.diskMode == modeLink {
			if err := fs.Remove(st.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}
		if err := fs.MkdirAll(path.Dir(st.path), 0o755); err != nil {
			return err
		}
		return fs.Symlink(strings.Join(st.lines, "\n"), st.path)
	}
	perm := os.FileMode(0o644)
	if st.mode == modeExec {
		perm = 0o755
	}
	return util.WriteFile(fs, st.path, st.content(), perm)
}

// removeFile deletes p and any directories the removal leaves empty.
func removeFile(fs billy.Filesystem, p string) error {
	if err := fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := fs.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := fs.Remove(dir); err != nil {
			return nil
		}
	}
	return nil
}

func modeString(m os.FileMode) string {
	switch {
	case m&os.ModeSymlink != 0:
		return modeLink
	case m&0o111 != 0:
		return modeExec
	default:
		return "100644"
	}
}
