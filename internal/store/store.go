// Package store persists patch files in a directory and stages the changes
// in the enclosing git repository.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/thiagokokada/gitpatcher-go/internal/patch"
)

// Stager records changed paths in a version-control index. *git.Repo
// implements it.
type Stager interface {
	Stage(paths ...string) error
}

// StoreError reports a failed read, write or staging operation.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("patch store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("patch store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

type Options struct {
	Stager Stager
	Logger *slog.Logger
}

// Store is a patch directory. It reads and writes whole files and never
// looks inside the diffs it carries.
type Store struct {
	fs     billy.Filesystem
	stager Stager
	log    *slog.Logger
}

// Open returns a store for the patch directory dir. The directory does not
// have to exist yet; it is created on the first write.
func Open(dir string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &StoreError{Op: "open", Path: dir, Err: err}
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return nil, &StoreError{Op: "open", Path: abs, Err: errors.New("not a directory")}
	}
	return New(osfs.New(abs), opts), nil
}

// New returns a store rooted at fs.
func New(fs billy.Filesystem, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{fs: fs, stager: opts.Stager, log: logger}
}

// Dir is the absolute patch directory for on-disk stores.
func (s *Store) Dir() string {
	return s.fs.Root()
}

// Path returns the location of the named patch file.
func (s *Store) Path(name string) string {
	return s.fs.Join(s.fs.Root(), name)
}

// Load reads every NNNN-*.patch file in sequence order. Gaps and duplicate
// sequence numbers left behind by an interrupted run are returned as-is so
// that reconciliation can repair them; Validate on the result reports them.
func (s *Store) Load() (patch.Set, error) {
	infos, err := s.fs.ReadDir(".")
	if errors.Is(err, os.ErrNotExist) {
		return patch.Set{}, nil
	}
	if err != nil {
		return patch.Set{}, &StoreError{Op: "list", Path: s.Dir(), Err: err}
	}

	var set patch.Set
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		seq, ok, err := patch.ParseFileName(name)
		if !ok {
			continue
		}
		if err != nil {
			return patch.Set{}, &StoreError{Op: "load", Path: name, Err: err}
		}
		data, err := util.ReadFile(s.fs, name)
		if err != nil {
			return patch.Set{}, &StoreError{Op: "read", Path: name, Err: err}
		}
		rec, err := patch.Parse(data)
		if err != nil {
			return patch.Set{}, &StoreError{Op: "parse", Path: name, Err: err}
		}
		rec.Seq = seq
		rec.Name = name
		rec.Hash = patch.ContentHash(data)
		set.Records = append(set.Records, rec)
	}
	sort.SliceStable(set.Records, func(i, j int) bool {
		a, b := set.Records[i], set.Records[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.Name < b.Name
	})
	if err := set.Validate(); err != nil {
		s.log.Warn("patch directory needs repair", slog.String("dir", s.Dir()), slog.Any("err", err))
	}
	s.log.Debug("loaded patches", slog.String("dir", s.Dir()), slog.Int("count", set.Len()))
	return set, nil
}

// LoadStrict is Load for consumers that need a contiguous series.
func (s *Store) LoadStrict() (patch.Set, error) {
	set, err := s.Load()
	if err != nil {
		return patch.Set{}, err
	}
	if err := set.Validate(); err != nil {
		return patch.Set{}, &StoreError{Op: "load", Path: s.Dir(), Err: err}
	}
	return set, nil
}

// Create writes a patch file that must not exist yet.
func (s *Store) Create(r patch.Record) error {
	if _, err := s.fs.Stat(r.Name); err == nil {
		return &StoreError{Op: "create", Path: r.Name, Err: os.ErrExist}
	}
	if err := s.write(r.Name, r.Bytes()); err != nil {
		return &StoreError{Op: "create", Path: r.Name, Err: err}
	}
	s.log.Debug("created patch", slog.String("name", r.Name))
	return nil
}

// Overwrite replaces a patch file. Readers see either the old or the new
// content, never a mix.
func (s *Store) Overwrite(r patch.Record) error {
	if err := s.write(r.Name, r.Bytes()); err != nil {
		return &StoreError{Op: "overwrite", Path: r.Name, Err: err}
	}
	s.log.Debug("overwrote patch", slog.String("name", r.Name))
	return nil
}

func (s *Store) write(name string, data []byte) (err error) {
	if err := s.fs.MkdirAll(".", 0o755); err != nil {
		return err
	}
	tmp := "." + name + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Join(err, removeQuietly(s.fs, tmp))
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		return errors.Join(err, removeQuietly(s.fs, tmp))
	}
	return nil
}

func removeQuietly(fs billy.Basic, name string) error {
	if err := fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Delete removes a patch file.
func (s *Store) Delete(name string) error {
	if err := s.fs.Remove(name); err != nil {
		return &StoreError{Op: "delete", Path: name, Err: err}
	}
	s.log.Debug("deleted patch", slog.String("name", name))
	return nil
}

// Stage records the named files (written or deleted) in the index of the
// enclosing repository. Without a Stager it does nothing.
func (s *Store) Stage(names ...string) error {
	if s.stager == nil || len(names) == 0 {
		return nil
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = s.Path(name)
	}
	if err := s.stager.Stage(paths...); err != nil {
		return &StoreError{Op: "stage", Path: s.Dir(), Err: err}
	}
	s.log.Debug("staged patches", slog.Int("count", len(paths)))
	return nil
}
