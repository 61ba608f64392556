// Package config resolves which submodules to process from flags, the
// environment and a JSON config file, in that order of precedence.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"

	"github.com/thiagokokada/gitpatcher-go/internal/patcher"
)

const (
	DefaultFile    = ".gitpatcher.json"
	DefaultEnvFile = ".env"

	EnvSubmodulePath = "GITPATCHER_SUBMODULE_PATH"
	EnvUpstreamRef   = "GITPATCHER_UPSTREAM_REF"
	EnvPatchDir      = "GITPATCHER_PATCH_DIR"
)

//go:embed schema.json
var schemaJSON string

// Submodule is one entry of the config file. Empty fields are unset.
type Submodule struct {
	SubmodulePath string `json:"submodule-path"`
	UpstreamRef   string `json:"upstream-ref"`
	PatchDir      string `json:"patch-dir"`
}

func (s Submodule) empty() bool {
	return s.SubmodulePath == "" && s.UpstreamRef == "" && s.PatchDir == ""
}

// merge returns s with every field set in over replacing its own.
func (s Submodule) merge(over Submodule) Submodule {
	if over.SubmodulePath != "" {
		s.SubmodulePath = over.SubmodulePath
	}
	if over.UpstreamRef != "" {
		s.UpstreamRef = over.UpstreamRef
	}
	if over.PatchDir != "" {
		s.PatchDir = over.PatchDir
	}
	return s
}

func (s Submodule) target() patcher.Target {
	return patcher.Target{SubmodulePath: s.SubmodulePath, UpstreamRef: s.UpstreamRef, PatchDir: s.PatchDir}
}

type File struct {
	Submodules []Submodule `json:"submodules"`
}

// SchemaError lists why a config file does not match the schema.
type SchemaError struct {
	Path   string
	Issues []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Path, strings.Join(e.Issues, "; "))
}

// LoadEnvFile exports the variables of a dotenv file that are not already
// set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ReadFile reads and validates a config file. Relative paths inside it are
// taken relative to the file's directory.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schemaJSON), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return File{}, &SchemaError{Path: path, Issues: issues}
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range f.Submodules {
		s := &f.Submodules[i]
		s.SubmodulePath = relativeTo(dir, s.SubmodulePath)
		s.PatchDir = relativeTo(dir, s.PatchDir)
	}
	return f, nil
}

func relativeTo(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

type Options struct {
	// Flags holds values given on the command line.
	Flags Submodule
	// Getenv looks up environment variables; os.Getenv when nil.
	Getenv func(string) string
	// File is the config file path. When FileRequired is false a missing
	// file is ignored.
	File         string
	FileRequired bool
}

// Resolve returns the targets to process. Without flags or environment
// values every submodule of the config file is returned. Otherwise those
// values override the file entry for the same submodule-path, or every
// entry when no path was given, or stand alone when the file has none.
func Resolve(opts Options) ([]patcher.Target, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	over := Submodule{
		SubmodulePath: getenv(EnvSubmodulePath),
		UpstreamRef:   getenv(EnvUpstreamRef),
		PatchDir:      getenv(EnvPatchDir),
	}.merge(opts.Flags)

	var entries []Submodule
	if opts.File != "" {
		f, err := ReadFile(opts.File)
		switch {
		case err == nil:
			entries = f.Submodules
		case errors.Is(err, os.ErrNotExist) && !opts.FileRequired:
		default:
			return nil, err
		}
	}

	var chosen []Submodule
	switch {
	case over.empty() && len(entries) == 0:
		return nil, errors.New("no submodule configured: pass -submodule-path, -upstream-ref and -patch-dir or create " + DefaultFile)
	case over.empty():
		chosen = entries
	case over.SubmodulePath != "":
		base := Submodule{}
		for _, e := range entries {
			if samePath(e.SubmodulePath, over.SubmodulePath) {
				base = e
				break
			}
		}
		chosen = []Submodule{base.merge(over)}
	case len(entries) == 0:
		chosen = []Submodule{over}
	default:
		for _, e := range entries {
			chosen = append(chosen, e.merge(over))
		}
	}

	targets := make([]patcher.Target, 0, len(chosen))
	for _, s := range chosen {
		t := s.target()
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("submodule %q: %w", s.SubmodulePath, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
