package apply

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

var (
	// ErrContextMismatch means a hunk's context lines were not found.
	ErrContextMismatch = errors.New("hunk context does not match")
	// ErrBinary means the patch carries a binary delta.
	ErrBinary = errors.New("binary patches are not supported")
	// ErrFileExists means a patch creates a file that is already there.
	ErrFileExists = errors.New("file already exists")
	// ErrFileMissing means a patch changes or deletes a file that is absent.
	ErrFileMissing = errors.New("file does not exist")
)

// ApplyError reports the first patch of a series that could not be applied.
// Hunk is 1-based; zero means the failure is about the file as a whole.
type ApplyError struct {
	Seq    int
	Name   string
	File   string
	Hunk   int
	Detail string
	Err    error
}

func (e *ApplyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "apply patch %04d (%s): %s", e.Seq, e.Name, e.File)
	if e.Hunk > 0 {
		fmt.Fprintf(&b, " hunk #%d", e.Hunk)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ApplyError) Unwrap() error { return e.Err }

// mismatchDetail shows what the hunk expected next to what the file holds
// around the place it should have matched.
func mismatchDetail(path string, expected, lines []string, at int) string {
	at = max(0, min(at, len(lines)))
	end := min(len(lines), at+len(expected))
	found := lines[at:end]
	ud := difflib.UnifiedDiff{
		A:        withNewlines(expected),
		B:        withNewlines(found),
		FromFile: "expected",
		ToFile:   path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return text
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}
