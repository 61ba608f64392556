package apply

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	devNull    = "/dev/null"
	modeLink   = "120000"
	modeExec   = "100755"
	diffPrefix = "diff --git "
)

// FilePatch is the change to one file inside a git-style diff.
type FilePatch struct {
	OldPath string // empty for a new file
	NewPath string // empty for a deleted file
	OldMode string
	NewMode string
	Binary  bool
	Hunks   []Hunk
}

// Path is the path the change is reported under.
func (f FilePatch) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

func (f FilePatch) IsNew() bool    { return f.OldPath == "" }
func (f FilePatch) IsDelete() bool { return f.NewPath == "" }

// Hunk is one @@ block. Lines keep their leading ' ', '-' or '+'.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []string
	// OldNoEOL and NewNoEOL record a "\ No newline at end of file" marker
	// after the last line of each side.
	OldNoEOL bool
	NewNoEOL bool
}

// Before returns the lines the hunk expects to find.
func (h Hunk) Before() []string { return h.side('-') }

// After returns the lines the hunk leaves behind.
func (h Hunk) After() []string { return h.side('+') }

func (h Hunk) side(drop byte) []string {
	out := make([]string, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l[0] != drop {
			out = append(out, l[1:])
		}
	}
	return out
}

// ParseDiff splits a git-style unified diff into file patches. Text between
// file sections that is not part of a header or hunk is ignored.
func ParseDiff(diff []byte) ([]FilePatch, error) {
	lines := strings.Split(string(diff), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var (
		files   []FilePatch
		current *FilePatch
	)
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, diffPrefix) {
			oldPath, newPath := parseDiffGitPaths(line[len(diffPrefix):])
			files = append(files, FilePatch{OldPath: oldPath, NewPath: newPath})
			current = &files[len(files)-1]
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "@@ "):
			hunk, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", current.Path(), err)
			}
			current.Hunks = append(current.Hunks, hunk)
			i = next - 1
		case len(current.Hunks) > 0:
			// trailer after the last hunk
		case strings.HasPrefix(line, "new file mode "):
			current.OldPath = ""
			current.NewMode = strings.TrimPrefix(line, "new file mode ")
		case strings.HasPrefix(line, "deleted file mode "):
			current.NewPath = ""
			current.OldMode = strings.TrimPrefix(line, "deleted file mode ")
		case strings.HasPrefix(line, "old mode "):
			current.OldMode = strings.TrimPrefix(line, "old mode ")
		case strings.HasPrefix(line, "new mode "):
			current.NewMode = strings.TrimPrefix(line, "new mode ")
		case strings.HasPrefix(line, "index "):
			if fields := strings.Fields(line); len(fields) == 3 {
				if current.OldMode == "" {
					current.OldMode = fields[2]
				}
				if current.NewMode == "" {
					current.NewMode = fields[2]
				}
			}
		case strings.HasPrefix(line, "rename from "):
			current.OldPath = unquotePath(strings.TrimPrefix(line, "rename from "))
		case strings.HasPrefix(line, "rename to "):
			current.NewPath = unquotePath(strings.TrimPrefix(line, "rename to "))
		case strings.HasPrefix(line, "--- "):
			current.OldPath = headerPath(line[4:], "a/")
		case strings.HasPrefix(line, "+++ "):
			current.NewPath = headerPath(line[4:], "b/")
		case strings.HasPrefix(line, "Binary files ") || line == "GIT binary patch":
			current.Binary = true
		}
	}
	return files, nil
}

func parseHunk(lines []string, start int) (Hunk, int, error) {
	header := lines[start]
	var h Hunk
	if err := parseHunkHeader(header, &h); err != nil {
		return Hunk{}, 0, err
	}
	oldLeft, newLeft := h.OldLines, h.NewLines
	i := start + 1
	for ; i < len(lines) && (oldLeft > 0 || newLeft > 0); i++ {
		line := lines[i]
		if line == "" {
			// some tools strip the space from blank context lines
			line = " "
		}
		switch line[0] {
		case ' ':
			oldLeft--
			newLeft--
		case '-':
			oldLeft--
		case '+':
			newLeft--
		case '\\':
			h.markNoEOL()
			continue
		default:
			return Hunk{}, 0, fmt.Errorf("hunk %q: unexpected line %q", header, lines[i])
		}
		if oldLeft < 0 || newLeft < 0 {
			return Hunk{}, 0, fmt.Errorf("hunk %q: more lines than the header declares", header)
		}
		h.Lines = append(h.Lines, line)
	}
	if oldLeft > 0 || newLeft > 0 {
		return Hunk{}, 0, fmt.Errorf("hunk %q: truncated", header)
	}
	if i < len(lines) && strings.HasPrefix(lines[i], "\\") {
		h.markNoEOL()
		i++
	}
	return h, i, nil
}

func (h *Hunk) markNoEOL() {
	if len(h.Lines) == 0 {
		return
	}
	switch h.Lines[len(h.Lines)-1][0] {
	case '-':
		h.OldNoEOL = true
	case '+':
		h.NewNoEOL = true
	default:
		h.OldNoEOL = true
		h.NewNoEOL = true
	}
}

// parseHunkHeader reads "@@ -a[,b] +c[,d] @@ section".
func parseHunkHeader(header string, h *Hunk) error {
	rest, ok := strings.CutPrefix(header, "@@ -")
	if !ok {
		return fmt.Errorf("bad hunk header %q", header)
	}
	ranges, _, ok := strings.Cut(rest, " @@")
	if !ok {
		return fmt.Errorf("bad hunk header %q", header)
	}
	oldRange, newRange, ok := strings.Cut(ranges, " +")
	if !ok {
		return fmt.Errorf("bad hunk header %q", header)
	}
	var err error
	if h.OldStart, h.OldLines, err = parseRange(oldRange); err != nil {
		return fmt.Errorf("bad hunk header %q: %w", header, err)
	}
	if h.NewStart, h.NewLines, err = parseRange(newRange); err != nil {
		return fmt.Errorf("bad hunk header %q: %w", header, err)
	}
	return nil
}

func parseRange(s string) (start, count int, err error) {
	startText, countText, hasCount := strings.Cut(s, ",")
	if start, err = strconv.Atoi(startText); err != nil {
		return 0, 0, err
	}
	count = 1
	if hasCount {
		if count, err = strconv.Atoi(countText); err != nil {
			return 0, 0, err
		}
	}
	if start < 0 || count < 0 {
		return 0, 0, fmt.Errorf("negative range %q", s)
	}
	return start, count, nil
}

// parseDiffGitPaths reads the two paths of a "diff --git" line. Unquoted
// paths may contain spaces, so the common same-path form is split in the
// middle before falling back to tokenizing.
func parseDiffGitPaths(s string) (oldPath, newPath string) {
	if !strings.HasPrefix(s, `"`) {
		if n := len(s); n > 5 && (n-5)%2 == 0 {
			l := (n - 5) / 2
			if s[:2] == "a/" && s[2+l:5+l] == " b/" && s[2:2+l] == s[5+l:] {
				return s[2 : 2+l], s[5+l:]
			}
		}
	}
	tokens := diffLineTokens(s)
	if len(tokens) < 2 {
		return "", ""
	}
	return strings.TrimPrefix(tokens[0], "a/"), strings.TrimPrefix(tokens[1], "b/")
}

// headerPath reads the path of a ---/+++ line, dropping the a/ or b/ prefix
// and any trailing timestamp.
func headerPath(s, prefix string) string {
	if strings.HasPrefix(s, `"`) {
		tokens := diffLineTokens(s)
		if len(tokens) == 0 {
			return ""
		}
		s = tokens[0]
	} else if tab := strings.IndexByte(s, '\t'); tab >= 0 {
		s = s[:tab]
	}
	if s == devNull {
		return ""
	}
	return strings.TrimPrefix(s, prefix)
}

func unquotePath(s string) string {
	if strings.HasPrefix(s, `"`) {
		if tokens := diffLineTokens(s); len(tokens) > 0 {
			return tokens[0]
		}
	}
	return s
}

// diffLineTokens splits s on blanks, honouring git's C-style quoting with
// octal escapes for non-ASCII bytes.
func diffLineTokens(s string) []string {
	var tokens []string
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			break
		}
		if s[0] == '"' {
			var buf strings.Builder
			i := 1
			for i < len(s) && s[i] != '"' {
				ch := s[i]
				if ch != '\\' || i+1 >= len(s) {
					buf.WriteByte(ch)
					i++
					continue
				}
				i++
				switch esc := s[i]; {
				case esc >= '0' && esc <= '7' && i+2 < len(s):
					if v, err := strconv.ParseUint(s[i:i+3], 8, 8); err == nil {
						buf.WriteByte(byte(v))
						i += 3
						continue
					}
					buf.WriteByte(esc)
				case esc == 'n':
					buf.WriteByte('\n')
				case esc == 't':
					buf.WriteByte('\t')
				default:
					buf.WriteByte(esc)
				}
				i++
			}
			tokens = append(tokens, buf.String())
			if i < len(s) {
				i++
			}
			s = s[i:]
			continue
		}
		j := 0
		for j < len(s) && s[j] != ' ' && s[j] != '\t' {
			j++
		}
		tokens = append(tokens, s[:j])
		s = s[j:]
	}
	return tokens
}
