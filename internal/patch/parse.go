package patch

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrMalformed is wrapped by every Parse failure.
var ErrMalformed = errors.New("malformed patch")

// diffstatSummary matches the last line of the stat git format-patch puts
// between "---" and the diff.
var diffstatSummary = regexp.MustCompile(`^ \d+ files? changed`)

// dateParseLayout also accepts the unpadded day git format-patch writes.
const dateParseLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// Parse reads a patch file. Seq, Name and Hash are left for the caller, who
// knows the file name; the diff is returned byte for byte.
func Parse(data []byte) (Record, error) {
	var (
		r           Record
		lineNo      int
		offset      int
		headers     = map[string]string{}
		lastHeader  string
		bodyLines   []string
		inBody      bool
		inSeparator bool
	)
	for offset < len(data) {
		end := bytes.IndexByte(data[offset:], '\n')
		next := len(data)
		if end >= 0 {
			next = offset + end + 1
		}
		raw := data[offset:next]
		line := strings.TrimRight(string(raw), "\r\n")
		lineNo++

		if strings.HasPrefix(line, diffGitLine) && (inBody || inSeparator) {
			r.Diff = data[offset:]
			break
		}
		switch {
		case inSeparator:
		case inBody:
			if line == "---" && diffstatFollows(data[next:]) {
				inSeparator = true
				break
			}
			bodyLines = append(bodyLines, line)
		case lineNo == 1 && strings.HasPrefix(line, "From ") && strings.HasSuffix(line, fromMagic):
			r.Commit = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "From "), fromMagic))
		case line == "":
			inBody = true
		case (line[0] == ' ' || line[0] == '\t') && lastHeader != "":
			headers[lastHeader] += " " + strings.TrimSpace(line)
		default:
			key, value, found := strings.Cut(line, ":")
			if !found {
				return Record{}, fmt.Errorf("%w: line %d: expected header, got %q", ErrMalformed, lineNo, line)
			}
			lastHeader = strings.ToLower(key)
			headers[lastHeader] = strings.TrimSpace(value)
		}
		offset = next
	}
	if !inBody {
		return Record{}, fmt.Errorf("%w: missing blank line after header", ErrMalformed)
	}

	from, ok := headers["from"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing From header", ErrMalformed)
	}
	r.Header.Author, r.Header.Email = splitAddress(from)

	date, ok := headers["date"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing Date header", ErrMalformed)
	}
	when, err := time.Parse(dateParseLayout, date)
	if err != nil {
		return Record{}, fmt.Errorf("%w: Date header: %v", ErrMalformed, err)
	}
	r.Header.Date = when

	subject, ok := headers["subject"]
	if !ok {
		return Record{}, fmt.Errorf("%w: missing Subject header", ErrMalformed)
	}
	r.Header.Subject = stripSubjectTag(subject)
	r.Header.Body = strings.TrimRight(trimLeadingBlankLines(strings.Join(bodyLines, "\n")), " \t\r\n")
	return r, nil
}

// diffstatFollows reports whether the lines before the first "diff --git"
// in data include a diffstat summary. A "---" line without one is part of
// the commit message.
func diffstatFollows(data []byte) bool {
	for _, raw := range bytes.Split(data, []byte("\n")) {
		line := strings.TrimRight(string(raw), "\r")
		if strings.HasPrefix(line, diffGitLine) {
			return false
		}
		if diffstatSummary.MatchString(line) {
			return true
		}
	}
	return false
}

func splitAddress(s string) (name, email string) {
	open := strings.LastIndexByte(s, '<')
	if open < 0 || !strings.HasSuffix(s, ">") {
		return s, ""
	}
	return strings.TrimSpace(s[:open]), s[open+1 : len(s)-1]
}

// stripSubjectTag removes a leading "[PATCH]" or "[PATCH n/m]".
func stripSubjectTag(subject string) string {
	if !strings.HasPrefix(subject, "[PATCH") {
		return subject
	}
	end := strings.IndexByte(subject, ']')
	if end < 0 {
		return subject
	}
	return strings.TrimSpace(subject[end+1:])
}
