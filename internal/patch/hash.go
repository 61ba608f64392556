package patch

import (
	"bytes"
	"regexp"

	"github.com/go-git/go-git/v5/plumbing"
)

// versionSignature matches the "-- \n2.43.0\n" trailer git format-patch
// appends after the last hunk.
var versionSignature = regexp.MustCompile(`\n-- \r?\n[0-9][0-9A-Za-z.+_-]*[\r\n]*$`)

// ContentHash is the git blob id of the normalized patch content. Two patch
// files with the same hash differ only in ways that do not matter to a
// reader: header line endings, the source commit id, index lines or the
// trailing git version signature. Diff bytes are kept as they are, so a
// change of line endings in a file is a real change.
func ContentHash(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, Normalize(data)).String()
}

// Normalize strips the volatile parts of a patch file.
func Normalize(data []byte) []byte {
	if loc := versionSignature.FindIndex(data); loc != nil {
		data = data[:loc[0]+1]
	}

	var out bytes.Buffer
	out.Grow(len(data))
	inDiff := false
	for i, line := range bytes.SplitAfter(data, []byte("\n")) {
		if i == 0 && bytes.HasPrefix(line, []byte("From ")) &&
			bytes.HasSuffix(bytes.TrimRight(line, "\r\n"), []byte(fromMagic)) {
			continue
		}
		if bytes.HasPrefix(line, []byte(diffGitLine)) {
			inDiff = true
		}
		if !inDiff && bytes.HasSuffix(line, []byte("\r\n")) {
			line = append(line[:len(line)-2:len(line)-2], '\n')
		}
		if inDiff && bytes.HasPrefix(line, []byte("index ")) {
			continue
		}
		out.Write(line)
	}
	return append(bytes.TrimRight(out.Bytes(), "\n"), '\n')
}
