package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentHash_IgnoresVolatileParts(t *testing.T) {
	t.Parallel()

	r := sampleRecord(t)
	base := ContentHash(r.Bytes())
	require.Equal(t, r.Hash, base)

	otherCommit := r
	otherCommit.Commit = "fedcba9876543210fedcba9876543210fedcba98"
	require.Equal(t, base, ContentHash(Render(otherCommit)), "source commit id")

	otherIndex := r
	otherIndex.Diff = []byte(strings.Replace(sampleDiff, "index 5716ca5..8c7e5a6", "index 1111111..2222222", 1))
	require.Equal(t, base, ContentHash(Render(otherIndex)), "index line")

	header, diff, found := strings.Cut(string(r.Bytes()), diffGitLine)
	require.True(t, found)
	crlfHeader := strings.ReplaceAll(header, "\n", "\r\n") + diffGitLine + diff
	require.Equal(t, base, ContentHash([]byte(crlfHeader)), "header line endings")

	signed := string(r.Bytes()) + "-- \n2.43.0\n\n"
	require.Equal(t, base, ContentHash([]byte(signed)), "version signature")
}

func TestContentHash_DetectsRealChanges(t *testing.T) {
	t.Parallel()

	r := sampleRecord(t)
	base := ContentHash(r.Bytes())

	edited := r
	edited.Diff = []byte(strings.Replace(sampleDiff, "+TWO", "+Two", 1))
	require.NotEqual(t, base, ContentHash(Render(edited)), "diff content")

	crlfDiff := r
	crlfDiff.Diff = []byte(strings.ReplaceAll(sampleDiff, "+TWO\n", "+TWO\r\n"))
	require.NotEqual(t, base, ContentHash(Render(crlfDiff)), "line endings inside the diff")

	crlfFile := strings.ReplaceAll(string(r.Bytes()), "\n", "\r\n")
	require.NotEqual(t, base, ContentHash([]byte(crlfFile)), "whole file converted to CRLF")

	reworded := r
	reworded.Header.Body = "Explain better."
	require.NotEqual(t, base, ContentHash(Render(reworded)), "message body")

	// A removed "- " line at the end of a hunk is not a signature.
	dashes := r
	dashes.Diff = []byte(sampleDiff + "@@ -9 +8,0 @@\n-- \n")
	require.NotEqual(t, base, ContentHash(Render(dashes)))
}
