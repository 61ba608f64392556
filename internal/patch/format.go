package patch

import (
	"bytes"
	"strings"
)

const (
	// DateLayout is the fixed-width RFC 2822 form used in the Date header.
	DateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

	// fromMagic is the constant mbox separator date git format-patch writes.
	fromMagic   = "Mon Sep 17 00:00:00 2001"
	zeroCommit  = "0000000000000000000000000000000000000000"
	subjectTag  = "[PATCH] "
	diffGitLine = "diff --git "
)

// Render produces the on-disk bytes of r: mail-style header, blank line,
// optional body and the diff, in a layout git am understands.
func Render(r Record) []byte {
	var buf bytes.Buffer
	commit := r.Commit
	if commit == "" {
		commit = zeroCommit
	}
	buf.WriteString("From " + commit + " " + fromMagic + "\n")
	buf.WriteString("From: " + r.Header.Author + " <" + r.Header.Email + ">\n")
	buf.WriteString("Date: " + r.Header.Date.Format(DateLayout) + "\n")
	buf.WriteString("Subject: " + subjectTag + r.Header.Subject + "\n")
	buf.WriteByte('\n')
	if r.Header.Body != "" {
		buf.WriteString(r.Header.Body)
		buf.WriteString("\n\n")
	}
	buf.Write(r.Diff)
	return buf.Bytes()
}

// SplitMessage splits a commit message into its subject (first non-blank
// line) and body (the rest, without surrounding blank lines). ok is false
// for a message that is empty or only whitespace.
func SplitMessage(message string) (subject, body string, ok bool) {
	message = strings.TrimLeft(message, " \t\r\n")
	if message == "" {
		return "", "", false
	}
	first, rest, _ := strings.Cut(message, "\n")
	subject = strings.TrimSpace(first)
	body = strings.TrimRight(trimLeadingBlankLines(rest), " \t\r\n")
	return subject, body, true
}

func trimLeadingBlankLines(s string) string {
	for {
		line, rest, found := strings.Cut(s, "\n")
		if strings.TrimSpace(line) != "" || !found {
			if strings.TrimSpace(line) == "" {
				return ""
			}
			return s
		}
		s = rest
	}
}
