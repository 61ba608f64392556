package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// Extension is the suffix every patch file carries.
	Extension = ".patch"

	maxSlugLen       = 52
	truncatedSlugLen = 44
	subjectHashLen   = 7
)

// FileName returns the deterministic file name for the patch at seq.
func FileName(seq int, subject string) string {
	return fmt.Sprintf("%04d-%s%s", seq, Slug(subject), Extension)
}

// Slug turns a subject into the file-name-safe part of a patch name. ASCII
// letters, digits, '.' and '_' are kept, a paired "()" is dropped and any
// other run of bytes becomes a single '-'. Slugs over the length cap are
// shortened and suffixed with a hash of the full subject.
func Slug(subject string) string {
	var b strings.Builder
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		switch {
		case isSlugByte(c):
			b.WriteByte(c)
		case c == '(' && i+1 < len(subject) && subject[i+1] == ')':
			i++
		case !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
	}
	slug := trimSlug(b.String())
	if slug == "" {
		return subjectHash(subject)
	}
	if len(slug) <= maxSlugLen {
		return slug
	}
	return trimSlug(slug[:truncatedSlugLen]) + "-" + subjectHash(subject)
}

func isSlugByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '_'
}

func trimSlug(s string) string {
	return strings.TrimLeft(strings.TrimRight(s, ".-"), "-")
}

func subjectHash(subject string) string {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(subject)).String()[:subjectHashLen]
}

// ParseFileName extracts the sequence number from a patch file name. ok is
// false for names that are not patch files at all; err is set for patch files
// whose name does not follow the NNNN-slug.patch form.
func ParseFileName(name string) (seq int, ok bool, err error) {
	if !strings.HasSuffix(name, Extension) {
		return 0, false, nil
	}
	digits, _, found := strings.Cut(name, "-")
	if !found || len(digits) < 4 {
		return 0, true, fmt.Errorf("invalid patch name %q", name)
	}
	seq, err = strconv.Atoi(digits)
	if err != nil || seq < 1 || strings.ContainsAny(digits, "+-") {
		return 0, true, fmt.Errorf("invalid patch name %q", name)
	}
	return seq, true, nil
}
