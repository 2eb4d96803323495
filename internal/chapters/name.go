package chapters

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameBytes = 200

var (
	reSpaces = regexp.MustCompile(`\s+`)

	reReadPrefix    = regexp.MustCompile(`(?i)^.*?\s-\s*read\s+`)
	reChapterSuffix = regexp.MustCompile(`(?i)\s+(?:chapter|ch\.?)\s*\d+(?:\.\d+)?(?:\s+online)?\s*$`)
	reSiteSuffix    = regexp.MustCompile(`\s+\|\s+[^|]+$`)
)

// SafeName turns a title into a file or directory name. Case and spaces are
// kept; characters no common filesystem accepts are dropped.
func SafeName(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\?%*:|"<>`, r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	s := reSpaces.ReplaceAllString(b.String(), " ")
	s = strings.Trim(s, " .")

	for len(s) > maxNameBytes {
		_, size := utf8.DecodeLastRuneInString(s)
		s = strings.TrimRight(s[:len(s)-size], " .")
	}

	if s == "" {
		return "untitled"
	}
	return s
}

// CleanTitle strips reader chrome from a document title, e.g.
// "Site - Read Some Manga Chapter 1 Online" becomes "Some Manga".
func CleanTitle(docTitle string) string {
	t := strings.TrimSpace(docTitle)
	t = reReadPrefix.ReplaceAllString(t, "")
	t = reChapterSuffix.ReplaceAllString(t, "")
	if u := reSiteSuffix.ReplaceAllString(t, ""); u != "" {
		t = u
	}
	return strings.TrimSpace(t)
}
