// Package chapters recognizes chapter links on an index page, selects the
// chapters an operator asked for and names things on disk.
package chapters

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brogergvhs/mangabind/internal/driver"
)

// Link is a chapter link recognized on an index page.
type Link struct {
	URL        string
	Title      string
	NumMain    int
	SuffixType string
	SuffixNum  int
	Label      string
}

var (
	chapRe      = regexp.MustCompile(`(?i)(?:vol(?:ume)?[_\-\s]*\d+[_\-\s]*)?(?:chapter|ch)[_\-\s]*0*([0-9]+)(?:[_\-\s]*([.\-])[_\-\s]*([0-9]+))?`)
	chapterDash = regexp.MustCompile(`chapter[_\-]?0*([0-9]+)[_\-]?([0-9]+)?`)

	volCh       = regexp.MustCompile(`vol[_\-]?(\d+)[/_\-]ch[_\-]?(\d+(?:\.\d+)?)`)
	simpleCh    = regexp.MustCompile(`(?:^|[/\-_])ch[_\-]?(\d+(?:\.\d+)?)`)
	readNumber  = regexp.MustCompile(`/read/(\d+)(?:$|[/?#])`)
	plainNumber = regexp.MustCompile(`[/\-](\d+(?:\.\d+)?)(?:$|[/\-_])`)
	titlePrefix = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*[.\- ]`)

	reLikelyChapter = regexp.MustCompile(`(?i)(?:^|[-_/])(?:ch|chapter)[-_]?\d+`)
)

// ParseLink recognizes href/title as a chapter link. base resolves relative
// hrefs.
func ParseLink(base, href, title string) (Link, bool) {
	href = strings.TrimSpace(href)
	title = strings.Join(strings.Fields(title), " ")

	if !LooksLikeChapterLink(href, title) {
		return Link{}, false
	}
	n, typ, sn, label, ok := parseChapterLabel(href, title)
	if !ok {
		return Link{}, false
	}

	if title == "" {
		title = "Chapter " + label
	}
	return Link{
		URL:        ResolveURL(base, href),
		Title:      title,
		NumMain:    n,
		SuffixType: typ,
		SuffixNum:  sn,
		Label:      label,
	}, true
}

func LooksLikeChapterLink(href, title string) bool {
	h := strings.ToLower(href)
	if reLikelyChapter.MatchString(h) || volCh.MatchString(h) || simpleCh.MatchString(h) || readNumber.MatchString(h) {
		return true
	}

	t := strings.ToLower(title)
	return strings.HasPrefix(t, "ch ") || strings.HasPrefix(t, "chapter ")
}

func parseChapterLabel(href, title string) (int, string, int, string, bool) {
	h := strings.ToLower(href)
	t := strings.ToLower(title)

	if !hasChapterKeywords(h, t) || isExcluded(h) {
		return 0, "", 0, "", false
	}

	matchers := []func() (int, string, int, string, bool){
		func() (int, string, int, string, bool) { return matchChapterDash(h) },
		func() (int, string, int, string, bool) { return matchVolCh(h) },
		func() (int, string, int, string, bool) { return matchSimpleCh(h) },
		func() (int, string, int, string, bool) { return matchNumber(readNumber, h) },
		func() (int, string, int, string, bool) { return matchNumber(plainNumber, h) },
		func() (int, string, int, string, bool) { return matchNumber(titlePrefix, title) },
		func() (int, string, int, string, bool) { return matchChapRe(title) },
	}
	for _, m := range matchers {
		if n, typ, sn, label, ok := m(); ok {
			return n, typ, sn, label, true
		}
	}
	return 0, "", 0, "", false
}

func hasChapterKeywords(h, t string) bool {
	return strings.Contains(h, "ch") ||
		strings.Contains(h, "vol") ||
		strings.Contains(h, "/read/") ||
		strings.Contains(t, "ch") ||
		strings.Contains(t, "vol")
}

func isExcluded(h string) bool {
	return strings.Contains(h, "/u/") || strings.Contains(h, "/user/")
}

func matchChapterDash(h string) (int, string, int, string, bool) {
	m := chapterDash.FindStringSubmatch(h)
	if m == nil {
		return 0, "", 0, "", false
	}
	main, _ := strconv.Atoi(m[1])
	if m[2] != "" {
		sub, _ := strconv.Atoi(m[2])
		return main, "-", sub, fmt.Sprintf("%d-%d", main, sub), true
	}
	return main, "", 0, strconv.Itoa(main), true
}

func matchVolCh(h string) (int, string, int, string, bool) {
	m := volCh.FindStringSubmatch(h)
	if m == nil {
		return 0, "", 0, "", false
	}
	vol, _ := strconv.Atoi(m[1])
	main, typ, sub, label := splitDecimal(m[2])
	return main, typ, sub, fmt.Sprintf("v%d.%s", vol, label), true
}

func matchSimpleCh(h string) (int, string, int, string, bool) {
	m := simpleCh.FindStringSubmatch(h)
	if m == nil {
		return 0, "", 0, "", false
	}
	main, typ, sub, label := splitDecimal(m[1])
	return main, typ, sub, label, true
}

func matchNumber(re *regexp.Regexp, s string) (int, string, int, string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, "", 0, "", false
	}
	main, typ, sub, label := splitDecimal(m[1])
	return main, typ, sub, label, true
}

func matchChapRe(title string) (int, string, int, string, bool) {
	m := chapRe.FindStringSubmatch(title)
	if m == nil {
		return 0, "", 0, "", false
	}
	main, _ := strconv.Atoi(m[1])
	typ := m[2]
	if typ == "" {
		return main, "", 0, strconv.Itoa(main), true
	}
	sub, _ := strconv.Atoi(m[3])
	return main, typ, sub, fmt.Sprintf("%d%s%d", main, typ, sub), true
}

func splitDecimal(s string) (int, string, int, string) {
	main, frac, ok := strings.Cut(s, ".")
	n, _ := strconv.Atoi(main)
	if !ok {
		return n, "", 0, strconv.Itoa(n)
	}
	sub, _ := strconv.Atoi(frac)
	return n, ".", sub, fmt.Sprintf("%d.%d", n, sub)
}

// ResolveURL resolves href against baseURL; unparsable input is returned
// as is.
func ResolveURL(baseURL, href string) string {
	if href == "" {
		return baseURL
	}

	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

// Sort orders links by chapter number and drops duplicate URLs, keeping the
// first occurrence.
func Sort(links []Link) []Link {
	seen := make(map[string]bool, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NumMain != out[j].NumMain {
			return out[i].NumMain < out[j].NumMain
		}
		if out[i].SuffixType != out[j].SuffixType {
			return out[i].SuffixType < out[j].SuffixType
		}
		return out[i].SuffixNum < out[j].SuffixNum
	})
	return out
}

// Refs sorts links and converts them to driver chapter references.
func Refs(links []Link) []driver.ChapterRef {
	links = Sort(links)
	out := make([]driver.ChapterRef, len(links))
	for i, l := range links {
		out[i] = driver.ChapterRef{Title: l.Title, Ref: l.URL, Number: l.NumMain}
	}
	return out
}
