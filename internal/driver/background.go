package driver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

var reBackgroundURL = regexp.MustCompile(`url\((?:["']?)([^"')]+)(?:["']?)\)`)

// BackgroundURL extracts the url(...) target of a CSS background-image
// value. "none" and empty values yield ErrNotReady.
func BackgroundURL(css string) (string, error) {
	css = strings.TrimSpace(css)
	if css == "" || strings.EqualFold(css, "none") {
		return "", ErrNotReady
	}

	m := reBackgroundURL.FindStringSubmatch(css)
	if m == nil {
		return "", fmt.Errorf("no url() in background %q", truncate(css, 64))
	}

	return strings.TrimSpace(m[1]), nil
}

// IsDataURL reports whether u carries its payload inline.
func IsDataURL(u string) bool {
	return strings.HasPrefix(strings.ToLower(u), "data:")
}

// DecodeDataURL returns the payload of a data: URL.
func DecodeDataURL(u string) ([]byte, error) {
	if !IsDataURL(u) {
		return nil, fmt.Errorf("not a data URL")
	}

	du, err := dataurl.DecodeString(u)
	if err != nil {
		return nil, fmt.Errorf("decode data URL: %w", err)
	}
	return du.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
