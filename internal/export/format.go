// Package export binds partitioned batches into documents.
package export

import (
	"fmt"
	"strings"
)

type Format string

const (
	PDF  Format = "pdf"
	EPUB Format = "epub"
	CBZ  Format = "cbz"
	// Images binds nothing and keeps the acquired page files in place.
	Images Format = "images"
)

// Ext is the file extension, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// ParseFormats accepts "pdf,epub" style lists. Duplicates collapse; order
// is kept.
func ParseFormats(list []string) ([]Format, error) {
	var out []Format
	seen := map[Format]bool{}

	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			f := Format(strings.ToLower(strings.TrimSpace(part)))
			if f == "" {
				continue
			}
			switch f {
			case PDF, EPUB, CBZ, Images:
			default:
				return nil, fmt.Errorf("unknown format %q (want pdf, epub, cbz or images)", part)
			}
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no export format given")
	}
	return out, nil
}

// Documents drops Images from formats, leaving what an encoder binds.
func Documents(formats []Format) []Format {
	var out []Format
	for _, f := range formats {
		if f != Images {
			out = append(out, f)
		}
	}
	return out
}

// KeepsImages reports whether formats ask for the page files to stay.
func KeepsImages(formats []Format) bool {
	for _, f := range formats {
		if f == Images {
			return true
		}
	}
	return false
}

type PageSize string

const (
	PageNone   PageSize = "None"
	PageA4     PageSize = "A4"
	PageA5     PageSize = "A5"
	PageLetter PageSize = "Letter"
	PageLegal  PageSize = "Legal"
)

func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PageNone, nil
	case "a4":
		return PageA4, nil
	case "a5":
		return PageA5, nil
	case "letter":
		return PageLetter, nil
	case "legal":
		return PageLegal, nil
	}
	return "", fmt.Errorf("unknown page size %q (want A4, A5, Letter, Legal or None)", s)
}
