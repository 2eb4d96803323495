package export

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	epub "github.com/go-shiori/go-epub"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/volume"
)

const pageCSS = `body { margin: 0; padding: 0; text-align: center; }
div.page { page-break-after: always; break-after: page; margin: 0; }
div.page:last-child { page-break-after: auto; break-after: auto; }
img { max-width: 100%; max-height: 100vh; }
`

// EPUBEncoder writes one section per chapter with one image per page.
type EPUBEncoder struct{}

func (EPUBEncoder) Encode(_ context.Context, job *manga.Job, b volume.Batch, out string) error {
	title := job.Title
	if b.StartChapter != 0 || b.EndChapter != len(job.Chapters)-1 {
		title = fmt.Sprintf("%s (%d-%d)", job.Title, b.StartChapter+1, b.EndChapter+1)
	}

	book, err := epub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("new epub: %w", err)
	}
	if a := job.Author(); a != "" {
		book.SetAuthor(a)
	}
	if desc := describe(job); desc != "" {
		book.SetDescription(desc)
	}
	if lang := job.Metadata["language"]; lang != "" {
		book.SetLang(lang)
	}

	css, err := book.AddCSS("data:text/css;base64,"+base64.StdEncoding.EncodeToString([]byte(pageCSS)), "pages.css")
	if err != nil {
		return fmt.Errorf("add css: %w", err)
	}

	if b.Cover != "" {
		img, err := book.AddImage(b.Cover, "cover"+filepath.Ext(b.Cover))
		if err != nil {
			return fmt.Errorf("add cover: %w", err)
		}
		book.SetCover(img, "")
	}

	for i, sec := range b.Sections {
		var body strings.Builder
		for p, page := range sec.Pages {
			img, err := book.AddImage(page, filepath.Base(page))
			if err != nil {
				return fmt.Errorf("chapter %q page %d: %w", sec.Title, p+1, err)
			}
			fmt.Fprintf(&body, `<div class="page"><img src="%s" alt="%s"/></div>`,
				img, html.EscapeString(fmt.Sprintf("%s %s page %d", job.Title, sec.Title, p+1)))
		}

		name := fmt.Sprintf("chapter%04d.xhtml", b.StartChapter+i+1)
		if _, err := book.AddSection(body.String(), sec.Title, name, css); err != nil {
			return fmt.Errorf("chapter %q: %w", sec.Title, err)
		}
	}

	tmp := out + ".part"
	if err := book.Write(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write epub: %w", err)
	}
	return os.Rename(tmp, out)
}

// describe folds the metadata the container has no field for into the
// description.
func describe(job *manga.Job) string {
	var lines []string
	if d := strings.TrimSpace(job.Metadata["description"]); d != "" {
		lines = append(lines, d)
	}
	for _, key := range []string{"publisher", "artist", "author"} {
		if v := strings.TrimSpace(job.Metadata[key]); v != "" {
			lines = append(lines, fmt.Sprintf("%s%s: %s", strings.ToUpper(key[:1]), key[1:], v))
		}
	}
	return strings.Join(lines, "\n")
}
