// Package drivertest provides a scripted driver.Driver for tests.
package drivertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/brogergvhs/mangabind/internal/driver"
)

type Chapter struct {
	Title string
	Ref   string
	Pages [][]byte
}

type pageKey struct {
	ref  string
	page int
}

// Fake serves canned chapters and replays scripted failures. Every call is
// recorded so tests can assert on the exact interaction.
type Fake struct {
	mu sync.Mutex

	Title    string
	Metadata map[string]string
	CoverURL string
	Book     []Chapter

	current    *Chapter
	pageErrs   map[pageKey][]error
	navErrs    map[string][]error
	countDrift map[string][]int
	advErrs    []error

	Navigations []string
	Fetches     []string
	Advances    int
	InfoCalls   int
	ListCalls   int
	Closed      bool

	// OnFetch runs before every PageImage call.
	OnFetch func(ref string, page int)
}

func New(title string, chapters ...Chapter) *Fake {
	return &Fake{
		Title:      title,
		Metadata:   map[string]string{},
		Book:       chapters,
		pageErrs:   map[pageKey][]error{},
		navErrs:    map[string][]error{},
		countDrift: map[string][]int{},
	}
}

// FailPage makes the next len(errs) fetches of page in ref fail in order.
func (f *Fake) FailPage(ref string, page int, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := pageKey{ref, page}
	f.pageErrs[k] = append(f.pageErrs[k], errs...)
}

// FailNavigate makes the next len(errs) navigations to ref fail in order.
func (f *Fake) FailNavigate(ref string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navErrs[ref] = append(f.navErrs[ref], errs...)
}

// FailAdvance makes the next len(errs) Advance calls fail in order.
func (f *Fake) FailAdvance(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advErrs = append(f.advErrs, errs...)
}

// DriftPageCount makes successive PageCount calls on ref report counts
// instead of the real number of pages.
func (f *Fake) DriftPageCount(ref string, counts ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countDrift[ref] = append(f.countDrift[ref], counts...)
}

func (f *Fake) Navigate(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	f.Navigations = append(f.Navigations, ref)

	if q := f.navErrs[ref]; len(q) > 0 {
		f.navErrs[ref] = q[1:]
		f.current = nil
		return q[0]
	}

	for i := range f.Book {
		if f.Book[i].Ref == ref {
			f.current = &f.Book[i]
			return nil
		}
	}
	f.current = nil
	return fmt.Errorf("%w: %s", driver.ErrNotFound, ref)
}

func (f *Fake) PageCount(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == nil {
		return 0, driver.ErrStale
	}
	if q := f.countDrift[f.current.Ref]; len(q) > 0 {
		f.countDrift[f.current.Ref] = q[1:]
		return q[0], nil
	}
	return len(f.current.Pages), nil
}

func (f *Fake) PageImage(ctx context.Context, index int) ([]byte, error) {
	f.mu.Lock()
	cur := f.current
	hook := f.OnFetch
	f.mu.Unlock()

	if cur == nil {
		return nil, driver.ErrStale
	}
	if hook != nil {
		hook(cur.Ref, index)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Fetches = append(f.Fetches, fmt.Sprintf("%s#%d", cur.Ref, index))

	k := pageKey{cur.Ref, index}
	if q := f.pageErrs[k]; len(q) > 0 {
		f.pageErrs[k] = q[1:]
		return nil, q[0]
	}
	if index < 1 || index > len(cur.Pages) {
		return nil, fmt.Errorf("page %d out of range", index)
	}
	return cur.Pages[index-1], nil
}

func (f *Fake) Advance(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Advances++
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(f.advErrs) > 0 {
		err := f.advErrs[0]
		f.advErrs = f.advErrs[1:]
		return err
	}
	return nil
}

func (f *Fake) Info(_ context.Context, _ string) (driver.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InfoCalls++

	meta := make(map[string]string, len(f.Metadata))
	for k, v := range f.Metadata {
		meta[k] = v
	}
	return driver.Info{Title: f.Title, Metadata: meta, CoverURL: f.CoverURL}, nil
}

func (f *Fake) Chapters(_ context.Context, _ string) ([]driver.ChapterRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++

	out := make([]driver.ChapterRef, len(f.Book))
	for i, ch := range f.Book {
		out[i] = driver.ChapterRef{Title: ch.Title, Ref: ch.Ref, Number: i + 1}
	}
	return out, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// JPEG encodes a solid w×h image.
func JPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, gray)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Chapterf builds a chapter whose pages have the given sizes, each as
// [width, height].
func Chapterf(ref, title string, sizes ...[2]int) Chapter {
	ch := Chapter{Title: title, Ref: ref}
	for _, s := range sizes {
		ch.Pages = append(ch.Pages, JPEG(s[0], s[1]))
	}
	return ch
}

var _ driver.Driver = (*Fake)(nil)
