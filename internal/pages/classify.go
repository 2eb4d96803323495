// Package pages turns raw page images into normalized page files, splitting
// two-page spreads into their halves.
package pages

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	// Readers serve WebP as often as JPEG.
	_ "golang.org/x/image/webp"
)

// SplitOrder decides which half of a spread is emitted first.
type SplitOrder int

const (
	// RightToLeft emits the right half first, the reading order of manga.
	RightToLeft SplitOrder = iota
	LeftToRight
)

func ParseSplitOrder(s string) (SplitOrder, error) {
	switch s {
	case "", "rtl", "right-to-left":
		return RightToLeft, nil
	case "ltr", "left-to-right":
		return LeftToRight, nil
	}
	return RightToLeft, fmt.Errorf("unknown split order %q (want rtl or ltr)", s)
}

// DecodeError reports page bytes that are not a readable image.
type DecodeError struct {
	Chapter int
	Page    int
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode chapter %d page %d: %v", e.Chapter, e.Page, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Classifier struct {
	dir         string
	order       SplitOrder
	jpegQuality int
}

func NewClassifier(dir string, order SplitOrder, jpegQuality int) *Classifier {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 92
	}
	return &Classifier{dir: dir, order: order, jpegQuality: jpegQuality}
}

// FileName is the deterministic name of a page file. sub < 0 means the page
// was not split.
func FileName(chapter, page, sub int) string {
	if sub < 0 {
		return fmt.Sprintf("%03d_p%03d.jpg", chapter, page)
	}
	return fmt.Sprintf("%03d_p%03d_%d.jpg", chapter, page, sub)
}

// IsSpread reports whether an image of the given bounds holds two pages.
func IsSpread(b image.Rectangle) bool {
	return b.Dx() > b.Dy()
}

// Classify decodes raw, splits spreads, and writes one or two page files in
// reading order. Re-running it for the same chapter and page overwrites the
// same files.
func (c *Classifier) Classify(raw []byte, chapter, page int) ([]string, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Chapter: chapter, Page: page, Err: err}
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}

	b := img.Bounds()
	if !IsSpread(b) {
		path := filepath.Join(c.dir, FileName(chapter, page, -1))
		if err := c.save(img, path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	halves := SplitSpread(img, c.order)
	out := make([]string, 0, len(halves))
	for sub, half := range halves {
		path := filepath.Join(c.dir, FileName(chapter, page, sub))
		if err := c.save(half, path); err != nil {
			return nil, err
		}
		out = append(out, path)
	}

	return out, nil
}

// SplitSpread cuts img at floor(width/2) and returns both halves in the
// requested order.
func SplitSpread(img image.Image, order SplitOrder) []image.Image {
	b := img.Bounds()
	mid := b.Min.X + b.Dx()/2

	left := imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, mid, b.Max.Y))
	right := imaging.Crop(img, image.Rect(mid, b.Min.Y, b.Max.X, b.Max.Y))

	if order == LeftToRight {
		return []image.Image{left, right}
	}
	return []image.Image{right, left}
}

func (c *Classifier) save(img image.Image, path string) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := imaging.Encode(f, img, imaging.JPEG, imaging.JPEGQuality(c.jpegQuality)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}

	return os.Rename(tmp, path)
}
