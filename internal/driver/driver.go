// Package driver defines the capability the acquisition core needs from
// whatever renders the remote reader: a plain HTML fetcher, a headless
// browser, or a scripted fake in tests.
//
// A driver is a single stateful session. Callers must not use it from more
// than one goroutine.
package driver

import (
	"context"
	"errors"
)

var (
	// ErrNotReady means the page exists but its image is not rendered yet.
	ErrNotReady = errors.New("page image not ready")
	// ErrStale means the page context was replaced while it was read; the
	// chapter has to be reloaded.
	ErrStale = errors.New("page context is stale")
	// ErrUnavailable means the origin answered with a temporary outage page.
	ErrUnavailable = errors.New("origin temporarily unavailable")
	// ErrNotFound means the navigation target does not exist.
	ErrNotFound = errors.New("page not found")
)

// ChapterRef is a chapter as discovered on the origin's index.
type ChapterRef struct {
	Title  string
	Ref    string
	Number int
}

// Info describes the collection behind a source reference.
type Info struct {
	Title    string
	Metadata map[string]string
	CoverURL string
}

type Driver interface {
	// Navigate loads ref and waits until its content is ready.
	Navigate(ctx context.Context, ref string) error
	// PageCount is the number of pages of the loaded chapter.
	PageCount(ctx context.Context) (int, error)
	// PageImage returns the raw image of the 1-indexed page.
	PageImage(ctx context.Context, index int) ([]byte, error)
	// Advance issues the reader's "next" action.
	Advance(ctx context.Context) error

	// Info scrapes title and descriptive metadata for sourceRef.
	Info(ctx context.Context, sourceRef string) (Info, error)
	// Chapters lists the chapters reachable from sourceRef in reading order.
	Chapters(ctx context.Context, sourceRef string) ([]ChapterRef, error)

	Close() error
}
