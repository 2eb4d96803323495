// Package acquire drives a page driver through one chapter and turns every
// page into normalized page files.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/ui"
)

type Options struct {
	// PageReadyTimeout bounds the polling for one page image.
	PageReadyTimeout time.Duration
	PollInterval     time.Duration
	// ContentTimeout bounds how long a navigation keeps retrying while the
	// origin reports itself temporarily unavailable.
	ContentTimeout   time.Duration
	NavRetryInterval time.Duration
	// AdvanceEvery issues the reader's "next" action after every n-th raw
	// page. The default reader shows two pages per step. 0 disables it.
	AdvanceEvery int
}

func DefaultOptions() Options {
	return Options{
		PageReadyTimeout: 10 * time.Second,
		PollInterval:     250 * time.Millisecond,
		ContentTimeout:   60 * time.Second,
		NavRetryInterval: 5 * time.Second,
		AdvanceEvery:     2,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.PageReadyTimeout <= 0 {
		o.PageReadyTimeout = d.PageReadyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ContentTimeout <= 0 {
		o.ContentTimeout = d.ContentTimeout
	}
	if o.NavRetryInterval <= 0 {
		o.NavRetryInterval = d.NavRetryInterval
	}
	if o.AdvanceEvery < 0 {
		o.AdvanceEvery = 0
	}
	return o
}

// Classifier writes the page files for one raw page image.
type Classifier interface {
	Classify(raw []byte, chapter, page int) ([]string, error)
}

// Progress receives per-page updates. *ui.ProgressHandle implements it.
type Progress interface {
	SetTotal(total int)
	Update(done, total int, bytes int64)
}

// ChapterError aborts the run: a page could not be acquired after its one
// reload, the page count was inconsistent, or a page did not decode.
type ChapterError struct {
	Chapter int
	Page    int
	Reason  string
	Err     error
}

func (e *ChapterError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("chapter %d page %d: %s: %v", e.Chapter+1, e.Page, e.Reason, e.Err)
	}
	return fmt.Sprintf("chapter %d: %s: %v", e.Chapter+1, e.Reason, e.Err)
}

func (e *ChapterError) Unwrap() error { return e.Err }

var errPageCount = errors.New("page count mismatch")

type Acquirer struct {
	drv  driver.Driver
	cls  Classifier
	log  *ui.Logger
	opts Options
}

func New(drv driver.Driver, cls Classifier, log *ui.Logger, opts Options) *Acquirer {
	if log == nil {
		log = ui.Discard()
	}
	return &Acquirer{drv: drv, cls: cls, log: log, opts: opts.normalized()}
}

// chapterRun is the mutable state of one AcquireChapter call.
type chapterRun struct {
	index int
	ref   string
	total int
	// advances counts the advances issued so far, failed ones included,
	// so a reload replays to the intended position.
	advances int
	// advanceErr is a failed advance charged to the next page.
	advanceErr error
}

// AcquireChapter fetches every page of ch in order and returns the page
// files in emission order. Context errors are returned unwrapped by
// ChapterError so callers can tell an interrupt from a failure.
func (a *Acquirer) AcquireChapter(ctx context.Context, index int, ch manga.Chapter, progress Progress) ([]string, error) {
	run := &chapterRun{index: index, ref: ch.SourceRef}

	if err := a.navigate(ctx, ch.SourceRef); err != nil {
		return nil, a.fail(ctx, run, 0, "navigate", err)
	}

	n, err := a.drv.PageCount(ctx)
	if err != nil {
		return nil, a.fail(ctx, run, 0, "count pages", err)
	}
	if n <= 0 {
		return nil, &ChapterError{Chapter: index, Reason: "count pages", Err: fmt.Errorf("%w: reader shows %d pages", errPageCount, n)}
	}
	run.total = n

	a.log.Debugf("Chapter %d (%s): %d pages\n", index+1, ch.Title, n)
	if progress != nil {
		progress.SetTotal(n)
	}

	var (
		files []string
		bytes int64
	)

	for page := 1; page <= n; page++ {
		raw, err := a.fetchWithRecovery(ctx, run, page)
		if err != nil {
			return nil, err
		}

		paths, err := a.cls.Classify(raw, index, page)
		if err != nil {
			return nil, &ChapterError{Chapter: index, Page: page, Reason: "classify", Err: err}
		}
		a.log.Debugf("Chapter %d page %d -> %d file(s)\n", index+1, page, len(paths))

		files = append(files, paths...)
		bytes += int64(len(raw))
		if progress != nil {
			progress.Update(page, n, bytes)
		}

		if a.opts.AdvanceEvery > 0 && page%a.opts.AdvanceEvery == 0 {
			run.advances++
			if err := a.drv.Advance(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				a.log.Warnf("Chapter %d: advance after page %d failed: %v\n", index+1, page, err)
				run.advanceErr = err
			}
		}
	}

	return files, nil
}

// fetchWithRecovery fetches page once, and on failure reloads the chapter
// and tries exactly once more. A failed advance before page counts as its
// first failure.
func (a *Acquirer) fetchWithRecovery(ctx context.Context, run *chapterRun, page int) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if run.advanceErr != nil {
		err = fmt.Errorf("advance before page: %w", run.advanceErr)
		run.advanceErr = nil
	} else {
		raw, err = a.fetchPage(ctx, page)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	a.log.Warnf("Chapter %d page %d failed (%v), reloading chapter\n", run.index+1, page, err)

	if err := a.reload(ctx, run); err != nil {
		return nil, a.fail(ctx, run, page, "reload", err)
	}

	raw, err = a.fetchPage(ctx, page)
	if err != nil {
		return nil, a.fail(ctx, run, page, "retry exhausted", err)
	}
	return raw, nil
}

// fetchPage polls the driver until the page image is rendered or the
// page-ready timeout elapses.
func (a *Acquirer) fetchPage(ctx context.Context, page int) ([]byte, error) {
	deadline := time.Now().Add(a.opts.PageReadyTimeout)

	for {
		raw, err := a.drv.PageImage(ctx, page)
		if err == nil && len(raw) == 0 {
			err = driver.ErrNotReady
		}
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, driver.ErrNotReady) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("not ready after %s: %w", a.opts.PageReadyTimeout, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.opts.PollInterval):
		}
	}
}

// navigate loads ref, retrying while the origin reports a temporary outage.
func (a *Acquirer) navigate(ctx context.Context, ref string) error {
	deadline := time.Now().Add(a.opts.ContentTimeout)

	for {
		err := a.drv.Navigate(ctx, ref)
		if err == nil {
			return nil
		}
		if !errors.Is(err, driver.ErrUnavailable) {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("content not ready after %s: %w", a.opts.ContentTimeout, err)
		}

		a.log.Infof("Origin temporarily unavailable, retrying in %s\n", a.opts.NavRetryInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.opts.NavRetryInterval):
		}
	}
}

// reload renavigates the chapter and replays the advances issued so far so
// the reader shows the same position again.
func (a *Acquirer) reload(ctx context.Context, run *chapterRun) error {
	if err := a.navigate(ctx, run.ref); err != nil {
		return err
	}

	n, err := a.drv.PageCount(ctx)
	if err != nil {
		return err
	}
	if n != run.total {
		return fmt.Errorf("%w: %d pages before reload, %d after", errPageCount, run.total, n)
	}

	for i := 0; i < run.advances; i++ {
		if err := a.drv.Advance(ctx); err != nil {
			return fmt.Errorf("replay advance %d/%d: %w", i+1, run.advances, err)
		}
	}
	return nil
}

func (a *Acquirer) fail(ctx context.Context, run *chapterRun, page int, reason string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ChapterError{Chapter: run.index, Page: page, Reason: reason, Err: err}
}
