package acquire

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/driver/drivertest"
	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/pages"
)

const ref = "https://reader.example/ch/1"

var (
	portrait = [2]int{60, 80}
	spread   = [2]int{160, 80}
)

func fastOptions() Options {
	return Options{
		PageReadyTimeout: 30 * time.Millisecond,
		PollInterval:     time.Millisecond,
		ContentTimeout:   50 * time.Millisecond,
		NavRetryInterval: time.Millisecond,
		AdvanceEvery:     2,
	}
}

func setup(t *testing.T, sizes ...[2]int) (*drivertest.Fake, *Acquirer, string) {
	t.Helper()
	fake := drivertest.New("Test", drivertest.Chapterf(ref, "Chapter 1", sizes...))
	dir := t.TempDir()
	acq := New(fake, pages.NewClassifier(dir, pages.RightToLeft, 80), nil, fastOptions())
	return fake, acq, dir
}

func chapter() manga.Chapter {
	return manga.Chapter{Title: "Chapter 1", SourceRef: ref, Number: 1}
}

type recorder struct {
	total int
	done  []int
}

func (r *recorder) SetTotal(total int)          { r.total = total }
func (r *recorder) Update(done, _ int, _ int64) { r.done = append(r.done, done) }

func TestAcquireChapter_OrderAndAdvanceCadence(t *testing.T) {
	fake, acq, dir := setup(t, portrait, spread, portrait, portrait, portrait)
	rec := &recorder{}

	files, err := acq.AcquireChapter(context.Background(), 0, chapter(), rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "000_p001.jpg"),
		filepath.Join(dir, "000_p002_0.jpg"),
		filepath.Join(dir, "000_p002_1.jpg"),
		filepath.Join(dir, "000_p003.jpg"),
		filepath.Join(dir, "000_p004.jpg"),
		filepath.Join(dir, "000_p005.jpg"),
	}, files)

	assert.Equal(t, 2, fake.Advances, "advance after pages 2 and 4")
	assert.Equal(t, []string{ref}, fake.Navigations)
	assert.Equal(t, 5, rec.total)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, rec.done)
}

func TestAcquireChapter_AdvanceDisabled(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait, portrait)
	acq.opts.AdvanceEvery = 0

	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	require.NoError(t, err)
	assert.Zero(t, fake.Advances)
}

func TestAcquireChapter_StaleRecoversWithOneReload(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait, portrait)
	fake.FailPage(ref, 3, driver.ErrStale)

	files, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	assert.Equal(t, []string{ref, ref}, fake.Navigations)
	// after page 2, one replay after reload, after page 4
	assert.Equal(t, 3, fake.Advances)
	assert.Equal(t, []string{ref + "#1", ref + "#2", ref + "#3", ref + "#3", ref + "#4"}, fake.Fetches)
}

func TestAcquireChapter_FailedAdvanceReloadsBeforeNextPage(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait, portrait)
	fake.FailAdvance(driver.ErrStale)

	files, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	assert.Equal(t, []string{ref, ref}, fake.Navigations)
	// failed advance after page 2, its replay after reload, after page 4
	assert.Equal(t, 3, fake.Advances)
	assert.Equal(t, []string{ref + "#1", ref + "#2", ref + "#3", ref + "#4"}, fake.Fetches)
}

func TestAcquireChapter_FailedAdvanceUsesThePageRetry(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait)
	fake.FailAdvance(driver.ErrStale)
	fake.FailPage(ref, 3, driver.ErrStale)

	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)

	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Page)
	assert.Equal(t, "retry exhausted", ce.Reason)
	assert.Len(t, fake.Navigations, 2)
}

func TestAcquireChapter_SecondConsecutiveFailureIsFatal(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait)
	fake.FailPage(ref, 3, driver.ErrStale, driver.ErrStale)

	files, err := acq.AcquireChapter(context.Background(), 2, chapter(), nil)
	assert.Nil(t, files)

	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Chapter)
	assert.Equal(t, 3, ce.Page)
	assert.ErrorIs(t, err, driver.ErrStale)
}

func TestAcquireChapter_PollsUntilReady(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait)
	fake.FailPage(ref, 1, driver.ErrNotReady, driver.ErrNotReady, driver.ErrNotReady)

	files, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Equal(t, []string{ref}, fake.Navigations, "polling must not reload")
}

func TestAcquireChapter_ReadinessTimeoutTriggersReload(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait)
	acq.opts.PageReadyTimeout = 0
	many := make([]error, 3)
	for i := range many {
		many[i] = driver.ErrNotReady
	}
	fake.FailPage(ref, 2, many...)

	// a zero timeout gives each attempt exactly one poll
	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)

	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Page)
	assert.ErrorIs(t, err, driver.ErrNotReady)
	assert.Len(t, fake.Navigations, 2)
}

func TestAcquireChapter_NoPagesIsFatal(t *testing.T) {
	_, acq, _ := setup(t)

	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, errPageCount)
}

func TestAcquireChapter_PageCountDriftOnReloadIsFatal(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait)
	fake.DriftPageCount(ref, 3, 2)
	fake.FailPage(ref, 2, driver.ErrStale)

	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "reload", ce.Reason)
	assert.ErrorIs(t, err, errPageCount)
}

func TestAcquireChapter_RetriesUnavailableNavigation(t *testing.T) {
	fake, acq, _ := setup(t, portrait)
	fake.FailNavigate(ref, driver.ErrUnavailable, driver.ErrUnavailable)

	files, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)
	require.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Len(t, fake.Navigations, 3)
}

func TestAcquireChapter_NotFoundNavigationIsFatal(t *testing.T) {
	_, acq, _ := setup(t, portrait)

	ch := chapter()
	ch.SourceRef = "https://reader.example/ch/404"
	_, err := acq.AcquireChapter(context.Background(), 0, ch, nil)

	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, driver.ErrNotFound)
}

func TestAcquireChapter_DecodeErrorIsFatal(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait)
	fake.Book[0].Pages[1] = []byte("garbage")

	_, err := acq.AcquireChapter(context.Background(), 0, chapter(), nil)

	var de *pages.DecodeError
	require.ErrorAs(t, err, &de)
	var ce *ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Page)
}

func TestAcquireChapter_CancelIsNotAChapterError(t *testing.T) {
	fake, acq, _ := setup(t, portrait, portrait, portrait)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake.OnFetch = func(_ string, page int) {
		if page == 2 {
			cancel()
		}
	}

	_, err := acq.AcquireChapter(ctx, 0, chapter(), nil)
	require.ErrorIs(t, err, context.Canceled)

	var ce *ChapterError
	assert.False(t, errors.As(err, &ce))
}
