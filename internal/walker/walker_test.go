package walker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangabind/internal/acquire"
	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/driver/drivertest"
	"github.com/brogergvhs/mangabind/internal/export"
	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/pages"
	"github.com/brogergvhs/mangabind/internal/volume"
)

const src = "https://reader.example/manga/book/read/1"

var page = [2]int{40, 60}

type fakeExporter struct {
	calls   int
	batches []volume.Batch
	fail    error
}

func (f *fakeExporter) Export(_ context.Context, job *manga.Job, bs []volume.Batch, formats []export.Format) export.Report {
	f.calls++
	f.batches = bs
	var rep export.Report
	for _, t := range export.Tasks(job, bs, formats) {
		res := export.Result{Task: t, Err: f.fail}
		if f.fail == nil {
			_ = os.WriteFile(t.Path, []byte("doc"), 0o644)
		}
		rep.Results = append(rep.Results, res)
	}
	return rep
}

type fakeCover struct{ err error }

func (c fakeCover) Fetch(_ context.Context, _ string, dest string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	path := dest + ".jpg"
	return path, os.WriteFile(path, drivertest.JPEG(40, 60), 0o644)
}

type harness struct {
	root     string
	fake     *drivertest.Fake
	store    *checkpoint.Store
	exporter *fakeExporter
	states   []State
}

func newHarness(t *testing.T, chapterCount int) *harness {
	t.Helper()
	var chs []drivertest.Chapter
	for i := 1; i <= chapterCount; i++ {
		chs = append(chs, drivertest.Chapterf(chapterRef(i), "Chapter "+string(rune('0'+i)), page, page, page))
	}
	fake := drivertest.New("Book", chs...)
	fake.Metadata["author"] = "Someone"
	fake.CoverURL = "https://reader.example/cover.jpg"

	root := t.TempDir()
	return &harness{
		root:     root,
		fake:     fake,
		store:    checkpoint.NewStore(root),
		exporter: &fakeExporter{},
	}
}

func chapterRef(i int) string {
	return "https://reader.example/manga/book/read/" + string(rune('0'+i))
}

func (h *harness) walker(t *testing.T, cfg Config) *Walker {
	t.Helper()
	if cfg.SourceRef == "" {
		cfg.SourceRef = src
	}
	cfg.OutputRoot = h.root
	if cfg.Formats == nil {
		cfg.Formats = []export.Format{export.CBZ}
	}

	opts := acquire.Options{
		PageReadyTimeout: 20 * time.Millisecond,
		PollInterval:     time.Millisecond,
		ContentTimeout:   20 * time.Millisecond,
		NavRetryInterval: time.Millisecond,
		AdvanceEvery:     2,
	}
	h.states = nil
	return New(cfg, Deps{
		Driver: h.fake,
		Acquirer: func(dir string) ChapterAcquirer {
			return acquire.New(h.fake, pages.NewClassifier(dir, pages.RightToLeft, 80), nil, opts)
		},
		Store:    h.store,
		Cover:    fakeCover{},
		Exporter: h.exporter,
		Observer: func(_, to State) { h.states = append(h.states, to) },
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateDiscovering))
	assert.True(t, CanTransition(StateCheckpointing, StateWalkingChapter))
	assert.True(t, CanTransition(StateExporting, StateDone))
	assert.True(t, CanTransition(StateCompleted, StateDone), "images only")
	assert.True(t, CanTransition(StateWalkingChapter, StateFatal))

	assert.False(t, CanTransition(StateDiscovering, StateExporting))
	assert.False(t, CanTransition(StateWalkingChapter, StateCompleted), "must checkpoint first")
	assert.False(t, CanTransition(StateDone, StateIdle))
	assert.False(t, CanTransition(StateFatal, StateWalkingChapter))
	assert.False(t, CanTransition("bogus", StateDone))

	for s := range allowedTransitions {
		assert.True(t, IsKnownState(s))
	}
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateExporting.Terminal())
}

func TestRun_FreshCompletesAndCleansUp(t *testing.T) {
	h := newHarness(t, 3)

	res, err := h.walker(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{
		StateDiscovering,
		StateWalkingChapter, StateCheckpointing,
		StateWalkingChapter, StateCheckpointing,
		StateWalkingChapter, StateCheckpointing,
		StateCompleted, StateExporting, StateDone,
	}, h.states)

	assert.Equal(t, 2, res.Job.ResumeIndex)
	assert.Equal(t, "Someone", res.Job.Author())
	assert.Equal(t, 1, h.exporter.calls)
	require.Len(t, h.exporter.batches, 1)
	assert.Len(t, h.exporter.batches[0].Images, 10, "cover plus nine pages")

	assert.False(t, h.store.Exists(), "checkpoint cleared after success")
	assert.NoFileExists(t, res.Job.Chapters[0].Pages[0])
	assert.NoFileExists(t, res.Job.CoverPath)
	assert.FileExists(t, filepath.Join(h.root, "Book", "Book.cbz"))
	assert.Equal(t, 10, res.Removed)
}

func TestRun_KeepImagesKeepsIntermediates(t *testing.T) {
	h := newHarness(t, 2)

	res, err := h.walker(t, Config{KeepImages: true}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, h.store.Exists())
	assert.FileExists(t, res.Job.Chapters[1].Pages[0])
	assert.Zero(t, res.Removed)
}

func TestRun_FailureLeavesCheckpointAtLastChapter(t *testing.T) {
	h := newHarness(t, 3)
	h.fake.FailPage(chapterRef(2), 2, driver.ErrStale, driver.ErrStale)

	res, err := h.walker(t, Config{}).Run(context.Background())
	require.Error(t, err)
	var ce *acquire.ChapterError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Chapter)

	assert.Equal(t, StateFatal, res.State)
	assert.Zero(t, h.exporter.calls)

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, saved.ResumeIndex)
	assert.Len(t, saved.Chapters[0].Pages, 3)
	assert.Empty(t, saved.Chapters[1].Pages)
}

func TestRun_ResumeSkipsDiscoveryAndCompletedChapters(t *testing.T) {
	h := newHarness(t, 3)
	h.fake.FailPage(chapterRef(3), 1, driver.ErrStale, driver.ErrStale)

	_, err := h.walker(t, Config{KeepImages: true}).Run(context.Background())
	require.Error(t, err)

	before := len(h.fake.Navigations)
	infoCalls, listCalls := h.fake.InfoCalls, h.fake.ListCalls

	res, err := h.walker(t, Config{Mode: Resume, KeepImages: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)

	assert.Equal(t, infoCalls, h.fake.InfoCalls, "resume must not rediscover")
	assert.Equal(t, listCalls, h.fake.ListCalls)
	assert.Equal(t, []string{chapterRef(3)}, h.fake.Navigations[before:])
	assert.Equal(t, StateWalkingChapter, h.states[0])
	assert.Equal(t, 2, res.Job.ResumeIndex)
}

func TestRun_ResumeOfCompleteJobOnlyExports(t *testing.T) {
	h := newHarness(t, 2)
	_, err := h.walker(t, Config{KeepImages: true}).Run(context.Background())
	require.NoError(t, err)

	navs := len(h.fake.Navigations)
	res, err := h.walker(t, Config{Mode: Resume, KeepImages: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, navs, len(h.fake.Navigations))
	assert.Equal(t, []State{StateCompleted, StateExporting, StateDone}, h.states)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, h.exporter.calls)
}

func TestRun_ExportOnly(t *testing.T) {
	h := newHarness(t, 2)
	h.exporter.fail = errors.New("disk full")

	res, err := h.walker(t, Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatal, res.State)
	assert.True(t, h.store.Exists(), "failed export keeps the checkpoint")
	assert.FileExists(t, res.Job.Chapters[0].Pages[0])

	h.exporter.fail = nil
	res, err = h.walker(t, Config{Mode: ExportOnly}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []State{StateExporting, StateDone}, h.states)
	assert.True(t, res.Report.OK())
	assert.False(t, h.store.Exists())
}

func TestRun_ExportOnlyRebindsVolumes(t *testing.T) {
	h := newHarness(t, 3)
	_, err := h.walker(t, Config{KeepImages: true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.exporter.batches, 1)

	_, err = h.walker(t, Config{Mode: ExportOnly, VolumeDivisor: 2, KeepImages: true}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, h.exporter.batches, 2)
	assert.Equal(t, 2, h.exporter.batches[1].StartChapter)
}

func TestRun_ExportOnlyRejectsIncompleteJob(t *testing.T) {
	h := newHarness(t, 2)
	h.fake.FailPage(chapterRef(2), 1, driver.ErrStale, driver.ErrStale)
	_, err := h.walker(t, Config{}).Run(context.Background())
	require.Error(t, err)

	res, err := h.walker(t, Config{Mode: ExportOnly}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFatal, res.State)
	assert.Zero(t, h.exporter.calls)
}

func TestRun_ResumeWithoutCheckpoint(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.walker(t, Config{Mode: Resume}).Run(context.Background())
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRun_ResumeRejectsOtherSource(t *testing.T) {
	h := newHarness(t, 2)
	h.fake.FailPage(chapterRef(2), 1, driver.ErrStale, driver.ErrStale)
	_, _ = h.walker(t, Config{}).Run(context.Background())

	_, err := h.walker(t, Config{Mode: Resume, SourceRef: "https://elsewhere.example/x"}).Run(context.Background())
	assert.ErrorIs(t, err, ErrSourceMismatch)
}

func TestRun_ExistingDirNeedsOverwrite(t *testing.T) {
	h := newHarness(t, 1)
	dir := filepath.Join(h.root, "Book")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.jpg"), []byte("x"), 0o644))

	_, err := h.walker(t, Config{}).Run(context.Background())
	require.ErrorIs(t, err, ErrDirExists)
	assert.Equal(t, []State{StateDiscovering, StateFatal}, h.states)

	_, err = h.walker(t, Config{Overwrite: true}).Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "stale.jpg"))
}

func TestRun_SelectionAndVolumes(t *testing.T) {
	h := newHarness(t, 5)

	res, err := h.walker(t, Config{
		Selection:     chapters.Selection{Range: "2-4"},
		VolumeDivisor: 2,
		KeepImages:    true,
	}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Job.Chapters, 3)
	assert.Equal(t, 2, res.Job.Chapters[0].Number)
	require.Len(t, h.exporter.batches, 2)
	assert.Equal(t, "Book - 1-2", h.exporter.batches[0].Name)
	assert.Equal(t, "Book - 3-3", h.exporter.batches[1].Name)
}

func TestRun_MissingCoverIsNotFatal(t *testing.T) {
	h := newHarness(t, 1)
	w := h.walker(t, Config{KeepImages: true})
	w.deps.Cover = fakeCover{err: errors.New("404")}

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Job.CoverPath)
}

func TestRun_CancelStopsWithValidCheckpoint(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fake.OnFetch = func(ref string, _ int) {
		if ref == chapterRef(2) {
			cancel()
		}
	}

	res, err := h.walker(t, Config{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFatal, res.State)

	saved, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, saved.ResumeIndex)
}

func TestRun_RunsOnce(t *testing.T) {
	h := newHarness(t, 1)
	w := h.walker(t, Config{KeepImages: true})
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	_, err = w.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_ImagesOnlyKeepsPagesAndCheckpoint(t *testing.T) {
	h := newHarness(t, 2)

	res, err := h.walker(t, Config{Formats: []export.Format{export.Images}}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []State{StateCompleted, StateDone}, h.states[len(h.states)-2:])
	assert.Zero(t, h.exporter.calls)
	assert.Empty(t, res.Report.Results)
	assert.Zero(t, res.Removed)

	assert.True(t, h.store.Exists(), "a later export can still bind the pages")
	assert.FileExists(t, res.Job.Chapters[1].Pages[2])
	assert.FileExists(t, res.Job.CoverPath)

	res, err = h.walker(t, Config{Mode: ExportOnly}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Report.OK())
	assert.Equal(t, 1, h.exporter.calls)
}

func TestRun_ImagesAlongsideDocumentsSkipsCleanup(t *testing.T) {
	h := newHarness(t, 1)

	res, err := h.walker(t, Config{Formats: []export.Format{export.Images, export.CBZ}}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.exporter.calls)
	require.Len(t, res.Report.Results, 1)
	assert.Equal(t, export.CBZ, res.Report.Results[0].Format)
	assert.FileExists(t, res.Job.Chapters[0].Pages[0])
	assert.True(t, h.store.Exists())
}

func TestRun_ExportOnlyNeedsADocumentFormat(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.walker(t, Config{Formats: []export.Format{export.Images}}).Run(context.Background())
	require.NoError(t, err)

	res, err := h.walker(t, Config{Mode: ExportOnly, Formats: []export.Format{export.Images}}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.Equal(t, StateFatal, res.State)
	assert.True(t, h.store.Exists())
}
