// Package walker runs an acquisition job from discovery to export as an
// explicit state machine, checkpointing after every chapter.
package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/brogergvhs/mangabind/internal/acquire"
	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/export"
	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/ui"
	"github.com/brogergvhs/mangabind/internal/util"
	"github.com/brogergvhs/mangabind/internal/volume"
)

type Mode int

const (
	// Fresh discovers the source and starts at the first selected chapter.
	Fresh Mode = iota
	// Resume continues the checkpointed job after its last completed chapter.
	Resume
	// ExportOnly re-exports a fully acquired checkpointed job.
	ExportOnly
)

func (m Mode) String() string {
	switch m {
	case Resume:
		return "resume"
	case ExportOnly:
		return "export-only"
	}
	return "fresh"
}

var (
	ErrSourceMismatch = errors.New("checkpoint belongs to a different source")
	ErrNoChapters     = errors.New("no chapters selected")
	ErrDirExists      = errors.New("output directory already exists")
	ErrNoDocument     = errors.New("no document format to export")
)

type Config struct {
	SourceRef  string
	OutputRoot string
	Mode       Mode
	// VolumeDivisor is stored in a fresh job. In ExportOnly mode a
	// positive value rebinds the checkpointed job.
	VolumeDivisor int
	Selection     chapters.Selection
	// Overwrite clears an existing output directory on a fresh run.
	Overwrite  bool
	KeepImages bool
	// Formats lists the documents to bind. Images, or no format at all,
	// keeps the page files and the checkpoint instead.
	Formats []export.Format
}

// Store persists the job between chapters.
type Store interface {
	Load() (*manga.Job, error)
	Save(job *manga.Job) error
	Clear() error
}

type ChapterAcquirer interface {
	AcquireChapter(ctx context.Context, index int, ch manga.Chapter, progress acquire.Progress) ([]string, error)
}

// CoverFetcher stores the asset at url as dest plus a detected extension
// and returns the written path.
type CoverFetcher interface {
	Fetch(ctx context.Context, url, dest string) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, job *manga.Job, batches []volume.Batch, formats []export.Format) export.Report
}

type ChapterProgress interface {
	acquire.Progress
	MarkDone()
	Abort()
}

type Deps struct {
	Driver driver.Driver
	// Acquirer builds the chapter acquirer once the job directory is known,
	// after discovery or from the checkpoint.
	Acquirer func(jobDir string) ChapterAcquirer
	Store    Store
	Cover    CoverFetcher
	Exporter Exporter
	Log      *ui.Logger
	Stats    *ui.Stats
	// Progress creates the per-chapter progress sink; nil disables it.
	Progress func(prefix string) ChapterProgress
	// Observer sees every state transition.
	Observer func(from, to State)
}

type Result struct {
	State   State
	Job     *manga.Job
	Report  export.Report
	Removed int
}

type Walker struct {
	cfg   Config
	deps  Deps
	log   *ui.Logger
	state State
}

func New(cfg Config, deps Deps) *Walker {
	log := deps.Log
	if log == nil {
		log = ui.Discard()
	}
	if deps.Stats == nil {
		deps.Stats = &ui.Stats{}
	}
	return &Walker{cfg: cfg, deps: deps, log: log, state: StateIdle}
}

func (w *Walker) State() State {
	return w.state
}

func (w *Walker) transition(to State) error {
	if !CanTransition(w.state, to) {
		return transitionError(w.state, to)
	}
	from := w.state
	w.state = to
	w.log.Debugf("walker: %s -> %s\n", from, to)
	if w.deps.Observer != nil {
		w.deps.Observer(from, to)
	}
	return nil
}

// fail moves to Fatal and returns err. The checkpoint is left as it was
// last saved.
func (w *Walker) fail(res *Result, err error) (*Result, error) {
	if w.state != StateFatal {
		if terr := w.transition(StateFatal); terr != nil {
			err = errors.Join(err, terr)
		}
	}
	res.State = w.state
	return res, err
}

// Run drives the job to Done or Fatal. A Walker runs once.
func (w *Walker) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	if w.state != StateIdle {
		return res, fmt.Errorf("walker already ran (state %s)", w.state)
	}

	job, err := w.start(ctx)
	if err != nil {
		return w.fail(res, err)
	}
	res.Job = job

	if w.state == StateWalkingChapter {
		if err := w.walk(ctx, job); err != nil {
			return w.fail(res, err)
		}
	}

	docs := export.Documents(w.cfg.Formats)
	if w.state == StateCompleted && len(docs) == 0 {
		if err := w.transition(StateDone); err != nil {
			return w.fail(res, err)
		}
		w.log.Infof("Kept %d page file(s) in %s\n", job.PageCount(), job.Dir)
		res.State = w.state
		return res, nil
	}

	if w.state == StateCompleted {
		if err := w.transition(StateExporting); err != nil {
			return w.fail(res, err)
		}
	}

	rep, err := w.export(ctx, job, docs)
	res.Report = rep
	if err != nil {
		return w.fail(res, err)
	}

	if err := w.transition(StateDone); err != nil {
		return w.fail(res, err)
	}

	if !w.cfg.KeepImages && !export.KeepsImages(w.cfg.Formats) {
		n, err := export.Cleanup(rep, job, w.deps.Store)
		res.Removed = n
		if err != nil {
			w.log.Warnf("Cleanup incomplete: %v\n", err)
		} else {
			w.log.Infof("Removed %d intermediate file(s)\n", n)
		}
	}

	res.State = w.state
	return res, nil
}

// start leaves the walker in WalkingChapter, Completed or Exporting.
func (w *Walker) start(ctx context.Context) (*manga.Job, error) {
	switch w.cfg.Mode {
	case Fresh:
		if err := w.transition(StateDiscovering); err != nil {
			return nil, err
		}
		job, err := w.discover(ctx)
		if err != nil {
			return nil, err
		}
		return job, w.transition(StateWalkingChapter)

	case Resume, ExportOnly:
		job, err := w.deps.Store.Load()
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return nil, fmt.Errorf("nothing to %s: %w", w.cfg.Mode, err)
			}
			return nil, err
		}
		if w.cfg.SourceRef != "" && w.cfg.SourceRef != job.SourceRef {
			return nil, fmt.Errorf("%w: checkpoint has %s, requested %s", ErrSourceMismatch, job.SourceRef, w.cfg.SourceRef)
		}

		if w.cfg.Mode == ExportOnly {
			if len(export.Documents(w.cfg.Formats)) == 0 {
				return nil, ErrNoDocument
			}
			if !job.Complete() {
				return nil, fmt.Errorf("checkpoint of %q is not complete (%d/%d chapters), resume acquisition first",
					job.Title, job.NextIndex(), len(job.Chapters))
			}
			if w.cfg.VolumeDivisor > 0 {
				job.VolumeDivisor = w.cfg.VolumeDivisor
			}
			return job, w.transition(StateExporting)
		}

		w.log.Infof("Resuming %q at chapter %d/%d\n", job.Title, job.NextIndex()+1, len(job.Chapters))
		if job.Complete() {
			return job, w.transition(StateCompleted)
		}
		return job, w.transition(StateWalkingChapter)
	}

	return nil, fmt.Errorf("unknown mode %d", w.cfg.Mode)
}

func (w *Walker) discover(ctx context.Context) (*manga.Job, error) {
	drv := w.deps.Driver
	src := w.cfg.SourceRef
	if src == "" {
		return nil, errors.New("source reference is required")
	}

	info, err := drv.Info(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if info.Title == "" {
		return nil, errors.New("source has no title")
	}
	w.log.Infof("Title: %q\n", info.Title)

	refs, err := drv.Chapters(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	for i := range refs {
		if refs[i].Number <= 0 {
			refs[i].Number = i + 1
		}
	}

	refs, err = chapters.Filter(refs, w.cfg.Selection, func(r driver.ChapterRef) string {
		return strconv.Itoa(r.Number)
	})
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrNoChapters
	}
	w.log.Infof("Chapters selected: %d\n", len(refs))

	dir := filepath.Join(w.cfg.OutputRoot, chapters.SafeName(info.Title))
	if err := w.prepareDir(dir); err != nil {
		return nil, err
	}

	job := manga.NewJob(src, info.Title, dir, w.cfg.VolumeDivisor)
	for k, v := range info.Metadata {
		job.Metadata[k] = v
	}
	for _, r := range refs {
		job.Chapters = append(job.Chapters, manga.Chapter{Title: r.Title, SourceRef: r.Ref, Number: r.Number})
	}

	if info.CoverURL != "" && w.deps.Cover != nil {
		path, err := w.deps.Cover.Fetch(ctx, info.CoverURL, filepath.Join(dir, "cover"))
		switch {
		case err == nil:
			job.CoverPath = path
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			w.log.Warnf("Cover not available, continuing without: %v\n", err)
		}
	}

	if err := w.deps.Store.Save(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (w *Walker) prepareDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("inspect %s: %w", dir, err)
	case len(entries) > 0 && !w.cfg.Overwrite:
		return fmt.Errorf("%w: %s (use --overwrite or --resume)", ErrDirExists, dir)
	case len(entries) > 0:
		w.log.Warnf("Clearing existing output directory %s\n", dir)
		if err := util.ClearDir(dir); err != nil {
			return err
		}
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *Walker) walk(ctx context.Context, job *manga.Job) error {
	total := len(job.Chapters)
	acq := w.deps.Acquirer(job.Dir)

	for i := job.NextIndex(); i < total; i++ {
		if w.state != StateWalkingChapter {
			if err := w.transition(StateWalkingChapter); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ch := job.Chapters[i]
		w.log.Infof("Chapter %d/%d: %s\n", i+1, total, ch.Title)

		var prog ChapterProgress
		if w.deps.Progress != nil {
			prog = w.deps.Progress(fmt.Sprintf("%d/%d %s", i+1, total, ch.Title))
		}

		files, err := acq.AcquireChapter(ctx, i, ch, progressOrNil(prog))
		if err != nil {
			if prog != nil {
				prog.Abort()
			}
			return err
		}
		if prog != nil {
			prog.MarkDone()
		}

		if err := w.transition(StateCheckpointing); err != nil {
			return err
		}
		if err := job.CompleteChapter(i, files); err != nil {
			return err
		}
		if err := w.deps.Store.Save(job); err != nil {
			return err
		}

		w.deps.Stats.TotalChapters.Add(1)
		w.deps.Stats.TotalPages.Add(int64(len(files)))
		w.deps.Stats.TotalBytes.Add(util.DirSize(files))
	}

	return w.transition(StateCompleted)
}

// progressOrNil keeps a nil ChapterProgress from becoming a non-nil
// interface holding nil.
func progressOrNil(p ChapterProgress) acquire.Progress {
	if p == nil {
		return nil
	}
	return p
}

func (w *Walker) export(ctx context.Context, job *manga.Job, formats []export.Format) (export.Report, error) {
	if len(formats) == 0 {
		return export.Report{}, ErrNoDocument
	}

	batches, err := volume.Partition(job)
	if err != nil {
		return export.Report{}, err
	}
	w.log.Infof("Exporting %d volume(s) as %v\n", len(batches), formats)

	rep := w.deps.Exporter.Export(ctx, job, batches, formats)
	w.deps.Stats.Exports.Add(int64(len(rep.Outputs())))
	if !rep.OK() {
		return rep, rep.Err()
	}
	return rep, nil
}
