package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/ui"
	"github.com/brogergvhs/mangabind/internal/volume"
)

// Encoder writes one batch as one document at out. Implementations must
// not leave a partial file at out on failure.
type Encoder interface {
	Encode(ctx context.Context, job *manga.Job, b volume.Batch, out string) error
}

// EncoderError is the failure of one (batch, format) task.
type EncoderError struct {
	Format Format
	Batch  int
	Path   string
	Err    error
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("export %s #%d (%s): %v", e.Format, e.Batch+1, filepath.Base(e.Path), e.Err)
}

func (e *EncoderError) Unwrap() error { return e.Err }

type Task struct {
	Batch  int
	Format Format
	Path   string
}

type Result struct {
	Task
	Err     error
	Elapsed time.Duration
}

// Report holds one result per task, in (batch, format) order.
type Report struct {
	Results []Result
}

// OK reports whether every task succeeded. An empty report is not OK.
func (r Report) OK() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

func (r Report) Outputs() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Path)
		}
	}
	return out
}

// Err joins the task failures, nil when the report is OK.
func (r Report) Err() error {
	if len(r.Results) == 0 {
		return errors.New("nothing was exported")
	}
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

type Options struct {
	PageSize PageSize
	// Workers bounds concurrent tasks. Encoders are memory hungry.
	Workers int
}

const DefaultWorkers = 2

type Dispatcher struct {
	encoders map[Format]Encoder
	workers  int
	log      *ui.Logger
}

func NewDispatcher(opts Options, log *ui.Logger) *Dispatcher {
	if log == nil {
		log = ui.Discard()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Dispatcher{
		encoders: map[Format]Encoder{
			PDF:  &PDFEncoder{PageSize: opts.PageSize},
			EPUB: &EPUBEncoder{},
			CBZ:  CBZEncoder{},
		},
		workers: workers,
		log:     log,
	}
}

// SetEncoder replaces the encoder used for f.
func (d *Dispatcher) SetEncoder(f Format, e Encoder) {
	d.encoders[f] = e
}

// Tasks lists the work for batches x formats.
func Tasks(job *manga.Job, batches []volume.Batch, formats []Format) []Task {
	tasks := make([]Task, 0, len(batches)*len(formats))
	for _, b := range batches {
		for _, f := range formats {
			tasks = append(tasks, Task{
				Batch:  b.Index,
				Format: f,
				Path:   filepath.Join(job.Dir, b.Name+f.Ext()),
			})
		}
	}
	return tasks
}

// Export runs every (batch, format) task. A failing task never cancels its
// siblings; the report carries each outcome.
func (d *Dispatcher) Export(ctx context.Context, job *manga.Job, batches []volume.Batch, formats []Format) Report {
	tasks := Tasks(job, batches, formats)
	results := make([]Result, len(tasks))

	byIndex := make(map[int]volume.Batch, len(batches))
	for _, b := range batches {
		byIndex[b.Index] = b
	}

	var eg errgroup.Group
	eg.SetLimit(d.workers)

	for i, t := range tasks {
		i, t := i, t
		eg.Go(func() error {
			start := time.Now()
			err := d.run(ctx, job, byIndex[t.Batch], t)
			results[i] = Result{Task: t, Err: err, Elapsed: time.Since(start)}
			return nil
		})
	}
	_ = eg.Wait()

	return Report{Results: results}
}

func (d *Dispatcher) run(ctx context.Context, job *manga.Job, b volume.Batch, t Task) error {
	wrap := func(err error) error {
		return &EncoderError{Format: t.Format, Batch: t.Batch, Path: t.Path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return wrap(err)
	}
	enc, ok := d.encoders[t.Format]
	if !ok {
		return wrap(fmt.Errorf("no encoder registered"))
	}
	if len(b.Images) == 0 {
		return wrap(fmt.Errorf("batch has no images"))
	}

	d.log.Infof("Exporting %s\n", filepath.Base(t.Path))
	if err := enc.Encode(ctx, job, b, t.Path); err != nil {
		d.log.Errorf("Export %s failed: %v\n", filepath.Base(t.Path), err)
		return wrap(err)
	}
	d.log.Debugf("Wrote %s\n", t.Path)
	return nil
}
