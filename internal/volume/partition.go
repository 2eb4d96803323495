// Package volume regroups the chapters of a complete job into export
// batches.
package volume

import (
	"errors"
	"fmt"

	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/manga"
)

var ErrIncomplete = errors.New("job is not complete")

// Section is one chapter inside a batch, used for the document outline.
type Section struct {
	Title  string
	Number int
	Pages  []string
}

// Batch is the contiguous chapter range bound into one document.
type Batch struct {
	Index        int
	StartChapter int
	EndChapter   int
	// Images is the cover (first batch only) followed by every page in
	// chapter order.
	Images   []string
	Cover    string
	Sections []Section
	Name     string
}

// Partition splits job into batches of VolumeDivisor chapters; the last
// batch takes the remainder. A divisor of 0 yields a single batch.
func Partition(job *manga.Job) ([]Batch, error) {
	if job == nil {
		return nil, errors.New("partition: nil job")
	}
	if !job.Complete() {
		return nil, fmt.Errorf("partition %q: %w (%d/%d chapters)", job.Title, ErrIncomplete, job.NextIndex(), len(job.Chapters))
	}
	if job.VolumeDivisor < 0 {
		return nil, fmt.Errorf("partition %q: negative volume divisor %d", job.Title, job.VolumeDivisor)
	}

	last := len(job.Chapters) - 1
	d := job.VolumeDivisor

	var (
		batches []Batch
		cur     *Batch
	)
	for i, ch := range job.Chapters {
		if cur == nil {
			cur = &Batch{Index: len(batches), StartChapter: i}
		}
		cur.Sections = append(cur.Sections, Section{Title: ch.Title, Number: ch.Number, Pages: ch.Pages})
		cur.Images = append(cur.Images, ch.Pages...)

		if (d > 0 && (i+1)%d == 0) || i == last {
			cur.EndChapter = i
			batches = append(batches, *cur)
			cur = nil
		}
	}

	multi := len(batches) > 1
	for i := range batches {
		batches[i].Name = batchName(job.Title, batches[i], multi)
	}

	if job.CoverPath != "" {
		b := &batches[0]
		b.Cover = job.CoverPath
		b.Images = append([]string{job.CoverPath}, b.Images...)
	}

	return batches, nil
}

func batchName(title string, b Batch, multi bool) string {
	name := chapters.SafeName(title)
	if !multi {
		return name
	}
	return fmt.Sprintf("%s - %d-%d", name, b.StartChapter+1, b.EndChapter+1)
}
