// Package manga holds the acquisition job that is walked, checkpointed and
// finally bound into volumes.
package manga

import (
	"errors"
	"fmt"
	"strings"
)

// NoChapter is the resume index of a job with no completed chapter.
const NoChapter = -1

type Chapter struct {
	Title     string   `json:"title"`
	SourceRef string   `json:"source_ref"`
	Number    int      `json:"number"`
	Pages     []string `json:"pages"`
}

// Job is the unit of checkpoint and resume. Chapters are kept in reading
// order; every chapter at or before ResumeIndex has its pages frozen.
type Job struct {
	SourceRef     string            `json:"source_ref"`
	Title         string            `json:"title"`
	Dir           string            `json:"dir"`
	Metadata      map[string]string `json:"metadata"`
	CoverPath     string            `json:"cover_path,omitempty"`
	VolumeDivisor int               `json:"volume_divisor"`
	Chapters      []Chapter         `json:"chapters"`
	ResumeIndex   int               `json:"resume_index"`
}

func NewJob(sourceRef, title, dir string, divisor int) *Job {
	return &Job{
		SourceRef:     sourceRef,
		Title:         title,
		Dir:           dir,
		Metadata:      map[string]string{},
		VolumeDivisor: divisor,
		ResumeIndex:   NoChapter,
	}
}

// NextIndex is the chapter the walker has to acquire next.
func (j *Job) NextIndex() int {
	return j.ResumeIndex + 1
}

func (j *Job) Complete() bool {
	return len(j.Chapters) > 0 && j.ResumeIndex == len(j.Chapters)-1
}

// CompleteChapter freezes the pages of chapter i and advances the resume
// index. Chapters must be completed strictly in order.
func (j *Job) CompleteChapter(i int, pages []string) error {
	if i != j.NextIndex() {
		return fmt.Errorf("chapter %d completed out of order (next is %d)", i, j.NextIndex())
	}
	if i < 0 || i >= len(j.Chapters) {
		return fmt.Errorf("chapter %d out of range (%d chapters)", i, len(j.Chapters))
	}
	if len(pages) == 0 {
		return fmt.Errorf("chapter %d has no pages", i)
	}

	j.Chapters[i].Pages = append([]string(nil), pages...)
	j.ResumeIndex = i
	return nil
}

// PageCount returns the number of acquired page files over all chapters.
func (j *Job) PageCount() int {
	n := 0
	for _, ch := range j.Chapters {
		n += len(ch.Pages)
	}
	return n
}

// Author returns the author metadata, falling back to the artist.
func (j *Job) Author() string {
	if a := strings.TrimSpace(j.Metadata["author"]); a != "" {
		return a
	}
	return strings.TrimSpace(j.Metadata["artist"])
}

// Validate checks the structural invariants a loaded job has to satisfy.
func (j *Job) Validate() error {
	var errs []error

	if strings.TrimSpace(j.SourceRef) == "" {
		errs = append(errs, errors.New("source_ref is empty"))
	}
	if strings.TrimSpace(j.Title) == "" {
		errs = append(errs, errors.New("title is empty"))
	}
	if strings.TrimSpace(j.Dir) == "" {
		errs = append(errs, errors.New("dir is empty"))
	}
	if j.VolumeDivisor < 0 {
		errs = append(errs, fmt.Errorf("volume_divisor %d is negative", j.VolumeDivisor))
	}
	if j.ResumeIndex < NoChapter || j.ResumeIndex >= len(j.Chapters) {
		errs = append(errs, fmt.Errorf("resume_index %d out of range for %d chapters", j.ResumeIndex, len(j.Chapters)))
	}

	for i, ch := range j.Chapters {
		if strings.TrimSpace(ch.SourceRef) == "" {
			errs = append(errs, fmt.Errorf("chapter %d: source_ref is empty", i))
		}
		if i <= j.ResumeIndex && len(ch.Pages) == 0 {
			errs = append(errs, fmt.Errorf("chapter %d: completed without pages", i))
		}
		for p, path := range ch.Pages {
			if strings.TrimSpace(path) == "" {
				errs = append(errs, fmt.Errorf("chapter %d: page %d has empty path", i, p))
			}
		}
	}

	return errors.Join(errs...)
}
