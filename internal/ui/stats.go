package ui

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/brogergvhs/mangabind/internal/util"
)

type Stats struct {
	TotalPages    atomic.Int64
	TotalBytes    atomic.Int64
	TotalChapters atomic.Int64
	Exports       atomic.Int64
}

// PrintSummary writes the end-of-run summary.
func (s *Stats) PrintSummary(w io.Writer, elapsed time.Duration) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Summary:")
	_, _ = fmt.Fprintf(w, "Chapters: %d\n", s.TotalChapters.Load())
	_, _ = fmt.Fprintf(w, "Pages:    %d\n", s.TotalPages.Load())
	_, _ = fmt.Fprintf(w, "Data:     %s\n", util.Human(s.TotalBytes.Load()))
	_, _ = fmt.Fprintf(w, "Exports:  %d\n", s.Exports.Load())
	_, _ = fmt.Fprintf(w, "Time:     %s\n", elapsed.Round(time.Second))
}
