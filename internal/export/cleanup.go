package export

import (
	"errors"
	"fmt"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/util"
)

var ErrExportIncomplete = errors.New("export did not fully succeed")

// Clearer removes the persisted job state.
type Clearer interface {
	Clear() error
}

// Cleanup removes intermediates after a fully successful export: every page
// file, the cover and the checkpoint. Nothing is touched unless rep is OK.
func Cleanup(rep Report, job *manga.Job, cp Clearer) (int, error) {
	if !rep.OK() {
		return 0, ErrExportIncomplete
	}

	files := make([]string, 0, job.PageCount()+1)
	for _, ch := range job.Chapters {
		files = append(files, ch.Pages...)
	}
	files = append(files, job.CoverPath)

	n, err := util.RemoveFiles(files)
	if err != nil {
		return n, fmt.Errorf("cleanup: %w", err)
	}
	if cp != nil {
		if err := cp.Clear(); err != nil {
			return n, err
		}
	}
	return n, nil
}
