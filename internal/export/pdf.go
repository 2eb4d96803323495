package export

import (
	"context"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/volume"
)

// PDFEncoder places one image per page. With PageNone every page takes the
// size of its image.
type PDFEncoder struct {
	PageSize PageSize
}

func (e *PDFEncoder) importSpec() (*pdfcpu.Import, error) {
	if e.PageSize == "" || e.PageSize == PageNone {
		return nil, nil
	}
	return api.Import(fmt.Sprintf("formsize:%s, position:full", e.PageSize), types.POINTS)
}

func (e *PDFEncoder) Encode(_ context.Context, _ *manga.Job, b volume.Batch, out string) error {
	imp, err := e.importSpec()
	if err != nil {
		return fmt.Errorf("page size %s: %w", e.PageSize, err)
	}

	// ImportImagesFile appends to an existing file.
	tmp := out + ".part"
	_ = os.Remove(tmp)

	conf := model.NewDefaultConfiguration()
	if err := api.ImportImagesFile(b.Images, tmp, imp, conf); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, out)
}
