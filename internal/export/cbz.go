package export

import (
	"context"

	"github.com/brogergvhs/mangabind/internal/manga"
	"github.com/brogergvhs/mangabind/internal/util"
	"github.com/brogergvhs/mangabind/internal/volume"
)

type CBZEncoder struct{}

func (CBZEncoder) Encode(_ context.Context, _ *manga.Job, b volume.Batch, out string) error {
	return util.CreateCBZ(b.Images, out)
}
