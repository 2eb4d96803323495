package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangabind/internal/acquire"
	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/downloader"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/driver/drivertest"
	"github.com/brogergvhs/mangabind/internal/export"
	"github.com/brogergvhs/mangabind/internal/ui"
)

func TestHintFor(t *testing.T) {
	chapterErr := fmt.Errorf("walk: %w", &acquire.ChapterError{Chapter: 1, Page: 2, Reason: "retry exhausted", Err: driver.ErrStale})
	encoderErr := errors.Join(&export.EncoderError{Format: export.PDF, Path: "x.pdf", Err: errors.New("disk full")})

	assert.Contains(t, hintFor(chapterErr), "--resume")
	assert.Contains(t, hintFor(context.Canceled), "--resume")
	assert.Contains(t, hintFor(encoderErr), "mangabind export")
	assert.Contains(t, hintFor(&checkpoint.CorruptError{Path: "c.json", Err: errors.New("eof")}), "--fresh")
	assert.Empty(t, hintFor(errors.New("missing --url")))
}

func TestCoverWithBar_ReportsAndDetaches(t *testing.T) {
	img := drivertest.JPEG(20, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(img)
	}))
	defer srv.Close()

	pm := ui.NewProgressManager(nil)
	f := downloader.New(srv.Client(), nil)
	c := &coverWithBar{f: f, pm: pm}
	dir := t.TempDir()

	out, err := c.Fetch(context.Background(), srv.URL+"/cover", filepath.Join(dir, "cover"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cover.jpg"), out)
	assert.Nil(t, f.Progress)

	_, err = c.Fetch(context.Background(), srv.URL+"/gone", filepath.Join(dir, "other"))
	assert.Error(t, err)
	assert.Nil(t, f.Progress)

	pm.Close()
}
