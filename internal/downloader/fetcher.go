// Package downloader fetches single assets such as cover images.
package downloader

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vincent-petithory/dataurl"

	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/ui"
)

var imageExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Fetcher struct {
	client *resty.Client
	log    *ui.Logger
	// Progress, when set, receives the running byte count of a download.
	Progress func(done int64)
}

// New wraps c, which carries the user agent and cookies, with retries on
// transport errors and 5xx answers.
func New(c *http.Client, log *ui.Logger) *Fetcher {
	if log == nil {
		log = ui.Discard()
	}
	if c == nil {
		c = &http.Client{}
	}

	rc := resty.NewWithClient(c).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(3*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		}).
		SetHeader("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return &Fetcher{client: rc, log: log}
}

// SetRetryWait tunes the wait between retries.
func (f *Fetcher) SetRetryWait(d time.Duration) {
	f.client.SetRetryWaitTime(d).SetRetryMaxWaitTime(d)
}

// Fetch stores the image at url as dest plus an extension derived from its
// type and returns the written path. Data URLs are decoded in place.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (string, error) {
	if driver.IsDataURL(url) {
		du, err := dataurl.DecodeString(url)
		if err != nil {
			return "", fmt.Errorf("cover: decode data URL: %w", err)
		}
		mt := du.ContentType()
		if _, ok := imageExts[mt]; !ok {
			mt = http.DetectContentType(du.Data)
		}
		out := dest + extFor(mt, "")
		if err := writeFile(out, func(w *os.File) (int64, error) {
			n, err := w.Write(du.Data)
			return int64(n), err
		}); err != nil {
			return "", err
		}
		return out, nil
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	body := resp.RawBody()
	defer func() {
		_ = body.Close()
	}()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode())
	}

	ct := resp.Header().Get("Content-Type")
	mt, _, _ := mime.ParseMediaType(ct)
	if ct != "" && !strings.HasPrefix(mt, "image/") {
		return "", fmt.Errorf("fetch %s: unexpected MIME %s", url, ct)
	}

	out := dest + extFor(mt, url)
	var written int64
	err = writeFile(out, func(w *os.File) (int64, error) {
		n, err := copyWithProgress(w, body, f.Progress)
		written = n
		return n, err
	})
	if err != nil {
		return "", err
	}

	f.log.Debugf("Fetched %s (%d bytes) -> %s\n", url, written, out)
	return out, nil
}

func extFor(mediaType, url string) string {
	if ext, ok := imageExts[mediaType]; ok {
		return ext
	}
	if url != "" {
		ext := strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0]))
		switch ext {
		case ".jpg", ".jpeg":
			return ".jpg"
		case ".png", ".webp", ".gif":
			return ext
		}
	}
	return ".jpg"
}

func writeFile(out string, write func(*os.File) (int64, error)) error {
	tmp := out + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, out)
}
