package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/driver/drivertest"
)

func TestParseInfo(t *testing.T) {
	raw := `{"title":"Site - Read Book Chapter 1 Online","artist":"A","publisher":"","cover":"/c.jpg"}`

	info, err := parseInfo(raw, "https://r.example/m/book/read/1")
	require.NoError(t, err)

	assert.Equal(t, "Book", info.Title)
	assert.Equal(t, map[string]string{"artist": "A"}, info.Metadata)
	assert.Equal(t, "https://r.example/c.jpg", info.CoverURL)

	_, err = parseInfo("nope", "")
	assert.Error(t, err)
}

func TestParseLinks(t *testing.T) {
	raw := `[["https://r.example/m/chapter-2","Chapter 2"],["https://r.example/help","Help"],["https://r.example/m/chapter-1","Chapter 1"]]`

	links, err := parseLinks(raw, "https://r.example/m")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, 2, links[0].NumMain)
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, DefaultPageSelector, o.PageSelector)
	assert.Equal(t, driver.DefaultProbeLimit, o.ProbeLimit)
	assert.Positive(t, o.LoadTimeout)
	assert.NotNil(t, o.Log)

	o = Options{ProbeLimit: 7, PageSelector: "div.page"}.withDefaults()
	assert.Equal(t, 7, o.ProbeLimit)
	assert.Equal(t, "div.page", o.PageSelector)
}

// TestDriver_AgainstChrome needs a local Chrome and is opt-in.
func TestDriver_AgainstChrome(t *testing.T) {
	if os.Getenv("MANGABIND_BROWSER_TESTS") == "" {
		t.Skip("set MANGABIND_BROWSER_TESTS=1 to run against a local Chrome")
	}

	img := drivertest.JPEG(8, 12)
	inline := base64.StdEncoding.EncodeToString(img)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m/read/1":
			fmt.Fprintf(w, `<html><head><title>Book</title></head><body><ol>
<li style="background-image: url('data:image/jpeg;base64,%s')"></li>
<li></li>
</ol><a class="js-next-link" href="#">next</a></body></html>`, inline)
		default:
			fmt.Fprint(w, `<html><head><title>Page Not Found</title></head></html>`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	d, err := Launch(ctx, Options{NextSelector: DefaultNextSelector})
	require.NoError(t, err)
	defer d.Close()

	refs, err := d.Chapters(ctx, srv.URL+"/m/read/1")
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	require.NoError(t, d.Navigate(ctx, srv.URL+"/m/read/1"))
	n, err := d.PageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := d.PageImage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	_, err = d.PageImage(ctx, 2)
	assert.ErrorIs(t, err, driver.ErrNotReady)

	require.NoError(t, d.Advance(ctx))
	assert.ErrorIs(t, d.Navigate(ctx, srv.URL+"/m/read/2"), driver.ErrNotFound)
}
