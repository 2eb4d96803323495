// Package static implements the page driver over plain HTTP for readers
// that inline every page of a chapter into the served HTML.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/ui"
	"github.com/brogergvhs/mangabind/internal/util"
)

const (
	DefaultPageSelector = "ol li"
	DefaultAssetRetries = 3

	maxBody      = 64 << 20
	assetBackoff = 500 * time.Millisecond
)

var (
	reStyleBackground = regexp.MustCompile(`(?i)background(?:-image)?\s*:\s*(none|url\([^)]*\))`)

	unavailableMarkers = []string{"temporarily unavailable", "try again later"}
	notFoundMarkers    = []string{"page not found"}
)

type Options struct {
	Client *http.Client
	// PageSelector matches one element per page in reading order.
	PageSelector string
	// RequestsPerSecond throttles navigations and asset fetches.
	RequestsPerSecond float64
	// ProbeLimit caps sequential chapter probing when the index page
	// carries no chapter links.
	ProbeLimit int
	// AssetAttempts retries page image downloads on server errors.
	// Documents are fetched once; the acquirer retries navigation.
	AssetAttempts int
	Log           *ui.Logger
}

type Driver struct {
	client   *http.Client
	sel      string
	limiter  *rate.Limiter
	probeMax int
	attempts int
	backoff  time.Duration
	log      *ui.Logger

	ref   string
	pages *goquery.Selection
}

func New(opts Options) *Driver {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.PageSelector == "" {
		opts.PageSelector = DefaultPageSelector
	}
	if opts.ProbeLimit <= 0 {
		opts.ProbeLimit = driver.DefaultProbeLimit
	}
	if opts.AssetAttempts <= 0 {
		opts.AssetAttempts = DefaultAssetRetries
	}
	if opts.Log == nil {
		opts.Log = ui.Discard()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Driver{
		client:   opts.Client,
		sel:      opts.PageSelector,
		limiter:  rate.NewLimiter(limit, 1),
		probeMax: opts.ProbeLimit,
		attempts: opts.AssetAttempts,
		backoff:  assetBackoff,
		log:      opts.Log,
	}
}

func (d *Driver) Navigate(ctx context.Context, ref string) error {
	d.ref, d.pages = "", nil

	doc, err := d.fetchDOM(ctx, ref)
	if err != nil {
		return err
	}

	d.ref = ref
	d.pages = doc.Find(d.sel)
	d.log.Debugf("static: %s has %d page elements\n", ref, d.pages.Length())
	return nil
}

func (d *Driver) PageCount(_ context.Context) (int, error) {
	if d.pages == nil {
		return 0, driver.ErrStale
	}
	return d.pages.Length(), nil
}

func (d *Driver) PageImage(ctx context.Context, index int) ([]byte, error) {
	if d.pages == nil {
		return nil, driver.ErrStale
	}
	if index < 1 || index > d.pages.Length() {
		return nil, fmt.Errorf("page %d outside 1-%d", index, d.pages.Length())
	}

	src, err := imageSource(d.pages.Eq(index - 1))
	if err != nil {
		return nil, err
	}
	if driver.IsDataURL(src) {
		return driver.DecodeDataURL(src)
	}
	return d.fetchAsset(ctx, chapters.ResolveURL(d.ref, src))
}

// Advance is a no-op: the served document already holds every page.
func (d *Driver) Advance(ctx context.Context) error {
	return ctx.Err()
}

func (d *Driver) Info(ctx context.Context, sourceRef string) (driver.Info, error) {
	doc, err := d.fetchDOM(ctx, sourceRef)
	if err != nil {
		return driver.Info{}, err
	}
	return parseInfo(doc, sourceRef), nil
}

// Chapters lists the chapter links of the index page. Without links it
// walks the trailing number of sourceRef upwards until the origin answers
// "not found".
func (d *Driver) Chapters(ctx context.Context, sourceRef string) ([]driver.ChapterRef, error) {
	doc, err := d.fetchDOM(ctx, sourceRef)
	if err != nil {
		return nil, err
	}

	var links []chapters.Link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if l, ok := chapters.ParseLink(sourceRef, href, a.Text()); ok {
			links = append(links, l)
		}
	})
	if refs := chapters.Refs(links); len(refs) > 0 {
		return refs, nil
	}

	d.log.Debugf("static: no chapter links on %s, probing sequentially\n", sourceRef)
	return driver.ProbeSequential(ctx, sourceRef, d.probeMax, d.hasPages)
}

// hasPages reports whether ref serves a chapter.
func (d *Driver) hasPages(ctx context.Context, ref string) (bool, error) {
	doc, err := d.fetchDOM(ctx, ref)
	if errors.Is(err, driver.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.Find(d.sel).Length() > 0, nil
}

func (d *Driver) Close() error {
	d.ref, d.pages = "", nil
	d.client.CloseIdleConnections()
	return nil
}

func (d *Driver) fetchDOM(ctx context.Context, target string) (*goquery.Document, error) {
	body, err := d.get(ctx, target, 1)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	heading := strings.ToLower(doc.Find("title, h1, h2").Text())
	switch {
	case containsAny(heading, unavailableMarkers):
		return nil, fmt.Errorf("%w: %s", driver.ErrUnavailable, target)
	case containsAny(heading, notFoundMarkers):
		return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, target)
	}
	return doc, nil
}

func (d *Driver) fetchAsset(ctx context.Context, target string) ([]byte, error) {
	body, err := d.get(ctx, target, d.attempts)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, driver.ErrNotReady
	}
	return body, nil
}

func (d *Driver) get(ctx context.Context, target string, attempts int) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if d.ref != "" {
		req.Header.Set("Referer", d.ref)
	}

	resp, err := util.DoWithRetry(ctx, d.client, req, attempts, d.backoff)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", driver.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, target)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", driver.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: HTTP %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	d.log.Debugf("static: GET %s -> %s\n", target, util.Human(int64(len(body))))
	return body, nil
}

// imageSource finds the image of one page element: an inline background,
// a lazy-load attribute, or a nested <img>.
func imageSource(el *goquery.Selection) (string, error) {
	if style, ok := el.Attr("style"); ok {
		if m := reStyleBackground.FindStringSubmatch(style); m != nil {
			return driver.BackgroundURL(m[1])
		}
	}
	for _, attr := range []string{"data-bg", "data-background", "data-src"} {
		if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
			if strings.Contains(v, "url(") {
				return driver.BackgroundURL(v)
			}
			return strings.TrimSpace(v), nil
		}
	}

	img := el.Find("img").First()
	for _, attr := range []string{"data-src", "src"} {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", driver.ErrNotReady
}

func parseInfo(doc *goquery.Document, sourceRef string) driver.Info {
	meta := func(keys ...string) string {
		for _, k := range keys {
			sel := fmt.Sprintf(`meta[name=%q], meta[property=%q]`, k, k)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	title := meta("og:title")
	if title == "" {
		title = doc.Find("title").First().Text()
	}

	info := driver.Info{
		Title:    chapters.CleanTitle(title),
		Metadata: map[string]string{},
	}

	fields := map[string][]string{
		"author":      {"author", "book:author"},
		"artist":      {"artist"},
		"publisher":   {"publisher", "og:site_name"},
		"description": {"description", "og:description"},
		"language":    {"language", "og:locale"},
	}
	for key, names := range fields {
		if v := meta(names...); v != "" {
			info.Metadata[key] = v
		}
	}

	if cover := meta("og:image", "twitter:image"); cover != "" {
		info.CoverURL = chapters.ResolveURL(sourceRef, cover)
	}
	return info
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

var _ driver.Driver = (*Driver)(nil)
