// Package browser implements the page driver on a headless Chrome for
// readers that render their pages with script.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/ui"
)

const (
	DefaultPageSelector = "ol li"
	DefaultNextSelector = "a.js-next-link"
)

type Options struct {
	// Bin is the Chrome executable; empty lets the launcher find or
	// download one.
	Bin string
	// ShowWindow runs the browser with a visible window.
	ShowWindow bool
	UserAgent  string
	// Cookie is a "k=v; k2=v2" header applied to every navigated origin.
	Cookie       string
	PageSelector string
	// NextSelector is clicked by Advance. Empty disables advancing.
	NextSelector string
	LoadTimeout  time.Duration
	ProbeLimit   int
	Log          *ui.Logger
}

type Driver struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	log      *ui.Logger

	ref   string
	pages rod.Elements
}

func (o Options) withDefaults() Options {
	if o.PageSelector == "" {
		o.PageSelector = DefaultPageSelector
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 60 * time.Second
	}
	if o.ProbeLimit <= 0 {
		o.ProbeLimit = driver.DefaultProbeLimit
	}
	if o.Log == nil {
		o.Log = ui.Discard()
	}
	return o
}

// Launch starts the browser and opens the single page this driver uses.
func Launch(ctx context.Context, opts Options) (*Driver, error) {
	opts = opts.withDefaults()

	l := launcher.New().Headless(!opts.ShowWindow).Context(ctx)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			opts.Log.Warnf("browser: user agent override failed: %v\n", err)
		}
	}

	opts.Log.Debugf("browser: connected to %s\n", u)
	return &Driver{opts: opts, launcher: l, browser: b, page: page, log: opts.Log}, nil
}

func (d *Driver) Navigate(ctx context.Context, ref string) error {
	d.ref, d.pages = "", nil

	if err := d.load(ctx, ref); err != nil {
		return err
	}

	p := d.page.Context(ctx).Timeout(d.opts.LoadTimeout)
	if _, err := p.Element(d.opts.PageSelector); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no %q on %s", driver.ErrUnavailable, d.opts.PageSelector, ref)
	}

	els, err := d.page.Context(ctx).Elements(d.opts.PageSelector)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}

	d.ref, d.pages = ref, els
	d.log.Debugf("browser: %s has %d page elements\n", ref, len(els))
	return nil
}

// load navigates and classifies outage and not-found pages.
func (d *Driver) load(ctx context.Context, ref string) error {
	if err := d.setCookies(ref); err != nil {
		return err
	}

	p := d.page.Context(ctx).Timeout(d.opts.LoadTimeout)
	if err := p.Navigate(ref); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", driver.ErrUnavailable, err)
	}
	if err := p.WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", driver.ErrUnavailable, err)
	}

	heading, err := d.evalString(ctx, d.page, `() => [document.title, ...Array.from(document.querySelectorAll('h1, h2')).map(e => e.textContent)].join(' ')`)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrStale, err)
	}
	heading = strings.ToLower(heading)
	switch {
	case strings.Contains(heading, "temporarily unavailable"):
		return fmt.Errorf("%w: %s", driver.ErrUnavailable, ref)
	case strings.Contains(heading, "page not found"):
		return fmt.Errorf("%w: %s", driver.ErrNotFound, ref)
	}
	return nil
}

func (d *Driver) setCookies(ref string) error {
	if d.opts.Cookie == "" {
		return nil
	}

	var params []*proto.NetworkCookieParam
	for _, part := range strings.Split(d.opts.Cookie, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{Name: name, Value: value, URL: ref})
	}
	// SetCookies with nil clears the jar.
	if len(params) == 0 {
		return nil
	}
	if err := d.page.SetCookies(params); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

func (d *Driver) PageCount(_ context.Context) (int, error) {
	if d.pages == nil {
		return 0, driver.ErrStale
	}
	return len(d.pages), nil
}

const pageSourceJS = `() => {
	const bg = getComputedStyle(this).backgroundImage;
	if (bg && bg !== 'none') return bg;
	const img = this.querySelector('img');
	if (img && img.complete && img.naturalWidth > 0) return 'url("' + (img.currentSrc || img.src) + '")';
	return 'none';
}`

func (d *Driver) PageImage(ctx context.Context, index int) ([]byte, error) {
	if d.pages == nil {
		return nil, driver.ErrStale
	}
	if index < 1 || index > len(d.pages) {
		return nil, fmt.Errorf("page %d outside 1-%d", index, len(d.pages))
	}

	el := d.pages[index-1].Context(ctx)
	obj, err := el.Eval(pageSourceJS)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: page %d: %v", driver.ErrStale, index, err)
	}

	src, err := driver.BackgroundURL(obj.Value.Str())
	if err != nil {
		return nil, err
	}
	if driver.IsDataURL(src) {
		return driver.DecodeDataURL(src)
	}

	data, err := d.page.Context(ctx).GetResource(src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: resource of page %d: %v", driver.ErrNotReady, index, err)
	}
	return data, nil
}

func (d *Driver) Advance(ctx context.Context) error {
	if d.opts.NextSelector == "" {
		return nil
	}
	if d.pages == nil {
		return driver.ErrStale
	}

	btn, err := d.page.Context(ctx).Timeout(10 * time.Second).Element(d.opts.NextSelector)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: next control: %v", driver.ErrStale, err)
	}
	if err := btn.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: click next: %v", driver.ErrStale, err)
	}
	return nil
}

const infoJS = `() => {
	const meta = (...keys) => {
		for (const k of keys) {
			const el = document.querySelector('meta[name="' + k + '"], meta[property="' + k + '"]');
			if (el && el.content && el.content.trim()) return el.content.trim();
		}
		return '';
	};
	return JSON.stringify({
		title: meta('og:title') || document.title,
		author: meta('author', 'book:author'),
		artist: meta('artist'),
		publisher: meta('publisher', 'og:site_name'),
		description: meta('description', 'og:description'),
		language: document.documentElement.lang || meta('og:locale'),
		cover: meta('og:image', 'twitter:image'),
	});
}`

func (d *Driver) Info(ctx context.Context, sourceRef string) (driver.Info, error) {
	if err := d.load(ctx, sourceRef); err != nil {
		return driver.Info{}, err
	}
	d.ref, d.pages = "", nil

	raw, err := d.evalString(ctx, d.page, infoJS)
	if err != nil {
		return driver.Info{}, fmt.Errorf("read metadata: %w", err)
	}
	return parseInfo(raw, sourceRef)
}

func parseInfo(raw, sourceRef string) (driver.Info, error) {
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return driver.Info{}, fmt.Errorf("decode metadata: %w", err)
	}

	info := driver.Info{
		Title:    chapters.CleanTitle(fields["title"]),
		Metadata: map[string]string{},
	}
	for _, k := range []string{"author", "artist", "publisher", "description", "language"} {
		if v := strings.TrimSpace(fields[k]); v != "" {
			info.Metadata[k] = v
		}
	}
	if c := fields["cover"]; c != "" {
		info.CoverURL = chapters.ResolveURL(sourceRef, c)
	}
	return info, nil
}

const linksJS = `() => JSON.stringify(Array.from(document.querySelectorAll('a[href]')).map(a => [a.href, a.textContent]))`

func (d *Driver) Chapters(ctx context.Context, sourceRef string) ([]driver.ChapterRef, error) {
	if err := d.load(ctx, sourceRef); err != nil {
		return nil, err
	}
	d.ref, d.pages = "", nil

	raw, err := d.evalString(ctx, d.page, linksJS)
	if err != nil {
		return nil, fmt.Errorf("read links: %w", err)
	}
	links, err := parseLinks(raw, sourceRef)
	if err != nil {
		return nil, err
	}
	if refs := chapters.Refs(links); len(refs) > 0 {
		return refs, nil
	}

	d.log.Debugf("browser: no chapter links on %s, probing sequentially\n", sourceRef)
	return driver.ProbeSequential(ctx, sourceRef, d.opts.ProbeLimit, d.hasPages)
}

func parseLinks(raw, sourceRef string) ([]chapters.Link, error) {
	var pairs [][2]string
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}

	var links []chapters.Link
	for _, p := range pairs {
		if l, ok := chapters.ParseLink(sourceRef, p[0], p[1]); ok {
			links = append(links, l)
		}
	}
	return links, nil
}

func (d *Driver) hasPages(ctx context.Context, ref string) (bool, error) {
	err := d.load(ctx, ref)
	if errors.Is(err, driver.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	has, _, err := d.page.Context(ctx).Has(d.opts.PageSelector)
	return has, err
}

func (d *Driver) evalString(ctx context.Context, p *rod.Page, js string) (string, error) {
	obj, err := p.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return obj.Value.Str(), nil
}

func (d *Driver) Close() error {
	var errs []error
	if d.browser != nil {
		errs = append(errs, d.browser.Close())
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
	}
	return errors.Join(errs...)
}

var _ driver.Driver = (*Driver)(nil)
