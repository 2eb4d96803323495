package util

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
)

type HTTPClientOptions struct {
	Timeout    time.Duration
	UserAgent  string
	Cookie     string
	CookieFile string
	Transport  http.RoundTripper
	// CloudflareBypass wraps the transport with browser-like TLS and
	// headers for sites fronted by Cloudflare's bot check.
	CloudflareBypass bool
	DebugLogger      interface {
		Debugf(string, ...any)
	}
}

func NewHTTPClient(opts HTTPClientOptions) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	var baseTransport http.RoundTripper
	if opts.Transport != nil {
		baseTransport = opts.Transport
	} else {
		baseTransport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 4,
			ForceAttemptHTTP2:   true,
		}
	}

	if opts.CloudflareBypass {
		baseTransport = cloudflarebp.AddCloudFlareByPass(baseTransport)
	}

	cookieHeader, err := CookieHeader(opts.Cookie, opts.CookieFile)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: roundTripper{
			base:         baseTransport,
			ua:           opts.UserAgent,
			cookieHeader: cookieHeader,
			log:          opts.DebugLogger,
		},
		Jar: jar,
	}

	if opts.DebugLogger != nil {
		opts.DebugLogger.Debugf("HTTP client initialized (timeout=%s, ua=%q, cookieFile=%q, cfBypass=%t)\n",
			opts.Timeout, opts.UserAgent, opts.CookieFile, opts.CloudflareBypass)
	}

	return client, nil
}

type roundTripper struct {
	base         http.RoundTripper
	ua           string
	cookieHeader string
	log          interface{ Debugf(string, ...any) }
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.ua != "" {
		req.Header.Set("User-Agent", rt.ua)
	}

	if rt.cookieHeader != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", rt.cookieHeader)
	}

	if rt.log != nil {
		rt.log.Debugf("HTTP %s %s\n", req.Method, req.URL.String())
	}

	return rt.base.RoundTrip(req)
}

// CookieHeader joins an inline cookie string with the first non-empty line
// of file.
func CookieHeader(inline, file string) (string, error) {
	s := strings.TrimSpace(inline)
	if file == "" {
		return s, nil
	}

	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read cookie file: %w", err)
	}

	// first non-empty line
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if s == "" {
			return line, nil
		}
		return s + "; " + line, nil
	}

	return s, nil
}

// StatusError is returned by DoWithRetry when every attempt ended in a
// server error.
type StatusError struct {
	Code     int
	Attempts int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d after %d attempts", e.Code, e.Attempts)
}

// DoWithRetry executes req until it yields a non-5xx response, waiting
// backoff*attempt between tries. The request must be replayable.
func DoWithRetry(ctx context.Context, c *http.Client, req *http.Request, attempts int, backoff time.Duration) (*http.Response, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		err  error
		code int
	)
	for i := 1; i <= attempts; i++ {
		var resp *http.Response
		resp, err = c.Do(req.WithContext(ctx))
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if resp != nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
		}
		if i == attempts || ctx.Err() != nil {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(i)):
		}
	}

	if err != nil {
		return nil, err
	}
	return nil, &StatusError{Code: code, Attempts: attempts}
}

func PickUserAgent(override string) string {
	if override != "" {
		return override
	}

	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
}
