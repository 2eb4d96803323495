package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brogergvhs/mangabind/internal/acquire"
	"github.com/brogergvhs/mangabind/internal/chapters"
	"github.com/brogergvhs/mangabind/internal/checkpoint"
	"github.com/brogergvhs/mangabind/internal/config"
	"github.com/brogergvhs/mangabind/internal/downloader"
	"github.com/brogergvhs/mangabind/internal/driver"
	"github.com/brogergvhs/mangabind/internal/driver/browser"
	"github.com/brogergvhs/mangabind/internal/driver/static"
	"github.com/brogergvhs/mangabind/internal/export"
	"github.com/brogergvhs/mangabind/internal/pages"
	"github.com/brogergvhs/mangabind/internal/ui"
	"github.com/brogergvhs/mangabind/internal/util"
	"github.com/brogergvhs/mangabind/internal/walker"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var (
	// selection
	flagURL     string
	flagChapter string
	flagRange   string
	flagList    string
	flagFrom    int

	// run mode
	flagResume bool
	flagFresh  bool
	flagDryRun bool

	// output
	flagOutput     string
	flagFormats    []string
	flagVolume     int
	flagPageSize   string
	flagSplitOrder string
	flagOverwrite  bool
	flagKeepImages bool

	// source access
	flagDriver      string
	flagShowBrowser bool
	flagCookie      string
	flagCookieFile  string
	flagUserAgent   string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Acquire a manga chapter by chapter and export it. Uses the defaults from the selected config, overwritten by MANGABIND_* variables and CLI flags",
		RunE:  runDownload,
	}

	// selection
	downloadCmd.Flags().StringVar(&flagURL, "url", "", "manga index or first chapter URL")
	downloadCmd.Flags().StringVar(&flagChapter, "chapter", "", "single chapter by label or position (e.g. 5)")
	downloadCmd.Flags().StringVar(&flagRange, "range", "", "range of chapters by position (e.g. 5-12)")
	downloadCmd.Flags().StringVar(&flagList, "list", "", "specific chapter positions (e.g. 1,3,5)")
	downloadCmd.Flags().IntVar(&flagFrom, "from", 0, "skip every chapter before this position")

	// run mode
	downloadCmd.Flags().BoolVar(&flagResume, "resume", false, "continue from the checkpoint in the output folder")
	downloadCmd.Flags().BoolVar(&flagFresh, "fresh", false, "ignore an existing checkpoint and start over")
	downloadCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "list the selected chapters, don't download")

	// output
	downloadCmd.Flags().StringVar(&flagOutput, "output", "", "output root; holds the checkpoint and one folder per title")
	downloadCmd.Flags().StringSliceVar(&flagFormats, "format", nil, "export formats: pdf, epub, cbz, images (comma separated)")
	downloadCmd.Flags().IntVar(&flagVolume, "volume", 0, "chapters per exported volume (0 = one document)")
	downloadCmd.Flags().StringVar(&flagPageSize, "page-size", "", "PDF page size: none, A4, A5, Letter, Legal")
	downloadCmd.Flags().StringVar(&flagSplitOrder, "split", "", "spread split order: rtl or ltr")
	downloadCmd.Flags().BoolVar(&flagOverwrite, "overwrite", false, "clear an existing title folder on a fresh run")
	downloadCmd.Flags().BoolVar(&flagKeepImages, "keep-images", false, "keep page images and the checkpoint after export")

	// source access
	downloadCmd.Flags().StringVar(&flagDriver, "driver", "", "page driver: static or browser")
	downloadCmd.Flags().BoolVar(&flagShowBrowser, "show-browser", false, "run the browser driver with a visible window")
	downloadCmd.Flags().StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	downloadCmd.Flags().StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	downloadCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")

	downloadCmd.MarkFlagsMutuallyExclusive("resume", "fresh")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, _ []string) error {
	cfg, usedPath, err := config.LoadMerged(config.Options{
		IgnoreConfig:  flagIgnoreConfig,
		Debug:         flagDebug,
		Output:        flagOutput,
		Formats:       flagFormats,
		VolumeDivisor: flagVolume,
		PageSize:      flagPageSize,
		Driver:        flagDriver,
		SplitOrder:    flagSplitOrder,
		KeepImages:    flagKeepImages,
		Overwrite:     flagOverwrite,
		DefaultURL:    flagURL,
		DefaultRange:  flagRange,
		DefaultList:   flagList,
		Cookie:        flagCookie,
		CookieFile:    flagCookieFile,
		UserAgent:     flagUserAgent,
		ShowBrowser:   flagShowBrowser,
	})
	if err != nil {
		return err
	}

	logSvc := ui.NewLogger(cfg.Debug)
	if usedPath != "" {
		fmt.Printf("Config file: %s\n", usedPath)
	}
	fmt.Println("Full config:")
	cfg.Print()
	fmt.Println()

	formats, err := export.ParseFormats(cfg.Formats)
	if err != nil {
		return err
	}
	sel := chapters.Selection{Label: flagChapter, Range: cfg.DefaultRange, List: cfg.DefaultList, From: flagFrom}

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}
	store := checkpoint.NewStore(cfg.Output)

	if flagDryRun {
		return dryRun(cmd.Context(), cfg, sel, logSvc)
	}

	lock, err := store.Lock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	mode, overwrite, err := pickMode(store)
	if err != nil {
		return err
	}
	if mode == walker.Fresh && cfg.DefaultURL == "" {
		return fmt.Errorf("missing --url and no default_url in config")
	}

	source := cfg.DefaultURL
	if mode == walker.Resume {
		// only an explicit --url is checked against the checkpoint
		source = flagURL
	}

	ctx, stop := util.SetupInterruptHandler(cmd.Context())
	defer stop()

	p, err := newPipeline(ctx, cfg, logSvc)
	if err != nil {
		return err
	}
	defer p.Close()

	return p.run(ctx, walker.Config{
		SourceRef:     source,
		OutputRoot:    cfg.Output,
		Mode:          mode,
		VolumeDivisor: cfg.VolumeDivisor,
		Selection:     sel,
		Overwrite:     cfg.Overwrite || overwrite,
		KeepImages:    cfg.KeepImages,
		Formats:       formats,
	}, store)
}

// pickMode resolves --resume/--fresh, asking when a checkpoint exists and
// neither was given. The second result forces overwrite of the old title
// folder.
func pickMode(store *checkpoint.Store) (walker.Mode, bool, error) {
	switch {
	case flagResume:
		return walker.Resume, false, nil
	case flagFresh || !store.Exists():
		return walker.Fresh, false, nil
	}

	job, err := store.Load()
	if err != nil {
		return walker.Fresh, false, fmt.Errorf("%w (use --fresh to discard it)", err)
	}

	label := fmt.Sprintf("Checkpoint found for %q (%d/%d chapters done)", job.Title, job.NextIndex(), len(job.Chapters))
	if at, err := store.SavedAt(); err == nil {
		label += ", saved " + at.Local().Format(time.DateTime)
	}

	prompt := promptui.Select{
		Label: label,
		Items: []string{"Resume", "Start fresh (overwrite)", "Cancel"},
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return walker.Fresh, false, fmt.Errorf("checkpoint exists in %s, pass --resume or --fresh", store.Root())
	}

	switch idx {
	case 0:
		return walker.Resume, false, nil
	case 1:
		return walker.Fresh, true, nil
	}
	return walker.Fresh, false, errors.New("cancelled")
}

// pipeline owns the collaborators of one walker run.
type pipeline struct {
	cfg   *config.Config
	log   *ui.Logger
	drv   driver.Driver
	fetch *downloader.Fetcher
	exp   *export.Dispatcher
	split pages.SplitOrder
	stats *ui.Stats
}

func newPipeline(ctx context.Context, cfg *config.Config, log *ui.Logger) (*pipeline, error) {
	pageSize, err := export.ParsePageSize(cfg.PageSize)
	if err != nil {
		return nil, err
	}
	split, err := pages.ParseSplitOrder(cfg.SplitOrder)
	if err != nil {
		return nil, err
	}

	client, err := newHTTPClient(cfg, log)
	if err != nil {
		return nil, err
	}

	drv, err := openDriver(ctx, cfg, client, log)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		cfg:   cfg,
		log:   log,
		drv:   drv,
		fetch: downloader.New(client, log),
		exp:   export.NewDispatcher(export.Options{PageSize: pageSize, Workers: cfg.ExportWorkers}, log),
		split: split,
		stats: &ui.Stats{},
	}, nil
}

func newHTTPClient(cfg *config.Config, log *ui.Logger) (*http.Client, error) {
	return util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          30 * time.Second,
		UserAgent:        util.PickUserAgent(cfg.UserAgent),
		Cookie:           cfg.Cookie,
		CookieFile:       cfg.CookieFile,
		CloudflareBypass: cfg.CloudflareBypass,
		DebugLogger:      log,
	})
}

func openDriver(ctx context.Context, cfg *config.Config, client *http.Client, log *ui.Logger) (driver.Driver, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "static":
		return static.New(static.Options{
			Client:            client,
			PageSelector:      cfg.PageSelector,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Log:               log,
		}), nil

	case "browser":
		cookie, err := util.CookieHeader(cfg.Cookie, cfg.CookieFile)
		if err != nil {
			return nil, err
		}
		return browser.Launch(ctx, browser.Options{
			Bin:          cfg.ChromeBin,
			ShowWindow:   cfg.ShowBrowser,
			UserAgent:    util.PickUserAgent(cfg.UserAgent),
			Cookie:       cookie,
			PageSelector: cfg.PageSelector,
			NextSelector: cfg.NextSelector,
			LoadTimeout:  cfg.ContentTimeout,
			Log:          log,
		})
	}
	return nil, fmt.Errorf("unknown driver %q (want static or browser)", cfg.Driver)
}

func (p *pipeline) Close() {
	if p.drv != nil {
		if err := p.drv.Close(); err != nil {
			p.log.Debugf("close driver: %v\n", err)
		}
	}
}

func (p *pipeline) acquirer(jobDir string) walker.ChapterAcquirer {
	opts := acquire.DefaultOptions()
	opts.PageReadyTimeout = p.cfg.PageReadyTimeout
	opts.ContentTimeout = p.cfg.ContentTimeout

	cls := pages.NewClassifier(jobDir, p.split, p.cfg.JPEGQuality)
	return acquire.New(p.drv, cls, p.log, opts)
}

func (p *pipeline) run(ctx context.Context, wcfg walker.Config, store *checkpoint.Store) error {
	var pm *ui.MPBProgressManager
	if !p.cfg.Debug {
		pm = ui.NewProgressManager(os.Stdout)
	}

	deps := walker.Deps{
		Driver:   p.drv,
		Acquirer: p.acquirer,
		Store:    store,
		Exporter: p.exp,
		Log:      p.log,
		Stats:    p.stats,
	}
	if p.fetch != nil {
		deps.Cover = p.fetch
	}
	if pm != nil {
		deps.Progress = func(prefix string) walker.ChapterProgress { return pm.Register(prefix) }
		if p.fetch != nil {
			deps.Cover = &coverWithBar{f: p.fetch, pm: pm}
		}
	}

	start := time.Now()
	res, err := walker.New(wcfg, deps).Run(ctx)
	if pm != nil {
		pm.Close()
	}

	p.stats.PrintSummary(os.Stdout, time.Since(start))
	if res != nil {
		for _, out := range res.Report.Outputs() {
			fmt.Println("Wrote", out)
		}
	}
	if err != nil {
		return err
	}

	fmt.Println("\nAll done.")
	return nil
}

// coverWithBar shows the cover download as its own progress bar.
type coverWithBar struct {
	f  *downloader.Fetcher
	pm *ui.MPBProgressManager
}

func (c *coverWithBar) Fetch(ctx context.Context, url, dest string) (string, error) {
	bar := c.pm.RegisterDownload("Cover")
	c.f.Progress = bar.Update
	defer func() { c.f.Progress = nil }()

	out, err := c.f.Fetch(ctx, url, dest)
	if err != nil {
		bar.Abort()
		return "", err
	}
	bar.MarkDone()
	return out, nil
}

func dryRun(ctx context.Context, cfg *config.Config, sel chapters.Selection, log *ui.Logger) error {
	if cfg.DefaultURL == "" {
		return fmt.Errorf("missing --url and no default_url in config")
	}

	client, err := newHTTPClient(cfg, log)
	if err != nil {
		return err
	}
	drv, err := openDriver(ctx, cfg, client, log)
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()

	info, err := drv.Info(ctx, cfg.DefaultURL)
	if err != nil {
		return err
	}
	refs, err := drv.Chapters(ctx, cfg.DefaultURL)
	if err != nil {
		return err
	}
	for i := range refs {
		if refs[i].Number <= 0 {
			refs[i].Number = i + 1
		}
	}
	selected, err := chapters.Filter(refs, sel, func(r driver.ChapterRef) string { return strconv.Itoa(r.Number) })
	if err != nil {
		return err
	}

	fmt.Printf("Dry-run: %q, %d of %d chapters selected.\n\n", info.Title, len(selected), len(refs))
	for i, ch := range selected {
		fmt.Printf("%3d) %s  [%d]\n    %s\n", i+1, ch.Title, ch.Number, ch.Ref)
	}
	return nil
}

// hintFor suggests the next command after a failed run.
func hintFor(err error) string {
	var (
		ce *acquire.ChapterError
		ee *export.EncoderError
		cc *checkpoint.CorruptError
	)
	switch {
	case errors.As(err, &ce), errors.Is(err, context.Canceled), errors.Is(err, driver.ErrUnavailable):
		return "Progress up to the last completed chapter is saved. Run again with --resume to continue."
	case errors.As(err, &ee):
		return "Page images and the checkpoint were kept. Run `mangabind export` to retry the export."
	case errors.As(err, &cc):
		return "The checkpoint cannot be used. Start over with --fresh."
	}
	return ""
}
