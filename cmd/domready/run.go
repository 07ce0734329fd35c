package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domready"
	"github.com/hazyhaar/domready/dom"
	"github.com/hazyhaar/domready/htmldom"
	"github.com/hazyhaar/domready/internal/config"
	"github.com/hazyhaar/domready/internal/report"
	"github.com/hazyhaar/domready/internal/store"
	"github.com/hazyhaar/domready/rodhost"
)

// runner executes checks and routes their results.
type runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	pace     time.Duration
	render   *report.Renderer
	out      report.Reporter
	db       *sql.DB
	registry *domready.Registry

	// watchEvery is the -watch polling interval.
	watchEvery time.Duration

	browserOnce sync.Once
	browser     *rodhost.Manager
	browserErr  error
}

func newRunner(cfg *config.Config, logger *slog.Logger, stdout io.Writer, pace time.Duration) (*runner, error) {
	render, err := report.NewRenderer(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	r := &runner{
		cfg:      cfg,
		logger:   logger,
		pace:     pace,
		render:   render,
		registry: domready.NewRegistry(),

		watchEvery: time.Second,
	}

	reporters := []report.Reporter{report.NewJSONLines(stdout)}
	if cfg.Output.Webhook != "" {
		reporters = append(reporters, report.NewWebhook(cfg.Output.Webhook, report.WithWebhookLogger(logger)))
	}
	if cfg.DB != "" {
		db, err := store.Open(cfg.DB, store.WithMkdirAll())
		if err != nil {
			return nil, err
		}
		r.db = db
		reporters = append(reporters, report.Func(r.journal))
	}
	r.out = report.NewRouter(logger, reporters...)
	return r, nil
}

// journal records final results; streamed elements are not journaled.
func (r *runner) journal(ctx context.Context, kind string, res report.Result) error {
	if kind != report.KindResult {
		return nil
	}
	_, err := store.RecordResult(ctx, r.db, store.Result{
		ID:      res.ID,
		CheckID: res.CheckID,
		URL:     res.URL,
		Found:   res.Found,
		Tag:     res.Tag,
		Content: res.Content,
		Elapsed: res.Elapsed,
	})
	return err
}

// Run executes the configured checks, then the database checks. With watch
// it keeps running and re-executes the database checks on every change.
func (r *runner) Run(ctx context.Context, watch bool) error {
	r.runAll(ctx, r.cfg.Checks)

	if r.db == nil {
		return nil
	}
	if err := r.runStored(ctx); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	w := store.NewWatcher(r.db, store.WatchOptions{Interval: r.watchEvery, Logger: r.logger})
	r.logger.Info("domready: watching checks", "db", r.cfg.DB)
	w.OnChange(ctx, func() error { return r.runStored(ctx) })
	return nil
}

func (r *runner) runStored(ctx context.Context) error {
	stored, err := store.LoadChecks(ctx, r.db)
	if err != nil {
		return err
	}
	checks := make([]config.CheckConfig, 0, len(stored))
	for _, c := range stored {
		stop, wait := c.StopOnDOMReady, c.WaitForChildren
		ch := config.CheckConfig{
			ID:              c.ID,
			URL:             c.URL,
			Selectors:       c.Selectors,
			StopOnDOMReady:  &stop,
			WaitForChildren: &wait,
			Timeout:         c.Timeout,
			Observe:         c.Observe,
		}
		if path, ok := strings.CutPrefix(c.URL, "file://"); ok {
			ch.URL, ch.File = "", path
		}
		checks = append(checks, ch)
	}
	r.runAll(ctx, checks)
	return nil
}

// runAll runs checks concurrently. Failures are logged per check.
func (r *runner) runAll(ctx context.Context, checks []config.CheckConfig) {
	var wg sync.WaitGroup
	for _, ch := range checks {
		wg.Go(func() {
			if err := r.runCheck(ctx, ch); err != nil {
				r.logger.Error("domready: check failed", "check", ch.ID, "error", err)
			}
		})
	}
	wg.Wait()
}

func (r *runner) runCheck(ctx context.Context, ch config.CheckConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, err := r.open(ctx, ch)
	if err != nil {
		return err
	}
	defer src.close()

	w := domready.New(domready.Config{
		Document:      src.doc,
		Registry:      r.registry,
		FrameInterval: r.cfg.Watch.FrameInterval,
		PollInterval:  r.cfg.Watch.PollInterval,
		Logger:        r.logger.With("check", ch.ID),
	})
	opts := []domready.Option{
		domready.StopOnDOMReady(*ch.StopOnDOMReady),
		domready.WaitForChildren(*ch.WaitForChildren),
		domready.WithTimeout(ch.Timeout),
	}

	if ch.Observe {
		seq, err := w.Observe(ctx, ch.Selectors, opts...)
		if err != nil {
			return fmt.Errorf("check %s: %w", ch.ID, err)
		}
		src.start()
		n := 0
		for el := range seq {
			n++
			res := r.result(ch, el, src.opened)
			if err := r.out.Report(ctx, report.KindElement, res); err != nil {
				r.logger.Warn("domready: report element", "check", ch.ID, "error", err)
			}
		}
		res := r.result(ch, nil, src.opened)
		res.Found = n > 0
		return r.out.Report(ctx, report.KindResult, res)
	}

	p, err := w.Ready(ctx, ch.Selectors, opts...)
	if err != nil {
		return fmt.Errorf("check %s: %w", ch.ID, err)
	}
	src.start()
	el, _ := p.Wait(ctx)
	r.logger.Info("domready: check settled", "check", ch.ID, "found", el != nil, "elapsed", started(src.opened))
	return r.out.Report(ctx, report.KindResult, r.result(ch, el, src.opened))
}

func (r *runner) result(ch config.CheckConfig, el dom.Element, opened time.Time) report.Result {
	res := report.Result{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CheckID:   ch.ID,
		URL:       ch.URL,
		Selectors: ch.Selectors,
		Format:    r.render.Format(),
		Elapsed:   time.Since(opened),
		Timestamp: time.Now().UnixMilli(),
	}
	if res.URL == "" {
		res.URL = "file://" + ch.File
	}
	if el == nil {
		return res
	}
	res.Found = true
	res.Tag = el.TagName()
	content, err := r.render.Render(el)
	if err != nil {
		r.logger.Warn("domready: render", "check", ch.ID, "error", err)
		return res
	}
	res.Content = content
	return res
}

// source is an opened document. start begins feeding it, for hosts that
// load on demand; close releases it.
type source struct {
	doc    dom.Document
	opened time.Time
	start  func()
	close  func()
}

func (r *runner) open(ctx context.Context, ch config.CheckConfig) (*source, error) {
	if ch.File != "" {
		return r.openFile(ctx, ch.File)
	}
	b, err := r.chrome(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := b.Open(ctx, ch.URL)
	if err != nil {
		return nil, err
	}
	return &source{
		doc:    doc,
		opened: time.Now(),
		start:  func() {},
		close:  func() { doc.Close() },
	}, nil
}

// openFile streams path into a fresh document once start is called, paced
// by r.pace, so the watch sees the tree grow. close stops a load still in
// progress.
func (r *runner) openFile(ctx context.Context, path string) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	doc := htmldom.NewLoading()
	loadCtx, cancel := context.WithCancel(ctx)
	loaded := make(chan struct{})
	var once sync.Once
	start := func() {
		once.Do(func() {
			go func() {
				defer close(loaded)
				if err := doc.Load(loadCtx, f, r.pace); err != nil && loadCtx.Err() == nil {
					r.logger.Error("domready: load file", "path", path, "error", err)
				}
			}()
		})
	}
	return &source{
		doc:    doc,
		opened: time.Now(),
		start:  start,
		close: func() {
			cancel()
			start()
			<-loaded
			f.Close()
		},
	}, nil
}

// chrome starts the shared browser on first use.
func (r *runner) chrome(ctx context.Context) (*rodhost.Manager, error) {
	r.browserOnce.Do(func() {
		m := rodhost.NewManager(rodhost.BrowserConfig{
			RemoteURL:        r.cfg.Browser.Remote,
			Stealth:          *r.cfg.Browser.Stealth,
			ResourceBlocking: r.cfg.Browser.ResourceBlocking,
			NavigateTimeout:  r.cfg.Browser.NavigateTimeout,
			Logger:           r.logger,
		})
		if err := m.Start(context.WithoutCancel(ctx)); err != nil {
			r.browserErr = err
			return
		}
		r.browser = m
	})
	return r.browser, r.browserErr
}

// Close releases the browser, the database and the reporters.
func (r *runner) Close() error {
	if r.browser != nil {
		r.browser.Close()
	}
	err := r.out.Close()
	if r.db != nil {
		if cerr := r.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
