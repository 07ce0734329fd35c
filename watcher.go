package domready

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/domready/dom"
)

// Config configures a Watcher.
type Config struct {
	// Document is the default target of requests that carry no WithTarget.
	Document dom.Document

	// Registry holds in-flight results. Nil gives the Watcher its own.
	Registry *Registry

	// FrameInterval paces re-checks when the host cannot report mutations.
	// Default: 16ms.
	FrameInterval time.Duration

	// PollInterval adds periodic re-checks on top of mutation observation,
	// for hosts whose change reports may be lossy. Zero disables it.
	PollInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = 16 * time.Millisecond
	}
	if c.PollInterval < 0 {
		c.PollInterval = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher resolves readiness requests against host documents.
type Watcher struct {
	doc      dom.Document
	registry *Registry
	frame    time.Duration
	poll     time.Duration
	logger   *slog.Logger
	newID    func() string
}

// New creates a Watcher.
func New(cfg Config) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		doc:      cfg.Document,
		registry: cfg.Registry,
		frame:    cfg.FrameInterval,
		poll:     cfg.PollInterval,
		logger:   cfg.Logger,
		newID:    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Registry returns the registry the Watcher caches results in.
func (w *Watcher) Registry() *Registry { return w.registry }

// observeAll is the mutation scope every watch subscribes with.
var observeAll = dom.ObserveOptions{ChildList: true, Subtree: true, Attributes: true}

// Ready returns a result that settles with the first element matching any of
// selectors once it is ready, or with none once the document is ready
// (StopOnDOMReady), the timeout elapses, ctx ends, or Stop is called.
//
// An identical in-flight request returns the same *Pending. When the answer
// is known immediately the result comes back already settled. Errors are
// reserved for unusable input: no selector, no target, a malformed selector,
// or a host that refuses observation.
func (w *Watcher) Ready(ctx context.Context, selectors []string, opts ...Option) (*Pending, error) {
	req, err := w.newRequest(selectors, opts)
	if err != nil {
		return nil, err
	}
	fp := req.fingerprint(ctx)

	if req.cacheable() {
		if p, ok := w.registry.Get(fp); ok {
			w.logger.Debug("domready: joined in-flight watch", "id", p.id, "selectors", req.selectors)
			return p, nil
		}
	}

	if ctx.Err() != nil {
		return w.settled(req, fp, nil, "aborted"), nil
	}

	d, err := req.check()
	if err != nil {
		return nil, err
	}
	if d.Final() {
		return w.settled(req, fp, d.Element, d.Outcome.String()), nil
	}

	wake := make(wakeup, 1)
	disconnect, interval, err := w.subscribe(req, wake)
	if err != nil {
		return nil, err
	}
	// Re-check at once: the tree may have changed between the first check
	// and the subscription.
	wake.notify()

	wctx, cancel := req.watchContext(ctx)
	p := newPending(w.newID(), fp)
	p.cancel = cancel
	if req.cacheable() {
		p.release = func(p *Pending) { w.registry.deleteIf(fp, p) }
		if cur, loaded := w.registry.loadOrStore(fp, p); loaded {
			disconnect()
			cancel()
			return cur, nil
		}
	}

	w.logger.Debug("domready: watch started",
		"id", p.id,
		"selectors", req.selectors,
		"stop_on_dom_ready", req.stopOnDOMReady,
		"wait_for_children", req.waitForChildren,
		"timeout", req.timeout,
		"polling", !isObserver(req.doc),
	)
	go w.run(wctx, req, p, wake, disconnect, interval)
	return p, nil
}

// settled builds a result that is final from the start. It is never cached.
func (w *Watcher) settled(req *request, fp Fingerprint, el dom.Element, reason string) *Pending {
	p := newPending(w.newID(), fp)
	p.settle(el)
	w.logger.Debug("domready: settled immediately", "id", p.id, "selectors", req.selectors, "outcome", reason)
	return p
}

// subscribe wires change notifications for req into wake. It returns the
// teardown and the polling interval to run alongside (zero for none).
func (w *Watcher) subscribe(req *request, wake wakeup) (func(), time.Duration, error) {
	obs, ok := req.doc.(dom.Observer)
	if !ok {
		return func() {}, w.frame, nil
	}

	disconnect, err := obs.Observe(req.target, observeAll, func([]dom.Mutation) { wake.notify() })
	if err != nil {
		return nil, 0, observerError(err)
	}
	removeReady := obs.OnReadyStateChange(func(dom.ReadyState) { wake.notify() })
	return func() {
		disconnect()
		removeReady()
	}, w.poll, nil
}

// run re-checks req on every wake until the result settles.
func (w *Watcher) run(ctx context.Context, req *request, p *Pending, wake wakeup, disconnect func(), interval time.Duration) {
	defer disconnect()
	defer p.cancel()

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	checks := 0
	for {
		select {
		case <-ctx.Done():
			w.abort(ctx, req, p, checks)
			return
		case <-p.done:
			return
		case <-wake:
		case <-tick:
		}
		// Cancellation wins over a wake that raced with it.
		if ctx.Err() != nil {
			w.abort(ctx, req, p, checks)
			return
		}

		checks++
		d, err := req.check()
		if err != nil {
			w.logger.Warn("domready: check failed", "id", p.id, "error", err)
			continue
		}
		if !d.Final() {
			continue
		}
		if p.settle(d.Element) {
			w.logger.Debug("domready: watch settled",
				"id", p.id,
				"outcome", d.Outcome.String(),
				"checks", checks,
				"elapsed", p.elapsed(),
			)
		}
		return
	}
}

func (w *Watcher) abort(ctx context.Context, req *request, p *Pending, checks int) {
	if !p.settle(nil) {
		return
	}
	reason := "cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "timeout"
	}
	w.logger.Debug("domready: watch aborted",
		"id", p.id,
		"selectors", req.selectors,
		"reason", reason,
		"checks", checks,
		"elapsed", p.elapsed(),
	)
}

func isObserver(d dom.Document) bool {
	_, ok := d.(dom.Observer)
	return ok
}

func observerError(err error) error {
	if errors.Is(err, dom.ErrObserverSetup) {
		return fmt.Errorf("domready: %w", err)
	}
	return fmt.Errorf("domready: %w: %v", dom.ErrObserverSetup, err)
}

// wakeup is a coalescing signal: any number of notifications before the
// reader drains it collapse into one.
type wakeup chan struct{}

func (w wakeup) notify() {
	select {
	case w <- struct{}{}:
	default:
	}
}
