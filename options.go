package domready

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/domready/dom"
	"github.com/hazyhaar/domready/readiness"
)

// ErrNoSelector is returned when a request carries no selector.
var ErrNoSelector = errors.New("domready: no selector")

// Option tunes a single Ready or Observe request.
type Option func(*request)

// WithTarget scopes the search to t. Default: Config.Document.
func WithTarget(t dom.Target) Option {
	return func(r *request) { r.target = t }
}

// StopOnDOMReady stops looking once the document finished parsing; a watch
// still pending at that point settles with no element. Default: true.
func StopOnDOMReady(v bool) Option {
	return func(r *request) { r.stopOnDOMReady = v }
}

// WaitForChildren delays a match until its subtree is fully parsed.
// Default: true.
func WaitForChildren(v bool) Option {
	return func(r *request) { r.waitForChildren = v }
}

// WithPredicate keeps only matches fn accepts. Requests with a predicate are
// never shared between callers.
func WithPredicate(fn func(dom.Element) bool) Option {
	return func(r *request) { r.predicate = fn }
}

// WithTimeout bounds the wait. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *request) { r.timeout = d }
}

// request is the immutable description of one Ready or Observe call.
type request struct {
	selectors       []string
	selector        string
	target          dom.Target
	doc             dom.Document
	stopOnDOMReady  bool
	waitForChildren bool
	predicate       readiness.Predicate
	timeout         time.Duration
}

func (w *Watcher) newRequest(selectors []string, opts []Option) (*request, error) {
	r := &request{
		target:          w.doc,
		stopOnDOMReady:  true,
		waitForChildren: true,
	}
	for _, o := range opts {
		o(r)
	}

	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			r.selectors = append(r.selectors, s)
		}
	}
	if len(r.selectors) == 0 {
		return nil, ErrNoSelector
	}
	r.selector = readiness.SelectorList(r.selectors)

	if r.target == nil {
		return nil, fmt.Errorf("domready: %w: no target and no default document", dom.ErrInvalidTarget)
	}
	r.doc = r.target.OwnerDocument()
	if r.doc == nil {
		return nil, fmt.Errorf("domready: %w: target has no owner document", dom.ErrInvalidTarget)
	}
	if r.timeout < 0 {
		r.timeout = 0
	}
	return r, nil
}

// cacheable reports whether identical requests may share a result.
func (r *request) cacheable() bool { return r.predicate == nil }

// watchContext derives the context a watch runs under: the caller's signal,
// bounded by the timeout.
func (r *request) watchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

// check runs one readiness evaluation. readyState is read before matching:
// a document seen as ready can only hold more, never fewer, of its elements.
func (r *request) check() (readiness.Decision, error) {
	ready := r.doc.ReadyState().Ready()
	el, err := readiness.Match(r.target, r.selector, r.predicate)
	if err != nil {
		return readiness.Decision{}, fmt.Errorf("domready: match %q: %w", r.selector, err)
	}
	return readiness.Decide(readiness.Input{
		Element:         el,
		Root:            r.target,
		DOMReady:        ready,
		StopOnDOMReady:  r.stopOnDOMReady,
		WaitForChildren: r.waitForChildren,
	}), nil
}
