package domready

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/hazyhaar/domready/dom"
	"github.com/hazyhaar/domready/readiness"
)

// Observe streams elements matching any of selectors as they are added to
// the target (or change into a match) and become ready. Elements already
// present when ranging starts are not yielded.
//
// Each range over the returned sequence is an independent session. A
// session ends when the document is ready (StopOnDOMReady), the timeout
// elapses, ctx ends, or the loop body breaks. Each element is yielded at
// most once per session.
//
// The host must report mutations; a host that cannot fails here with
// dom.ErrObserverSetup.
func (w *Watcher) Observe(ctx context.Context, selectors []string, opts ...Option) (iter.Seq[dom.Element], error) {
	req, err := w.newRequest(selectors, opts)
	if err != nil {
		return nil, err
	}
	if _, err := req.target.QuerySelector(req.selector); err != nil {
		return nil, fmt.Errorf("domready: observe %q: %w", req.selector, err)
	}

	obs, ok := req.doc.(dom.Observer)
	if !ok {
		return nil, fmt.Errorf("domready: observe: %w: host does not report mutations", dom.ErrObserverSetup)
	}
	trial, err := obs.Observe(req.target, observeAll, func([]dom.Mutation) {})
	if err != nil {
		return nil, observerError(err)
	}
	trial()

	return func(yield func(dom.Element) bool) {
		w.stream(ctx, req, obs, yield)
	}, nil
}

// stream runs one observation session.
func (w *Watcher) stream(ctx context.Context, req *request, obs dom.Observer, yield func(dom.Element) bool) {
	ctx, cancel := req.watchContext(ctx)
	defer cancel()

	s := &session{wake: make(wakeup, 1), seen: make(map[dom.Element]struct{})}
	disconnect, err := obs.Observe(req.target, observeAll, s.push)
	if err != nil {
		w.logger.Warn("domready: observe session not started", "selectors", req.selectors, "error", err)
		return
	}
	defer disconnect()
	removeReady := obs.OnReadyStateChange(func(dom.ReadyState) { s.wake.notify() })
	defer removeReady()

	id := w.newID()
	yielded := 0
	reason := "dom_ready"
	defer func() {
		w.logger.Debug("domready: observe session ended", "id", id, "selectors", req.selectors, "yielded", yielded, "reason", reason)
	}()

	if req.stopOnDOMReady && req.doc.ReadyState().Ready() {
		return
	}
	w.logger.Debug("domready: observe session started", "id", id, "selectors", req.selectors)

	for {
		select {
		case <-ctx.Done():
			reason = abortReason(ctx)
			return
		case <-s.wake:
		}
		if ctx.Err() != nil {
			reason = abortReason(ctx)
			return
		}

		ready := req.doc.ReadyState().Ready()
		s.collect(w, req)

		kept := s.candidates[:0]
		for _, el := range s.candidates {
			if !s.qualifies(w, req, el) {
				continue
			}
			d := readiness.Decide(readiness.Input{
				Element:         el,
				Root:            req.target,
				DOMReady:        ready,
				StopOnDOMReady:  req.stopOnDOMReady,
				WaitForChildren: req.waitForChildren,
			})
			if d.Outcome != readiness.Found {
				kept = append(kept, el)
				continue
			}
			s.seen[el] = struct{}{}
			yielded++
			if !yield(el) {
				reason = "consumer_stopped"
				return
			}
		}
		clear(s.candidates[len(kept):])
		s.candidates = kept

		if ready && req.stopOnDOMReady {
			return
		}
	}
}

func abortReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}

// session buffers mutation records between wakes and tracks candidates that
// matched but were not ready yet.
type session struct {
	mu    sync.Mutex
	queue []dom.Mutation
	wake  wakeup

	candidates []dom.Element
	seen       map[dom.Element]struct{}
}

func (s *session) push(batch []dom.Mutation) {
	s.mu.Lock()
	s.queue = append(s.queue, batch...)
	s.mu.Unlock()
	s.wake.notify()
}

func (s *session) drain() []dom.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

// collect turns queued records into candidates: matching added elements,
// their matching descendants, and elements whose attributes changed into a
// match. Removed elements stop being candidates.
func (s *session) collect(w *Watcher, req *request) {
	for _, m := range s.drain() {
		switch m.Type {
		case dom.MutationChildList:
			for _, n := range m.RemovedNodes {
				s.drop(n)
			}
			for _, n := range m.AddedNodes {
				el, ok := n.(dom.Element)
				if !ok {
					continue
				}
				s.consider(w, req, el)
				inner, err := el.QuerySelectorAll(req.selector)
				if err != nil {
					w.logger.Debug("domready: descendant query failed", "error", err)
					continue
				}
				for _, d := range inner {
					s.consider(w, req, d)
				}
			}
		case dom.MutationAttributes:
			if el, ok := m.Target.(dom.Element); ok {
				s.consider(w, req, el)
			}
		}
	}
}

func (s *session) consider(w *Watcher, req *request, el dom.Element) {
	if _, done := s.seen[el]; done {
		return
	}
	for _, c := range s.candidates {
		if c == el {
			return
		}
	}
	ok, err := readiness.Accept(el, req.selector, req.predicate)
	if err != nil {
		w.logger.Debug("domready: match failed", "error", err)
		return
	}
	if ok {
		s.candidates = append(s.candidates, el)
	}
}

// drop removes n and every candidate inside it. A detached subtree keeps
// its parent links, so the ancestor walk still reaches n.
func (s *session) drop(n dom.Node) {
	kept := s.candidates[:0]
	for _, c := range s.candidates {
		if !within(c, n) {
			kept = append(kept, c)
		}
	}
	clear(s.candidates[len(kept):])
	s.candidates = kept
}

// qualifies re-checks a retained candidate: it must still be attached under
// the target and still match, since later mutations may have changed either.
func (s *session) qualifies(w *Watcher, req *request, el dom.Element) bool {
	if !within(el, req.target) {
		return false
	}
	ok, err := readiness.Accept(el, req.selector, req.predicate)
	if err != nil {
		w.logger.Debug("domready: match failed", "error", err)
		return false
	}
	return ok
}

// within reports whether n is anc or one of its descendants.
func within(n, anc dom.Node) bool {
	for cur := n; cur != nil; cur = cur.ParentNode() {
		if cur == anc {
			return true
		}
	}
	return false
}
