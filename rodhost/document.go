// Package rodhost implements the dom contracts on a live Chrome page driven
// by go-rod.
//
// Queries run through CDP. Mutations come from a MutationObserver injected
// into every new document; it reports through a Runtime binding, and a
// dispatcher goroutine turns those reports into dom.Mutation batches.
package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domready/dom"
)

//go:embed observer.js
var observerJS string

const bindingName = "__domready_binding"

// Document is a dom.Document and dom.Observer backed by a rod page.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events chan string

	hmu     sync.Mutex
	handles map[proto.DOMBackendNodeID]*Element

	omu       sync.Mutex
	nextID    int
	observers map[int]func([]dom.Mutation)
	readyFns  map[int]func(dom.ReadyState)
}

// Attach prepares page for readiness tracking: it registers the binding,
// installs the observer script for the current and every future document,
// and starts the event dispatcher. Attach before navigating so the loading
// phase is visible.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:      page,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan string, 256),
		handles:   make(map[proto.DOMBackendNodeID]*Element),
		observers: make(map[int]func([]dom.Mutation)),
		readyFns:  make(map[int]func(dom.ReadyState)),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		cancel()
		return nil, fmt.Errorf("rodhost: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument("(" + observerJS + ")()"); err != nil {
		cancel()
		return nil, fmt.Errorf("rodhost: install observer: %w", err)
	}
	if _, err := page.Eval(observerJS); err != nil {
		cancel()
		return nil, fmt.Errorf("rodhost: inject observer: %w", err)
	}

	go d.listen()
	go d.dispatch()
	return d, nil
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// Navigate loads pageURL without waiting for the load event and forgets
// handles from the previous document.
func (d *Document) Navigate(ctx context.Context, pageURL string) error {
	d.hmu.Lock()
	clear(d.handles)
	d.hmu.Unlock()

	if err := d.page.Context(ctx).Navigate(pageURL); err != nil {
		return fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	return nil
}

// Close stops the dispatcher and closes the page.
func (d *Document) Close() error {
	d.cancel()
	return d.page.Close()
}

// ReadyState evaluates document.readyState. An unreadable page reports
// loading, which never ends a watch early.
func (d *Document) ReadyState() dom.ReadyState {
	res, err := d.page.Eval(`() => document.readyState`)
	if err != nil {
		d.logger.Debug("rodhost: readyState", "error", err)
		return dom.StateLoading
	}
	return dom.ReadyState(res.Value.Str())
}

func (d *Document) NodeName() string            { return "#document" }
func (d *Document) ParentNode() dom.Node        { return nil }
func (d *Document) NextSibling() dom.Node       { return nil }
func (d *Document) OwnerDocument() dom.Document { return d }

// QuerySelector returns the first element matching selector, or nil.
func (d *Document) QuerySelector(selector string) (dom.Element, error) {
	ok, el, err := d.page.Has(selector)
	if err != nil {
		return nil, selectorError(selector, err)
	}
	if !ok {
		return nil, nil
	}
	return d.wrap(el)
}

// QuerySelectorAll returns every element matching selector.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, selectorError(selector, err)
	}
	return d.wrapAll(els)
}

// Observe starts a MutationObserver on root inside the page.
func (d *Document) Observe(root dom.Node, opts dom.ObserveOptions, fn func([]dom.Mutation)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("rodhost: observe: %w: nil callback", dom.ErrObserverSetup)
	}

	d.omu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	d.omu.Unlock()

	jsOpts := map[string]bool{
		"childList":  opts.ChildList,
		"subtree":    opts.Subtree,
		"attributes": opts.Attributes,
	}
	var err error
	switch r := root.(type) {
	case *Document:
		if r != d {
			err = fmt.Errorf("root belongs to another page")
			break
		}
		_, err = d.page.Eval(`(id, opts) => window.__domready.observe(document, id, opts)`, id, jsOpts)
	case *Element:
		if r.doc != d {
			err = fmt.Errorf("root belongs to another page")
			break
		}
		_, err = r.el.Eval(`function(id, opts) { return window.__domready.observe(this, id, opts) }`, id, jsOpts)
	default:
		err = fmt.Errorf("unsupported root %T", root)
	}
	if err != nil {
		d.omu.Lock()
		delete(d.observers, id)
		d.omu.Unlock()
		return nil, fmt.Errorf("rodhost: observe: %w: %v", dom.ErrObserverSetup, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			d.omu.Lock()
			delete(d.observers, id)
			d.omu.Unlock()
			if _, err := d.page.Eval(`(id) => window.__domready && window.__domready.disconnect(id)`, id); err != nil {
				d.logger.Debug("rodhost: disconnect observer", "id", id, "error", err)
			}
		})
	}, nil
}

// OnReadyStateChange registers fn for readystatechange events.
func (d *Document) OnReadyStateChange(fn func(dom.ReadyState)) (remove func()) {
	d.omu.Lock()
	id := d.nextID
	d.nextID++
	d.readyFns[id] = fn
	d.omu.Unlock()
	return func() {
		d.omu.Lock()
		delete(d.readyFns, id)
		d.omu.Unlock()
	}
}

// listen forwards binding payloads to the dispatcher. Payloads are handed
// off so the event reader never issues CDP calls itself.
func (d *Document) listen() {
	d.page.Context(d.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		select {
		case d.events <- e.Payload:
		case <-d.ctx.Done():
		}
	})()
}

func (d *Document) dispatch() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case payload := <-d.events:
			d.handle(payload)
		}
	}
}

func (d *Document) handle(payload string) {
	msg, err := decodeMessage(payload)
	if err != nil {
		d.logger.Warn("rodhost: bad binding payload", "error", err)
		return
	}

	switch msg.Kind {
	case kindReady:
		d.omu.Lock()
		fns := make([]func(dom.ReadyState), 0, len(d.readyFns))
		for _, fn := range d.readyFns {
			fns = append(fns, fn)
		}
		d.omu.Unlock()
		for _, fn := range fns {
			fn(dom.ReadyState(msg.State))
		}

	case kindMutations:
		d.omu.Lock()
		fn := d.observers[msg.Observer]
		d.omu.Unlock()
		if fn == nil {
			return
		}
		batch := make([]dom.Mutation, 0, len(msg.Records))
		for _, r := range msg.Records {
			batch = append(batch, d.resolveRecord(r))
		}
		fn(batch)
	}
}

func (d *Document) resolveRecord(r record) dom.Mutation {
	m := dom.Mutation{
		Type:          dom.MutationType(r.Type),
		Target:        d.resolve(r.Target),
		AttributeName: r.Attr,
	}
	for _, ref := range r.Added {
		if n := d.resolve(ref); n != nil {
			m.AddedNodes = append(m.AddedNodes, n)
		}
	}
	for _, ref := range r.Removed {
		if n := d.resolve(ref); n != nil {
			m.RemovedNodes = append(m.RemovedNodes, n)
		}
	}
	return m
}

// resolve turns a node reference into a handle. Elements are fetched from
// the page; other node kinds become opaque leaves.
func (d *Document) resolve(ref *nodeRef) dom.Node {
	if ref == nil {
		return nil
	}
	switch ref.Type {
	case nodeDocument:
		return d
	case nodeElement:
		el, err := d.page.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(id) => window.__domready.node(id)`, ref.ID))
		if err != nil {
			d.logger.Debug("rodhost: resolve node", "id", ref.ID, "error", err)
			return nil
		}
		h, err := d.wrap(el)
		if err != nil {
			return nil
		}
		return h
	default:
		return &leaf{name: ref.Name}
	}
}

// wrap returns the stable handle for el, keyed by its backend node id.
func (d *Document) wrap(el *rod.Element) (*Element, error) {
	node, err := el.Describe(0, false)
	if err != nil {
		return nil, fmt.Errorf("rodhost: describe: %w", err)
	}

	d.hmu.Lock()
	defer d.hmu.Unlock()
	if h, ok := d.handles[node.BackendNodeID]; ok {
		return h, nil
	}
	h := &Element{doc: d, el: el, tag: strings.ToUpper(node.NodeName)}
	d.handles[node.BackendNodeID] = h
	return h, nil
}

func (d *Document) wrapAll(els rod.Elements) ([]dom.Element, error) {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		h, err := d.wrap(el)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func selectorError(selector string, err error) error {
	if strings.Contains(err.Error(), "not a valid selector") {
		return fmt.Errorf("rodhost: %q: %w: %v", selector, dom.ErrInvalidSelector, err)
	}
	return fmt.Errorf("rodhost: query %q: %w", selector, err)
}

// Binding payloads.

const (
	kindMutations = "mutations"
	kindReady     = "ready"

	nodeElement  = 1
	nodeDocument = 9
)

type message struct {
	Kind     string   `json:"kind"`
	Observer int      `json:"observer"`
	State    string   `json:"state"`
	Records  []record `json:"records"`
}

type record struct {
	Type    string     `json:"type"`
	Target  *nodeRef   `json:"target"`
	Added   []*nodeRef `json:"added"`
	Removed []*nodeRef `json:"removed"`
	Attr    string     `json:"attr"`
}

type nodeRef struct {
	ID   int    `json:"id"`
	Type int    `json:"type"`
	Name string `json:"name"`
}

func decodeMessage(payload string) (message, error) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return message{}, fmt.Errorf("rodhost: decode binding: %w", err)
	}
	switch msg.Kind {
	case kindMutations, kindReady:
		return msg, nil
	}
	return message{}, fmt.Errorf("rodhost: decode binding: unknown kind %q", msg.Kind)
}
