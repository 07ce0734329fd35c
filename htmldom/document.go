// Package htmldom is an in-process live DOM built on golang.org/x/net/html.
//
// It implements the dom contracts: cascadia selector matching, readyState,
// mutation observers and a streaming loader that attaches nodes in parse
// order. Every method is safe for concurrent use. Observer callbacks run on
// the goroutine that performed the mutation, after the document lock is
// released, so they may read the tree.
package htmldom

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domready/dom"
)

var (
	// ErrForeignNode is returned when a node from another document (or
	// another dom host) is passed to a mutation method.
	ErrForeignNode = errors.New("htmldom: node belongs to another document")

	// ErrHierarchy is returned when an insertion would make a node its own
	// ancestor or insert the document itself.
	ErrHierarchy = errors.New("htmldom: hierarchy request error")
)

// Document is a live HTML document.
type Document struct {
	mu    sync.RWMutex
	root  *html.Node
	state dom.ReadyState

	handles *handleTable

	omu       sync.Mutex
	nextID    int
	observers map[int]*observation
	readyFns  map[int]func(dom.ReadyState)

	selectors *selectorCache
}

type observation struct {
	root *html.Node
	opts dom.ObserveOptions
	fn   func([]dom.Mutation)
}

func newDocument(root *html.Node, state dom.ReadyState) *Document {
	return &Document{
		root:      root,
		state:     state,
		handles:   newHandleTable(),
		observers: make(map[int]*observation),
		readyFns:  make(map[int]func(dom.ReadyState)),
		selectors: newSelectorCache(),
	}
}

// New returns a blank, fully loaded page: <html><head></head><body></body></html>.
func New() *Document {
	doc, err := Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body></body></html>"))
	if err != nil {
		panic("htmldom: blank document: " + err.Error())
	}
	return doc
}

// Parse builds a complete document from r. Its readyState is complete.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return newDocument(root, dom.StateComplete), nil
}

// NewLoading returns an empty document in the loading state, ready to be
// fed by Load.
func NewLoading() *Document {
	return newDocument(&html.Node{Type: html.DocumentNode}, dom.StateLoading)
}

// ReadyState returns the current readyState.
func (d *Document) ReadyState() dom.ReadyState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// SetReadyState moves the document to state and notifies listeners when it
// changed.
func (d *Document) SetReadyState(state dom.ReadyState) {
	d.mu.Lock()
	if d.state == state {
		d.mu.Unlock()
		return
	}
	d.state = state
	d.mu.Unlock()

	d.omu.Lock()
	fns := make([]func(dom.ReadyState), 0, len(d.readyFns))
	for _, fn := range d.readyFns {
		fns = append(fns, fn)
	}
	d.omu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// OnReadyStateChange registers fn for every readyState transition.
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

// Observe registers fn for mutations under root. root must belong to d; it
// may be detached.
func (d *Document) Observe(root dom.Node, opts dom.ObserveOptions, fn func([]dom.Mutation)) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("htmldom: observe: %w: nil callback", dom.ErrObserverSetup)
	}
	if !opts.ChildList && !opts.Attributes {
		return nil, fmt.Errorf("htmldom: observe: %w: no mutation kind selected", dom.ErrObserverSetup)
	}
	n, err := d.unwrap(root)
	if err != nil {
		return nil, fmt.Errorf("htmldom: observe: %w: %v", dom.ErrObserverSetup, err)
	}

	d.omu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = &observation{root: n, opts: opts, fn: fn}
	d.omu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.omu.Lock()
			delete(d.observers, id)
			d.omu.Unlock()
		})
	}, nil
}

// ObserverCount returns the number of connected mutation observers.
func (d *Document) ObserverCount() int {
	d.omu.Lock()
	defer d.omu.Unlock()
	return len(d.observers)
}

// Document node handle methods.

func (d *Document) NodeName() string            { return "#document" }
func (d *Document) ParentNode() dom.Node        { return nil }
func (d *Document) NextSibling() dom.Node       { return nil }
func (d *Document) OwnerDocument() dom.Document { return d }

// QuerySelector returns the first element matching selector.
func (d *Document) QuerySelector(selector string) (dom.Element, error) {
	return d.query(d.root, selector)
}

// QuerySelectorAll returns every element matching selector.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	return d.queryAll(d.root, selector)
}

// DocumentElement returns the <html> element, or nil while loading.
func (d *Document) DocumentElement() *Element {
	return d.firstElement("html")
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *Element {
	return d.firstElement("head")
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *Element {
	return d.firstElement("body")
}

func (d *Document) firstElement(selector string) *Element {
	el, err := d.QuerySelector(selector)
	if err != nil || el == nil {
		return nil
	}
	return el.(*Element)
}

// CreateElement returns a detached element owned by d.
func (d *Document) CreateElement(tag string) *Element {
	n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
	n.DataAtom = atomOf(n.Data)
	return d.wrap(n).(*Element)
}

// CreateTextNode returns a detached text node owned by d.
func (d *Document) CreateTextNode(text string) *Node {
	return d.wrap(&html.Node{Type: html.TextNode, Data: text}).(*Node)
}

// wrap returns the handle for n: the same one for as long as a caller
// holds it.
func (d *Document) wrap(n *html.Node) dom.Node {
	if n == nil {
		return nil
	}
	if n == d.root {
		return d
	}
	return d.handles.get(d, n)
}

func (d *Document) unwrap(n dom.Node) (*html.Node, error) {
	switch v := n.(type) {
	case *Document:
		if v != d {
			return nil, ErrForeignNode
		}
		return d.root, nil
	case *Element:
		if v.doc != d {
			return nil, ErrForeignNode
		}
		return v.n, nil
	case *Node:
		if v.doc != d {
			return nil, ErrForeignNode
		}
		return v.n, nil
	case nil:
		return nil, dom.ErrInvalidTarget
	}
	return nil, ErrForeignNode
}

func (d *Document) query(scope *html.Node, selector string) (dom.Element, error) {
	sg, err := d.selectors.compile(selector)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	found := cascadia.Query(scope, sg)
	d.mu.RUnlock()

	if found == nil {
		return nil, nil
	}
	return d.wrap(found).(*Element), nil
}

func (d *Document) queryAll(scope *html.Node, selector string) ([]dom.Element, error) {
	sg, err := d.selectors.compile(selector)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	nodes := cascadia.QueryAll(scope, sg)
	d.mu.RUnlock()

	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n).(*Element))
	}
	return out, nil
}

// deliver hands a batch to every observer whose root covers the affected
// node. It must be called with d.mu held so ancestry is stable; the returned
// func runs the callbacks and must be called after unlocking.
func (d *Document) deliver(batch []change) func() {
	if len(batch) == 0 {
		return func() {}
	}

	d.omu.Lock()
	obs := make([]*observation, 0, len(d.observers))
	for _, o := range d.observers {
		obs = append(obs, o)
	}
	d.omu.Unlock()

	type delivery struct {
		fn      func([]dom.Mutation)
		records []dom.Mutation
	}
	var out []delivery
	for _, o := range obs {
		var recs []dom.Mutation
		for _, c := range batch {
			if c.rec.Type == dom.MutationChildList && !o.opts.ChildList {
				continue
			}
			if c.rec.Type == dom.MutationAttributes && !o.opts.Attributes {
				continue
			}
			if c.target != o.root && !(o.opts.Subtree && isAncestor(o.root, c.target)) {
				continue
			}
			recs = append(recs, c.rec)
		}
		if len(recs) > 0 {
			out = append(out, delivery{fn: o.fn, records: recs})
		}
	}

	return func() {
		for _, dl := range out {
			dl.fn(dl.records)
		}
	}
}

// change is a mutation record plus the raw node it targets.
type change struct {
	target *html.Node
	rec    dom.Mutation
}

func isAncestor(anc, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == anc {
			return true
		}
	}
	return false
}
