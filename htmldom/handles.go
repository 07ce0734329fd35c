package htmldom

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domready/dom"
)

// handleTable maps tree nodes to their handles without keeping either
// alive. A handle is identical for as long as anyone holds it; once it is
// unreachable its entry is removed, and a later lookup of the same node
// (still in the tree, say) builds a fresh one.
type handleTable struct {
	mu   sync.Mutex
	refs map[weak.Pointer[html.Node]]handleRef
}

// handleRef holds exactly one of el and node.
type handleRef struct {
	el   weak.Pointer[Element]
	node weak.Pointer[Node]
}

func (r handleRef) value() dom.Node {
	if e := r.el.Value(); e != nil {
		return e
	}
	if n := r.node.Value(); n != nil {
		return n
	}
	return nil
}

func newHandleTable() *handleTable {
	return &handleTable{refs: make(map[weak.Pointer[html.Node]]handleRef)}
}

// get returns the live handle for n, creating it with d as owner.
func (t *handleTable) get(d *Document, n *html.Node) dom.Node {
	key := weak.Make(n)

	t.mu.Lock()
	defer t.mu.Unlock()

	if h := t.refs[key].value(); h != nil {
		return h
	}
	if n.Type == html.ElementNode {
		e := &Element{Node{doc: d, n: n}}
		t.refs[key] = handleRef{el: weak.Make(e)}
		runtime.AddCleanup(e, t.release, key)
		return e
	}
	h := &Node{doc: d, n: n}
	t.refs[key] = handleRef{node: weak.Make(h)}
	runtime.AddCleanup(h, t.release, key)
	return h
}

// release drops key unless a newer handle already replaced the dead one.
func (t *handleTable) release(key weak.Pointer[html.Node]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refs[key].value() == nil {
		delete(t.refs, key)
	}
}

func (t *handleTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.refs)
}
