package htmldom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domready/dom"
)

// Append inserts nodes at the end of e's children, moving them if they are
// already attached.
func (e *Element) Append(nodes ...dom.Node) error {
	return e.doc.insert(nodes, func() (*html.Node, *html.Node, error) {
		return e.n, nil, nil
	})
}

// Prepend inserts nodes before e's first child.
func (e *Element) Prepend(nodes ...dom.Node) error {
	return e.doc.insert(nodes, func() (*html.Node, *html.Node, error) {
		return e.n, e.n.FirstChild, nil
	})
}

// Before inserts nodes right before n. n must have a parent.
func (n *Node) Before(nodes ...dom.Node) error {
	return n.doc.insert(nodes, func() (*html.Node, *html.Node, error) {
		if n.n.Parent == nil {
			return nil, nil, fmt.Errorf("%w: before: node is detached", ErrHierarchy)
		}
		return n.n.Parent, n.n, nil
	})
}

// After inserts nodes right after n. n must have a parent.
func (n *Node) After(nodes ...dom.Node) error {
	return n.doc.insert(nodes, func() (*html.Node, *html.Node, error) {
		if n.n.Parent == nil {
			return nil, nil, fmt.Errorf("%w: after: node is detached", ErrHierarchy)
		}
		return n.n.Parent, n.n.NextSibling, nil
	})
}

// Remove detaches n from its parent. Removing a detached node is a no-op.
func (n *Node) Remove() {
	d := n.doc
	d.mu.Lock()
	parent := n.n.Parent
	if parent == nil {
		d.mu.Unlock()
		return
	}
	parent.RemoveChild(n.n)
	run := d.deliver([]change{{
		target: parent,
		rec: dom.Mutation{
			Type:         dom.MutationChildList,
			Target:       d.wrap(parent),
			RemovedNodes: []dom.Node{d.wrap(n.n)},
		},
	}})
	d.mu.Unlock()
	run()
}

// SetAttribute sets or replaces an attribute.
func (e *Element) SetAttribute(name, value string) {
	d := e.doc
	name = strings.ToLower(name)

	d.mu.Lock()
	set := false
	for i := range e.n.Attr {
		if e.n.Attr[i].Namespace == "" && e.n.Attr[i].Key == name {
			e.n.Attr[i].Val = value
			set = true
			break
		}
	}
	if !set {
		e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
	}
	run := d.deliver([]change{attrChange(d, e, name)})
	d.mu.Unlock()
	run()
}

// RemoveAttribute deletes an attribute if present.
func (e *Element) RemoveAttribute(name string) {
	d := e.doc
	name = strings.ToLower(name)

	d.mu.Lock()
	kept := e.n.Attr[:0]
	removed := false
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == name {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	e.n.Attr = kept
	run := func() {}
	if removed {
		run = d.deliver([]change{attrChange(d, e, name)})
	}
	d.mu.Unlock()
	run()
}

func attrChange(d *Document, e *Element, name string) change {
	return change{
		target: e.n,
		rec: dom.Mutation{
			Type:          dom.MutationAttributes,
			Target:        e,
			AttributeName: name,
		},
	}
}

// SetInnerHTML replaces e's children with the parsed markup.
func (e *Element) SetInnerHTML(markup string) error {
	d := e.doc
	frag, err := html.ParseFragment(strings.NewReader(markup), contextNode(e.n))
	if err != nil {
		return fmt.Errorf("htmldom: inner html: %w", err)
	}

	d.mu.Lock()
	var batch []change
	var removed []dom.Node
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		removed = append(removed, d.wrap(c))
		c = next
	}
	if len(removed) > 0 {
		batch = append(batch, change{target: e.n, rec: dom.Mutation{
			Type: dom.MutationChildList, Target: e, RemovedNodes: removed,
		}})
	}
	var added []dom.Node
	for _, c := range frag {
		e.n.AppendChild(c)
		added = append(added, d.wrap(c))
	}
	if len(added) > 0 {
		batch = append(batch, change{target: e.n, rec: dom.Mutation{
			Type: dom.MutationChildList, Target: e, AddedNodes: added,
		}})
	}
	run := d.deliver(batch)
	d.mu.Unlock()
	run()
	return nil
}

// InsertAdjacentHTML parses markup and inserts it at position, one of
// beforebegin, afterbegin, beforeend, afterend.
func (e *Element) InsertAdjacentHTML(position, markup string) error {
	var ctxNode *html.Node
	var locate func() (*html.Node, *html.Node, error)

	switch strings.ToLower(position) {
	case "beforebegin", "afterend":
		e.doc.mu.RLock()
		parent := e.n.Parent
		e.doc.mu.RUnlock()
		if parent == nil || parent.Type == html.DocumentNode {
			return fmt.Errorf("%w: %s: no parent element", ErrHierarchy, position)
		}
		ctxNode = contextNode(parent)
		if strings.EqualFold(position, "beforebegin") {
			locate = func() (*html.Node, *html.Node, error) { return e.n.Parent, e.n, nil }
		} else {
			locate = func() (*html.Node, *html.Node, error) { return e.n.Parent, e.n.NextSibling, nil }
		}
	case "afterbegin":
		ctxNode = contextNode(e.n)
		locate = func() (*html.Node, *html.Node, error) { return e.n, e.n.FirstChild, nil }
	case "beforeend":
		ctxNode = contextNode(e.n)
		locate = func() (*html.Node, *html.Node, error) { return e.n, nil, nil }
	default:
		return fmt.Errorf("htmldom: insert adjacent html: unknown position %q", position)
	}

	frag, err := html.ParseFragment(strings.NewReader(markup), ctxNode)
	if err != nil {
		return fmt.Errorf("htmldom: insert adjacent html: %w", err)
	}
	nodes := make([]dom.Node, 0, len(frag))
	for _, n := range frag {
		nodes = append(nodes, e.doc.wrap(n))
	}
	return e.doc.insert(nodes, locate)
}

// contextNode returns a detached copy of n usable as a ParseFragment
// context, so parsing never touches the live tree.
func contextNode(n *html.Node) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
}

// insert moves nodes under the parent returned by locate, before ref (nil
// means append). locate runs under the document lock.
func (d *Document) insert(nodes []dom.Node, locate func() (parent, ref *html.Node, err error)) error {
	raw := make([]*html.Node, 0, len(nodes))
	for _, c := range nodes {
		n, err := d.unwrap(c)
		if err != nil {
			return err
		}
		if n == d.root {
			return fmt.Errorf("%w: cannot insert the document", ErrHierarchy)
		}
		raw = append(raw, n)
	}

	d.mu.Lock()
	parent, ref, err := locate()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	for _, n := range raw {
		if n == parent || isAncestor(n, parent) || n == ref {
			d.mu.Unlock()
			return fmt.Errorf("%w: node would contain itself", ErrHierarchy)
		}
	}

	var batch []change
	added := make([]dom.Node, 0, len(raw))
	for _, n := range raw {
		if old := n.Parent; old != nil {
			old.RemoveChild(n)
			batch = append(batch, change{target: old, rec: dom.Mutation{
				Type:         dom.MutationChildList,
				Target:       d.wrap(old),
				RemovedNodes: []dom.Node{d.wrap(n)},
			}})
		}
		parent.InsertBefore(n, ref)
		added = append(added, d.wrap(n))
	}
	batch = append(batch, change{target: parent, rec: dom.Mutation{
		Type:       dom.MutationChildList,
		Target:     d.wrap(parent),
		AddedNodes: added,
	}})
	run := d.deliver(batch)
	d.mu.Unlock()
	run()
	return nil
}
