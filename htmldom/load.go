package htmldom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domready/dom"
)

// Load parses r and attaches the result to d one node at a time, in the
// order a streaming parser would: a node, then its children, then its later
// siblings. pace > 0 sleeps between nodes. readyState is loading while
// nodes arrive and moves to interactive, then complete, at the end.
//
// d must be empty (see NewLoading). On cancellation the partially built tree
// stays in place and readyState stays loading.
func (d *Document) Load(ctx context.Context, r io.Reader, pace time.Duration) error {
	src, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("htmldom: load: %w", err)
	}

	d.mu.RLock()
	empty := d.root.FirstChild == nil
	d.mu.RUnlock()
	if !empty {
		return errors.New("htmldom: load: document is not empty")
	}

	d.SetReadyState(dom.StateLoading)

	var timer *time.Timer
	if pace > 0 {
		timer = time.NewTimer(pace)
		defer timer.Stop()
	}

	var walk func(from, into *html.Node) error
	walk = func(from, into *html.Node) error {
		for c := from.FirstChild; c != nil; c = c.NextSibling {
			if err := ctx.Err(); err != nil {
				return err
			}

			clone := shallowClone(c)
			d.attach(into, clone)

			if timer != nil {
				timer.Reset(pace)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			}

			if err := walk(c, clone); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(src, d.root); err != nil {
		return fmt.Errorf("htmldom: load: %w", err)
	}

	d.SetReadyState(dom.StateInteractive)
	d.SetReadyState(dom.StateComplete)
	return nil
}

// attach appends a fresh node and notifies observers.
func (d *Document) attach(parent, n *html.Node) {
	d.mu.Lock()
	parent.AppendChild(n)
	run := d.deliver([]change{{
		target: parent,
		rec: dom.Mutation{
			Type:       dom.MutationChildList,
			Target:     d.wrap(parent),
			AddedNodes: []dom.Node{d.wrap(n)},
		},
	}})
	d.mu.Unlock()
	run()
}

func shallowClone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	return c
}
