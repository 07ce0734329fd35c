package htmldom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domready/dom"
)

// Node is the handle for a non-element node (text, comment, doctype).
type Node struct {
	doc *Document
	n   *html.Node
}

// Element is the handle for an element node.
type Element struct {
	Node
}

func (n *Node) NodeName() string {
	switch n.n.Type {
	case html.ElementNode:
		return strings.ToUpper(n.n.Data)
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	}
	return n.n.Data
}

func (n *Node) ParentNode() dom.Node {
	n.doc.mu.RLock()
	p := n.n.Parent
	n.doc.mu.RUnlock()
	return n.doc.wrap(p)
}

func (n *Node) NextSibling() dom.Node {
	n.doc.mu.RLock()
	s := n.n.NextSibling
	n.doc.mu.RUnlock()
	return n.doc.wrap(s)
}

// OwnerDocument returns the document that created the node.
func (n *Node) OwnerDocument() dom.Document { return n.doc }

// TextContent returns the concatenated text of the node and its descendants.
func (n *Node) TextContent() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n.n)
	return b.String()
}

func (e *Element) TagName() string { return strings.ToUpper(e.n.Data) }

func (e *Element) GetAttribute(name string) (string, bool) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	for _, a := range e.n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// ID returns the id attribute, or "".
func (e *Element) ID() string {
	id, _ := e.GetAttribute("id")
	return id
}

func (e *Element) OuterHTML() (string, error) {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()

	var b strings.Builder
	if err := html.Render(&b, e.n); err != nil {
		return "", fmt.Errorf("htmldom: render: %w", err)
	}
	return b.String(), nil
}

func (e *Element) Matches(selector string) (bool, error) {
	sg, err := e.doc.selectors.compile(selector)
	if err != nil {
		return false, err
	}
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return sg.Match(e.n), nil
}

func (e *Element) QuerySelector(selector string) (dom.Element, error) {
	return e.doc.query(e.n, selector)
}

func (e *Element) QuerySelectorAll(selector string) ([]dom.Element, error) {
	return e.doc.queryAll(e.n, selector)
}

func atomOf(tag string) atom.Atom {
	return atom.Lookup([]byte(tag))
}
