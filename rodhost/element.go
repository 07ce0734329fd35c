package rodhost

import (
	"github.com/go-rod/rod"

	"github.com/hazyhaar/domready/dom"
)

// Element is a handle on a page element.
type Element struct {
	doc *Document
	el  *rod.Element
	tag string
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element { return e.el }

func (e *Element) NodeName() string            { return e.tag }
func (e *Element) TagName() string             { return e.tag }
func (e *Element) OwnerDocument() dom.Document { return e.doc }

func (e *Element) ParentNode() dom.Node {
	kind, err := e.nodeType(`function() { return this.parentNode ? this.parentNode.nodeType : 0 }`)
	if err != nil {
		return nil
	}
	switch kind {
	case nodeDocument:
		return e.doc
	case nodeElement:
		p, err := e.el.Parent()
		if err != nil {
			return nil
		}
		h, err := e.doc.wrap(p)
		if err != nil {
			return nil
		}
		return h
	}
	return nil
}

func (e *Element) NextSibling() dom.Node {
	kind, err := e.nodeType(`function() { return this.nextSibling ? this.nextSibling.nodeType : 0 }`)
	if err != nil || kind == 0 {
		return nil
	}
	if kind != nodeElement {
		return &leaf{name: "#text", parent: e.ParentNode()}
	}
	next, err := e.el.Next()
	if err != nil {
		return nil
	}
	h, err := e.doc.wrap(next)
	if err != nil {
		return nil
	}
	return h
}

func (e *Element) nodeType(js string) (int, error) {
	res, err := e.el.Eval(js)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (e *Element) GetAttribute(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *Element) OuterHTML() (string, error) { return e.el.HTML() }

func (e *Element) Matches(selector string) (bool, error) {
	ok, err := e.el.Matches(selector)
	if err != nil {
		return false, selectorError(selector, err)
	}
	return ok, nil
}

func (e *Element) QuerySelector(selector string) (dom.Element, error) {
	ok, el, err := e.el.Has(selector)
	if err != nil {
		return nil, selectorError(selector, err)
	}
	if !ok {
		return nil, nil
	}
	return e.doc.wrap(el)
}

func (e *Element) QuerySelectorAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, selectorError(selector, err)
	}
	return e.doc.wrapAll(els)
}

// FullyParsed answers the later-sibling test inside the page in one round
// trip instead of walking ancestors over CDP.
func (e *Element) FullyParsed(root dom.Node) bool {
	var arg any
	if r, ok := root.(*Element); ok && r.doc == e.doc {
		arg = r.el.Object
	}
	res, err := e.el.Eval(`function(root) {
		for (let n = this; n && n !== root; n = n.parentNode) {
			if (n.nodeName === 'HEAD') continue;
			if (n.nextSibling) return true;
		}
		return false;
	}`, arg)
	if err != nil {
		e.doc.logger.Debug("rodhost: fully parsed check", "error", err)
		return false
	}
	return res.Value.Bool()
}

// leaf is a non-element node reported by the page: text, comment.
type leaf struct {
	name   string
	parent dom.Node
}

func (l *leaf) NodeName() string      { return l.name }
func (l *leaf) ParentNode() dom.Node  { return l.parent }
func (l *leaf) NextSibling() dom.Node { return nil }

var (
	_ dom.Document     = (*Document)(nil)
	_ dom.Observer     = (*Document)(nil)
	_ dom.Element      = (*Element)(nil)
	_ dom.ParseChecker = (*Element)(nil)
)
