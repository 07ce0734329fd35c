// Package readiness decides, for one observation of the tree, whether a
// candidate element is ready to be handed to the caller.
//
// The same decision serves both the one-shot watcher and the streaming
// observer. It never touches the tree except to walk from the candidate up
// towards the observation root looking for later siblings.
package readiness

import (
	"strings"

	"github.com/hazyhaar/domready/dom"
)

// Outcome is the result of one check.
type Outcome int

const (
	// NotYet means check again later.
	NotYet Outcome = iota
	// Found means the element is ready.
	Found
	// GiveUp means the document finished parsing without a match and the
	// caller asked to stop there.
	GiveUp
)

func (o Outcome) String() string {
	switch o {
	case NotYet:
		return "not_yet"
	case Found:
		return "found"
	case GiveUp:
		return "give_up"
	}
	return "unknown"
}

// Input is everything one check needs.
type Input struct {
	// Element is the current candidate, nil when nothing matches.
	Element dom.Element
	// Root is the observation root. The sibling walk stops before it.
	Root            dom.Node
	DOMReady        bool
	StopOnDOMReady  bool
	WaitForChildren bool
}

// Decision is the outcome of a check and the element it yields.
type Decision struct {
	Outcome Outcome
	Element dom.Element
}

// Final reports whether watching should stop.
func (d Decision) Final() bool { return d.Outcome != NotYet }

// Decide applies the readiness table. First match wins:
//
//  1. document ready and (stop requested or element present): stop
//  2. no element: not yet
//  3. children not awaited: found
//  4. element or an ancestor has a later sibling: found, else not yet
func Decide(in Input) Decision {
	if in.DOMReady && (in.StopOnDOMReady || in.Element != nil) {
		if in.Element == nil {
			return Decision{Outcome: GiveUp}
		}
		return Decision{Outcome: Found, Element: in.Element}
	}
	if in.Element == nil {
		return Decision{Outcome: NotYet}
	}
	if !in.WaitForChildren || FullyParsed(in.Element, in.Root) {
		return Decision{Outcome: Found, Element: in.Element}
	}
	return Decision{Outcome: NotYet}
}

// FullyParsed reports whether the parser has moved past el. HTML is parsed
// in order, so a later sibling of el or of any of its ancestors means el's
// subtree is complete. The walk excludes root and the document head.
//
// This is a heuristic: detached fragments never receive a later sibling, so
// it can stay false forever for them.
func FullyParsed(el dom.Element, root dom.Node) bool {
	if el == nil {
		return false
	}
	if pc, ok := el.(dom.ParseChecker); ok {
		return pc.FullyParsed(root)
	}
	for cur := dom.Node(el); cur != nil && cur != root; cur = cur.ParentNode() {
		if IsHead(cur) {
			continue
		}
		if cur.NextSibling() != nil {
			return true
		}
	}
	return false
}

// IsHead reports whether n is the document <head>.
func IsHead(n dom.Node) bool {
	return strings.EqualFold(n.NodeName(), "head")
}
