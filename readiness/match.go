package readiness

import (
	"strings"

	"github.com/hazyhaar/domready/dom"
)

// Predicate filters matched elements.
type Predicate func(dom.Element) bool

// SelectorList joins selectors into one selector list, so several selectors
// race in a single query.
func SelectorList(selectors []string) string {
	return strings.Join(selectors, ", ")
}

// Match returns the current candidate under target. Without a predicate it
// is the first match in document order; with one, the first match the
// predicate accepts. A nil element with a nil error means nothing matches.
func Match(target dom.Target, selector string, pred Predicate) (dom.Element, error) {
	if pred == nil {
		el, err := target.QuerySelector(selector)
		if err != nil || el == nil {
			return nil, err
		}
		return el, nil
	}

	all, err := target.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	for _, el := range all {
		if pred(el) {
			return el, nil
		}
	}
	return nil, nil
}

// Accept reports whether el itself is a candidate: it matches selector and
// passes pred.
func Accept(el dom.Element, selector string, pred Predicate) (bool, error) {
	ok, err := el.Matches(selector)
	if err != nil || !ok {
		return false, err
	}
	return pred == nil || pred(el), nil
}
