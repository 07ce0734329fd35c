package dom

import "errors"

var (
	// ErrInvalidTarget is returned when a search target is missing or is
	// neither a document nor an element.
	ErrInvalidTarget = errors.New("dom: invalid target")

	// ErrObserverSetup is returned when the host refuses to observe a root.
	ErrObserverSetup = errors.New("dom: observer setup failed")

	// ErrInvalidSelector is returned by hosts for selector syntax errors.
	ErrInvalidSelector = errors.New("dom: invalid selector")
)
