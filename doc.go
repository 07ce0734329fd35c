// Package domready waits for elements to be ready in a live, mutating DOM.
//
// A Watcher answers two questions about a host document (see package dom):
//
//   - Ready: settle a single cancellable future once the selectors match an
//     element that is fully parsed, or once the document finished parsing
//     without one. Identical in-flight requests share one future.
//   - Observe: stream every element that is added (or changes into a match)
//     and becomes ready, until the document is ready, the context ends or the
//     consumer stops ranging.
//
// Absence is never an error. Timeouts, cancellation and "the document
// finished without a match" all settle with no element.
//
//	w := domready.New(domready.Config{Document: doc})
//	p, err := w.Ready(ctx, []string{"nav"}, domready.WithTimeout(5*time.Second))
//	if err != nil {
//		return err
//	}
//	if nav, ok := p.Wait(ctx); ok {
//		...
//	}
package domready
