package domready

import (
	"context"
	"strings"
	"time"

	"github.com/hazyhaar/domready/dom"
)

// Fingerprint identifies a request for caching. Two calls with equal
// fingerprints share one Pending while it is unsettled.
//
// Target and Signal compare by identity: the same target handle and the
// same cancellation channel.
type Fingerprint struct {
	Target          dom.Target
	Selectors       string
	StopOnDOMReady  bool
	WaitForChildren bool
	Timeout         time.Duration
	Signal          <-chan struct{}
}

func (r *request) fingerprint(ctx context.Context) Fingerprint {
	return Fingerprint{
		Target:          r.target,
		Selectors:       strings.Join(r.selectors, "\x00"),
		StopOnDOMReady:  r.stopOnDOMReady,
		WaitForChildren: r.waitForChildren,
		Timeout:         r.timeout,
		Signal:          ctx.Done(),
	}
}
