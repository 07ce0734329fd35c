package domready

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/domready/dom"
)

// Pending is the single-settlement result of a Ready call. It settles
// exactly once, with the matched element or with none.
type Pending struct {
	id        string
	fp        Fingerprint
	createdAt time.Time

	done  chan struct{}
	once  sync.Once
	el    dom.Element
	found bool

	// release evicts the entry from its registry; it runs before done closes.
	release func(*Pending)
	// cancel stops the goroutine watching on behalf of this result.
	cancel context.CancelFunc
}

func newPending(id string, fp Fingerprint) *Pending {
	return &Pending{
		id:        id,
		fp:        fp,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID identifies the watch in logs.
func (p *Pending) ID() string { return p.id }

// Fingerprint returns the identity the result is cached under.
func (p *Pending) Fingerprint() Fingerprint { return p.fp }

// Done is closed once the result is settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Settled reports whether the result is final.
func (p *Pending) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the settled element. ok is false while pending and when
// the watch settled without one.
func (p *Pending) Result() (el dom.Element, ok bool) {
	select {
	case <-p.done:
		return p.el, p.found
	default:
		return nil, false
	}
}

// Wait blocks until the result settles or ctx ends. ctx bounds this wait
// only; it does not stop the watch.
func (p *Pending) Wait(ctx context.Context) (dom.Element, bool) {
	select {
	case <-p.done:
		return p.el, p.found
	case <-ctx.Done():
		return nil, false
	}
}

// Stop settles the result with no element, immediately, and ends the watch.
// Stopping a settled result does nothing. Every caller sharing the result
// observes the stop.
func (p *Pending) Stop() {
	p.settle(nil)
	if p.cancel != nil {
		p.cancel()
	}
}

// settle records the outcome once and reports whether this call won.
func (p *Pending) settle(el dom.Element) bool {
	won := false
	p.once.Do(func() {
		p.el = el
		p.found = el != nil
		if p.release != nil {
			p.release(p)
		}
		close(p.done)
		won = true
	})
	return won
}

func (p *Pending) elapsed() time.Duration { return time.Since(p.createdAt) }
