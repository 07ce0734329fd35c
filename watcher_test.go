package domready

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/domready/dom"
	"github.com/hazyhaar/domready/htmldom"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadingDoc parses markup and rewinds readyState to loading, as if the
// parser had just produced this much of the page.
func loadingDoc(t *testing.T, markup string) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	doc.SetReadyState(dom.StateLoading)
	return doc
}

func newWatcher(doc dom.Document) *Watcher {
	return New(Config{Document: doc, Logger: quietLogger(), FrameInterval: time.Millisecond})
}

func waitSettled(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("result did not settle")
	}
}

func staysPending(t *testing.T, p *Pending) {
	t.Helper()
	select {
	case <-p.Done():
		t.Fatal("result settled early")
	case <-time.After(50 * time.Millisecond):
	}
}

func mustQuery(t *testing.T, target dom.Target, sel string) *htmldom.Element {
	t.Helper()
	el, err := target.QuerySelector(sel)
	if err != nil || el == nil {
		t.Fatalf("query %q: (%v, %v)", sel, el, err)
	}
	return el.(*htmldom.Element)
}

func TestReady_AlreadyPresent(t *testing.T) {
	doc, _ := htmldom.Parse(strings.NewReader(`<html><body><nav></nav><main></main></body></html>`))
	w := newWatcher(doc)

	p, err := w.Ready(context.Background(), []string{"nav"})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Settled() {
		t.Fatal("answer is known immediately")
	}
	el, ok := p.Result()
	if !ok || el.TagName() != "NAV" {
		t.Errorf("Result: got (%v, %v), want nav", el, ok)
	}
	if w.Registry().Len() != 0 {
		t.Errorf("settled results must not be cached: %d entries", w.Registry().Len())
	}
}

func TestReady_AbsentOnReadyDocument(t *testing.T) {
	w := newWatcher(htmldom.New())

	p, err := w.Ready(context.Background(), []string{"nav"})
	if err != nil {
		t.Fatal(err)
	}
	if el, ok := p.Result(); ok || el != nil || !p.Settled() {
		t.Errorf("Result: got (%v, %v), want settled absent", el, ok)
	}
}

func TestReady_SharesInFlight(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)
	ctx := context.Background()

	p1, _ := w.Ready(ctx, []string{"nav"})
	p2, _ := w.Ready(ctx, []string{" nav "})
	if p1 != p2 {
		t.Error("identical requests must share one result")
	}
	p3, _ := w.Ready(ctx, []string{"nav"}, WaitForChildren(false))
	if p3 == p1 {
		t.Error("different options must not share a result")
	}
	p4, _ := w.Ready(ctx, []string{"nav"}, WithTimeout(time.Minute))
	if p4 == p1 {
		t.Error("different timeouts must not share a result")
	}
	if w.Registry().Len() != 3 {
		t.Errorf("registry: got %d entries, want 3", w.Registry().Len())
	}

	for _, p := range []*Pending{p1, p3, p4} {
		p.Stop()
	}
	if w.Registry().Len() != 0 {
		t.Errorf("registry after stop: got %d entries, want 0", w.Registry().Len())
	}
}

func TestReady_SignalIsPartOfIdentity(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	pa, _ := w.Ready(ctxA, []string{"nav"})
	pb, _ := w.Ready(ctxB, []string{"nav"})
	if pa == pb {
		t.Fatal("different signals must not share a result")
	}

	cancelA()
	waitSettled(t, pa)
	if pb.Settled() {
		t.Error("cancelling one signal settled the other request")
	}
	pb.Stop()
}

func TestReady_FreshAfterSettle(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)
	ctx := context.Background()

	p1, _ := w.Ready(ctx, []string{"nav"})
	body := doc.Body()
	body.Append(doc.CreateElement("nav"), doc.CreateElement("footer"))
	waitSettled(t, p1)

	if w.Registry().Len() != 0 {
		t.Fatalf("registry: got %d entries after settle, want 0", w.Registry().Len())
	}
	p2, _ := w.Ready(ctx, []string{"nav"})
	if p2 == p1 {
		t.Error("a settled result must not be handed out again")
	}
	el1, _ := p1.Result()
	el2, _ := p2.Result()
	if el1 == nil || el1 != el2 {
		t.Errorf("both results should hold the same nav: %v, %v", el1, el2)
	}
}

func TestReady_WaitForChildren(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body><nav></nav></body></html>`)
	w := newWatcher(doc)
	ctx := context.Background()
	nav := mustQuery(t, doc, "nav")

	eager, _ := w.Ready(ctx, []string{"nav"}, WaitForChildren(false))
	if el, ok := eager.Result(); !ok || el != dom.Element(nav) {
		t.Fatalf("waitForChildren=false: got (%v, %v), want nav immediately", el, ok)
	}

	p, _ := w.Ready(ctx, []string{"nav"})
	staysPending(t, p)

	nav.SetInnerHTML("<ul><li>Home</li></ul>")
	staysPending(t, p)

	nav.After(doc.CreateTextNode("text"))
	waitSettled(t, p)
	if el, ok := p.Result(); !ok || el != dom.Element(nav) {
		t.Errorf("got (%v, %v), want nav", el, ok)
	}
}

func TestReady_GivesUpWhenDocumentReady(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	p, _ := w.Ready(context.Background(), []string{"nav"})
	staysPending(t, p)

	doc.SetReadyState(dom.StateInteractive)
	waitSettled(t, p)
	if _, ok := p.Result(); ok {
		t.Error("expected no element once the document is ready")
	}
}

func TestReady_ReadyWithLastElement(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body><nav></nav></body></html>`)
	w := newWatcher(doc)

	p, _ := w.Ready(context.Background(), []string{"nav"})
	staysPending(t, p)

	doc.SetReadyState(dom.StateComplete)
	waitSettled(t, p)
	if el, ok := p.Result(); !ok || el.TagName() != "NAV" {
		t.Errorf("a ready document has no unparsed children: got (%v, %v)", el, ok)
	}
}

func TestReady_KeepsWatchingPastReady(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	p, _ := w.Ready(context.Background(), []string{"section", "aside"},
		StopOnDOMReady(false), WaitForChildren(false))
	doc.SetReadyState(dom.StateComplete)
	staysPending(t, p)

	aside := doc.CreateElement("aside")
	doc.Body().Append(aside)
	waitSettled(t, p)
	if el, _ := p.Result(); el != dom.Element(aside) {
		t.Errorf("got %v, want the aside", el)
	}
}

func TestReady_Timeout(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	p, err := w.Ready(context.Background(), []string{"nav"}, WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	waitSettled(t, p)
	if el, ok := p.Result(); ok || el != nil {
		t.Errorf("timeout: got (%v, %v), want absent", el, ok)
	}
	if w.Registry().Len() != 0 {
		t.Errorf("registry: got %d entries, want 0", w.Registry().Len())
	}
}

func TestReady_Cancellation(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	done, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := w.Ready(done, []string{"nav"})
	if err != nil {
		t.Fatal(err)
	}
	if !p.Settled() {
		t.Error("an already cancelled request settles at once")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p, _ = w.Ready(ctx, []string{"nav"})
	staysPending(t, p)
	cancel()
	waitSettled(t, p)
	if _, ok := p.Result(); ok {
		t.Error("cancellation must settle with no element")
	}
}

func TestReady_StopReachesEveryCaller(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)
	ctx := context.Background()

	p1, _ := w.Ready(ctx, []string{"nav"})
	p2, _ := w.Ready(ctx, []string{"nav"})

	p1.Stop()
	if !p2.Settled() {
		t.Fatal("Stop must settle synchronously for every holder")
	}
	if w.Registry().Len() != 0 {
		t.Errorf("registry: got %d entries, want 0", w.Registry().Len())
	}
	p2.Stop()

	doc.Body().Append(doc.CreateElement("nav"), doc.CreateElement("footer"))
	if el, ok := p1.Result(); ok || el != nil {
		t.Errorf("a stopped result never changes: got (%v, %v)", el, ok)
	}
}

func TestReady_SettlesOnce(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	p, _ := w.Ready(context.Background(), []string{"p"}, WaitForChildren(false))
	first := doc.CreateElement("p")
	doc.Body().Append(first)
	waitSettled(t, p)

	doc.Body().Prepend(doc.CreateElement("p"))
	p.Stop()
	if el, _ := p.Result(); el != dom.Element(first) {
		t.Errorf("result changed after settling: got %v", el)
	}
}

func TestReady_IndependentTargets(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)
	ctx := context.Background()

	a := doc.CreateElement("div")
	b := doc.CreateElement("div")
	pa, _ := w.Ready(ctx, []string{"p"}, WithTarget(a), WaitForChildren(false))
	pb, _ := w.Ready(ctx, []string{"p"}, WithTarget(b), WaitForChildren(false))
	if pa == pb {
		t.Fatal("different targets must not share a result")
	}

	inA := doc.CreateElement("p")
	a.Append(inA)
	waitSettled(t, pa)
	if el, _ := pa.Result(); el != dom.Element(inA) {
		t.Errorf("target a: got %v", el)
	}
	staysPending(t, pb)
	pb.Stop()
}

func TestReady_Predicate(t *testing.T) {
	doc, _ := htmldom.Parse(strings.NewReader(`<html><body><p id="a"></p><p id="b"></p></body></html>`))
	w := newWatcher(doc)

	onlyB := WithPredicate(func(el dom.Element) bool {
		id, _ := el.GetAttribute("id")
		return id == "b"
	})
	p, err := w.Ready(context.Background(), []string{"p"}, onlyB)
	if err != nil {
		t.Fatal(err)
	}
	el, ok := p.Result()
	if !ok {
		t.Fatal("expected a match")
	}
	if id, _ := el.GetAttribute("id"); id != "b" {
		t.Errorf("predicate: got %q, want b", id)
	}
}

func TestReady_PredicateNotShared(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)
	all := WithPredicate(func(dom.Element) bool { return true })

	p1, _ := w.Ready(context.Background(), []string{"p"}, all)
	p2, _ := w.Ready(context.Background(), []string{"p"}, all)
	if p1 == p2 {
		t.Error("requests with a predicate must not be shared")
	}
	if w.Registry().Len() != 0 {
		t.Errorf("registry: got %d entries, want 0", w.Registry().Len())
	}
	p1.Stop()
	p2.Stop()
}

func TestReady_InvalidInput(t *testing.T) {
	ctx := context.Background()

	if _, err := newWatcher(htmldom.New()).Ready(ctx, []string{" ", ""}); !errors.Is(err, ErrNoSelector) {
		t.Errorf("blank selectors: got %v, want ErrNoSelector", err)
	}
	if _, err := New(Config{Logger: quietLogger()}).Ready(ctx, []string{"p"}); !errors.Is(err, dom.ErrInvalidTarget) {
		t.Errorf("no target: got %v, want ErrInvalidTarget", err)
	}
	if _, err := newWatcher(htmldom.New()).Ready(ctx, []string{"p["}); !errors.Is(err, dom.ErrInvalidSelector) {
		t.Errorf("bad selector: got %v, want ErrInvalidSelector", err)
	}
}

// pollOnly hides the observer side of a document and counts queries.
type pollOnly struct {
	doc     *htmldom.Document
	queries atomic.Int64
}

func (p *pollOnly) NodeName() string            { return p.doc.NodeName() }
func (p *pollOnly) ParentNode() dom.Node        { return nil }
func (p *pollOnly) NextSibling() dom.Node       { return nil }
func (p *pollOnly) OwnerDocument() dom.Document { return p }
func (p *pollOnly) ReadyState() dom.ReadyState  { return p.doc.ReadyState() }

func (p *pollOnly) QuerySelector(s string) (dom.Element, error) {
	p.queries.Add(1)
	return p.doc.QuerySelector(s)
}

func (p *pollOnly) QuerySelectorAll(s string) ([]dom.Element, error) {
	p.queries.Add(1)
	return p.doc.QuerySelectorAll(s)
}

func TestReady_PollingFallback(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	host := &pollOnly{doc: doc}
	w := newWatcher(host)

	p, err := w.Ready(context.Background(), []string{"nav"})
	if err != nil {
		t.Fatal(err)
	}
	staysPending(t, p)

	doc.Body().Append(doc.CreateElement("nav"), doc.CreateElement("footer"))
	waitSettled(t, p)
	if el, ok := p.Result(); !ok || el.TagName() != "NAV" {
		t.Errorf("got (%v, %v), want nav", el, ok)
	}
}

func TestReady_NoChecksAfterStop(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	host := &pollOnly{doc: doc}
	w := newWatcher(host)

	p, _ := w.Ready(context.Background(), []string{"nav"})
	time.Sleep(20 * time.Millisecond)
	if host.queries.Load() < 2 {
		t.Fatalf("expected polling before stop, got %d queries", host.queries.Load())
	}

	p.Stop()
	time.Sleep(20 * time.Millisecond)
	before := host.queries.Load()
	time.Sleep(50 * time.Millisecond)
	if after := host.queries.Load(); after != before {
		t.Errorf("queries after stop: %d -> %d", before, after)
	}
}

func TestReady_NoChecksAfterCancel(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	host := &pollOnly{doc: doc}
	w := newWatcher(host)

	ctx, cancel := context.WithCancel(context.Background())
	p, _ := w.Ready(ctx, []string{"nav"})
	time.Sleep(20 * time.Millisecond)
	if host.queries.Load() < 2 {
		t.Fatalf("expected polling before cancel, got %d queries", host.queries.Load())
	}

	cancel()
	waitSettled(t, p)
	if el, ok := p.Result(); el != nil || ok {
		t.Errorf("Result: got (%v, %v), want (nil, false)", el, ok)
	}
	time.Sleep(20 * time.Millisecond)
	before := host.queries.Load()
	time.Sleep(50 * time.Millisecond)
	if after := host.queries.Load(); after != before {
		t.Errorf("queries after cancel: %d -> %d", before, after)
	}
}

func TestReady_ObserverReleased(t *testing.T) {
	doc := loadingDoc(t, `<html><head></head><body></body></html>`)
	w := newWatcher(doc)

	p, _ := w.Ready(context.Background(), []string{"nav"})
	if doc.ObserverCount() != 1 {
		t.Fatalf("ObserverCount: got %d, want 1", doc.ObserverCount())
	}
	p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for doc.ObserverCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("observer still attached after stop")
		}
		time.Sleep(time.Millisecond)
	}
}
