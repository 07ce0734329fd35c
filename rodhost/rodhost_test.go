package rodhost

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domready"
	"github.com/hazyhaar/domready/dom"
)

func TestShouldBlock(t *testing.T) {
	set := blockSetOf([]string{"Images", " fonts ", "xhr"})

	cases := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"XHR", true},
		{"Stylesheet", false},
		{"Document", false},
		{"Script", false},
	}
	for _, tc := range cases {
		if got := shouldBlock(set, tc.resType); got != tc.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", tc.resType, got, tc.want)
		}
	}
}

func TestDecodeMessage(t *testing.T) {
	payload := `{"kind":"mutations","observer":3,"records":[
		{"type":"childList","target":{"id":1,"type":1,"name":"BODY"},
		 "added":[{"id":2,"type":1,"name":"NAV"},{"id":3,"type":3,"name":"#text"}],
		 "removed":[],"attr":""}]}`

	msg, err := decodeMessage(payload)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != kindMutations || msg.Observer != 3 {
		t.Errorf("header: got %q/%d", msg.Kind, msg.Observer)
	}
	if len(msg.Records) != 1 || len(msg.Records[0].Added) != 2 {
		t.Fatalf("records: got %+v", msg.Records)
	}
	if got := msg.Records[0].Added[1]; got.Type != 3 || got.Name != "#text" {
		t.Errorf("text ref: got %+v", got)
	}

	ready, err := decodeMessage(`{"kind":"ready","state":"interactive"}`)
	if err != nil || dom.ReadyState(ready.State) != dom.StateInteractive {
		t.Errorf("ready: got (%+v, %v)", ready, err)
	}

	if _, err := decodeMessage(`{"kind":"other"}`); err == nil {
		t.Error("unknown kind accepted")
	}
	if _, err := decodeMessage(`not json`); err == nil {
		t.Error("garbage accepted")
	}
}

func TestLeafResolvesWithoutPage(t *testing.T) {
	d := &Document{}
	n := d.resolve(&nodeRef{ID: 7, Type: 8, Name: "#comment"})
	if n == nil || n.NodeName() != "#comment" {
		t.Errorf("got %v, want #comment leaf", n)
	}
	if d.resolve(&nodeRef{Type: nodeDocument}) != dom.Node(d) {
		t.Error("document ref should resolve to the document")
	}
	if d.resolve(nil) != nil {
		t.Error("nil ref should resolve to nil")
	}
}

// streamingPage serves a page whose nav is followed by a footer only after
// a pause, with the connection held open in between.
func streamingPage(pause time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fl, _ := w.(http.Flusher)
		// The padding in head pushes the first chunk past Chrome's sniffing buffer.
		fmt.Fprint(w, "<!DOCTYPE html><html><head><title>t</title><!--"+strings.Repeat(" ", 2048)+"--></head>")
		fmt.Fprint(w, "<body><nav><a href='/'>Home</a></nav>")
		if fl != nil {
			fl.Flush()
		}
		time.Sleep(pause)
		fmt.Fprint(w, "<footer>end</footer></body></html>")
	})
}

func TestChrome_ReadyWaitsForSibling(t *testing.T) {
	if os.Getenv("DOMREADY_CHROME") == "" {
		t.Skip("set DOMREADY_CHROME=1 to run against a local Chrome")
	}
	srv := httptest.NewServer(streamingPage(500 * time.Millisecond))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := NewManager(BrowserConfig{Stealth: false})
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	doc, err := mgr.Open(ctx, srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	w := domready.New(domready.Config{Document: doc})
	p, err := w.Ready(ctx, []string{"nav"}, domready.WithTimeout(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	el, ok := p.Wait(ctx)
	if !ok {
		t.Fatal("nav never became ready")
	}
	if el.TagName() != "NAV" {
		t.Errorf("TagName: got %q, want NAV", el.TagName())
	}
	footer, _ := doc.QuerySelector("footer")
	if footer == nil {
		t.Error("nav settled before its sibling arrived")
	}
}
