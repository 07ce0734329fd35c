package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/domready/htmldom"
)

func TestJSONLines_Envelope(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)

	if err := j.Report(context.Background(), KindResult, Result{CheckID: "home", Found: true, Tag: "NAV"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Report(context.Background(), KindElement, Result{CheckID: "home"}); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var env struct {
		Type string `json:"type"`
		Data Result `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != KindResult || env.Data.Tag != "NAV" || !env.Data.Found {
		t.Errorf("envelope: got %+v", env)
	}
}

func TestRouter_FanOutAndFirstError(t *testing.T) {
	var a, b atomic.Int64
	boom := errors.New("boom")
	r := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)),
		Func(func(context.Context, string, Result) error { a.Add(1); return boom }),
		Func(func(context.Context, string, Result) error { b.Add(1); return nil }),
	)

	err := r.Report(context.Background(), KindResult, Result{})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if a.Load() != 1 || b.Load() != 1 {
		t.Errorf("deliveries: a=%d b=%d, want 1 each", a.Load(), b.Load())
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestWebhook_Retries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type: got %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL,
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := wh.Report(context.Background(), KindResult, Result{CheckID: "x"}); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits: got %d, want 2", hits.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL,
		WithWebhookRetries(1),
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err := wh.Report(context.Background(), KindResult, Result{})
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("got %v, want status 500", err)
	}
}

func TestRenderer(t *testing.T) {
	doc, err := htmldom.Parse(strings.NewReader(
		`<html><body><nav><h2>Menu</h2><a href="/a" onclick="x()">A &amp; B</a><script>evil()</script></nav></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	nav, _ := doc.QuerySelector("nav")

	cases := []struct {
		format   string
		contains []string
		excludes []string
	}{
		{FormatHTML, []string{"<nav>", "onclick", "<script>"}, nil},
		{FormatText, []string{"Menu", "A & B"}, []string{"<", "evil"}},
		{FormatMarkdown, []string{"Menu", "](/a)"}, []string{"<nav>"}},
		{FormatSanitized, []string{`href="/a"`, "Menu"}, []string{"onclick", "<script>"}},
	}
	for _, tc := range cases {
		r, err := NewRenderer(tc.format)
		if err != nil {
			t.Fatal(err)
		}
		out, err := r.Render(nav)
		if err != nil {
			t.Fatalf("%s: %v", tc.format, err)
		}
		for _, s := range tc.contains {
			if !strings.Contains(out, s) {
				t.Errorf("%s: %q missing from %q", tc.format, s, out)
			}
		}
		for _, s := range tc.excludes {
			if strings.Contains(out, s) {
				t.Errorf("%s: %q present in %q", tc.format, s, out)
			}
		}
	}

	if _, err := NewRenderer("pdf"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	var kind atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		kind.Store(r.Header.Get("X-Domready-Kind"))
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL,
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err := wh.Report(context.Background(), KindElement, Result{CheckID: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("got %v, want status 400", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits: got %d, want 1", hits.Load())
	}
	if kind.Load() != KindElement {
		t.Errorf("X-Domready-Kind: got %v, want %q", kind.Load(), KindElement)
	}
}

func TestRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"2":                             2 * time.Second,
		"":                              0,
		"-1":                            0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	}
	for in, want := range cases {
		if got := retryAfter(in); got != want {
			t.Errorf("retryAfter(%q): got %v, want %v", in, got, want)
		}
	}
}
