// Package report delivers readiness results: JSON lines, webhooks,
// in-process callbacks, and a fan-out router over them.
package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Result is the outcome of one check, or one element of an observe session.
type Result struct {
	ID        string        `json:"id"`
	CheckID   string        `json:"check_id"`
	URL       string        `json:"url"`
	Selectors []string      `json:"selectors"`
	Found     bool          `json:"found"`
	Tag       string        `json:"tag,omitempty"`
	Format    string        `json:"format,omitempty"`
	Content   string        `json:"content,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Timestamp int64         `json:"timestamp"`
}

// Reporter is an output backend.
type Reporter interface {
	Report(ctx context.Context, kind string, r Result) error
	Close() error
}

// Kinds of report.
const (
	KindResult  = "result"
	KindElement = "element"
)

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JSONLines writes one envelope per line.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSONLines reporter. A nil w writes to os.Stdout.
func NewJSONLines(w io.Writer) *JSONLines {
	if w == nil {
		w = os.Stdout
	}
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Report(_ context.Context, kind string, r Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(envelope{Type: kind, Data: r})
}

func (j *JSONLines) Close() error { return nil }

// Func adapts a function to Reporter.
type Func func(ctx context.Context, kind string, r Result) error

func (f Func) Report(ctx context.Context, kind string, r Result) error { return f(ctx, kind, r) }
func (f Func) Close() error                                            { return nil }

// Router fans out to every reporter. One failure does not stop the others;
// failures are logged and the first is returned.
type Router struct {
	reporters []Reporter
	logger    *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(logger *slog.Logger, reporters ...Reporter) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{reporters: reporters, logger: logger}
}

func (r *Router) Report(ctx context.Context, kind string, res Result) error {
	var firstErr error
	for _, rep := range r.reporters {
		if err := rep.Report(ctx, kind, res); err != nil {
			r.logger.Warn("report: delivery failed", "kind", kind, "check", res.CheckID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, rep := range r.reporters {
		if err := rep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
