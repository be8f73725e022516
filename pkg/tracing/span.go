// Package tracing records per-operation span trees carried through Go
// contexts. A finished tree is written to slog at debug level, one record
// per span, with the span's path from the root.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is a timed operation inside a trace.
type Span struct {
	Name    string
	TraceID string
	parent  *Span

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	attrs    []slog.Attr
	children []*Span
}

// StartSpan starts a root span for traceID.
func StartSpan(ctx context.Context, name string, traceID string) (context.Context, *Span) {
	s := &Span{Name: name, TraceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan starts a span under the one in ctx. Without a parent it is
// a root with an empty trace ID.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return StartSpan(ctx, name, "")
	}
	s := &Span{Name: name, TraceID: parent.TraceID, parent: parent, start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, s)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, s), s
}

func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Path joins the names from the root down to s with "/".
func (s *Span) Path() string {
	if s.parent == nil {
		return s.Name
	}
	return s.parent.Path() + "/" + s.Name
}

// Log writes the tree rooted at s, depth first.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	s.walk(0, func(sp *Span, depth int) {
		sp.mu.Lock()
		attrs := append([]slog.Attr{
			slog.String("trace_id", sp.TraceID),
			slog.String("span", sp.Path()),
			slog.Int("depth", depth),
			slog.Duration("duration", sp.duration),
		}, sp.attrs...)
		sp.mu.Unlock()
		logger.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	})
}

func (s *Span) walk(depth int, fn func(*Span, int)) {
	fn(s, depth)
	for _, c := range s.Children() {
		c.walk(depth+1, fn)
	}
}
