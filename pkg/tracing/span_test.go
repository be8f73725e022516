package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "index_book", "42")
	_, load := StartChildSpan(ctx, "load")
	load.End()
	_, persist := StartChildSpan(ctx, "persist")
	persist.SetAttr("inserted", 12)
	persist.End()
	root.End()

	require.Len(t, root.Children(), 2)
	assert.Equal(t, "42", persist.TraceID)
	assert.Equal(t, "index_book/persist", persist.Path())
	assert.True(t, root.Duration() >= load.Duration())

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	out := buf.String()
	assert.Equal(t, 3, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "span=index_book/persist")
	assert.Contains(t, out, "depth=1")
	assert.Contains(t, out, "inserted=12")
}

func TestSpanLog_SilentAboveDebug(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "x", "t")
	root.End()

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())
}

func TestStartChildSpan_NoParent(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Equal(t, "orphan", s.Path())
	assert.Nil(t, SpanFromContext(context.Background()))
}
