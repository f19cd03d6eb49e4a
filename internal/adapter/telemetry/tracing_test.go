package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLogSpanExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(NewLogSpanExporter(logger)))
	defer tp.Shutdown(context.Background())

	ctx, parent := tp.Tracer("test").Start(context.Background(), "guardybot.process")
	_, child := tp.Tracer("test").Start(ctx, "guardybot.notify")
	child.SetAttributes(attribute.String("finding.id", "abc"))
	child.End()
	parent.End()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var entry struct {
		Msg   string         `json:"msg"`
		Trace map[string]any `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "🔭 span", entry.Msg)
	assert.Equal(t, "guardybot.notify", entry.Trace["span"])
	assert.Equal(t, "abc", entry.Trace["finding.id"])
	assert.NotEmpty(t, entry.Trace["parent_id"])

	require.NoError(t, json.Unmarshal(lines[1], &entry))
	assert.Equal(t, "guardybot.process", entry.Trace["span"])
	assert.NotContains(t, entry.Trace, "parent_id")
}

func TestNewTracerProvider(t *testing.T) {
	tp := NewTracerProvider("guardybot-test", "dev", slog.Default())
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
