package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	InitLogger("production", &buf)
	t.Cleanup(func() { InitLogger("test", &bytes.Buffer{}) })

	ctx := WithConnID(WithUserID(context.Background(), 42), "conn-1")
	Logger.InfoContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, `"user_id":42`)
	assert.Contains(t, out, `"conn_id":"conn-1"`)
	assert.Contains(t, out, `"msg":"hello"`)
}

func TestLoggerKeepsContextValuesThroughWith(t *testing.T) {
	var buf bytes.Buffer
	InitLogger("development", &buf)
	t.Cleanup(func() { InitLogger("test", &bytes.Buffer{}) })

	Logger.With("component", "rooms").InfoContext(WithConnID(context.Background(), "c-9"), "joined")

	assert.Contains(t, buf.String(), "component=rooms")
	assert.Contains(t, buf.String(), "conn_id=c-9")
}

func TestWSLoggerLogsError(t *testing.T) {
	var buf bytes.Buffer
	InitLogger("production", &buf)
	t.Cleanup(func() { InitLogger("test", &bytes.Buffer{}) })

	NewWSLogger("gateway").LogError(context.Background(), 7, "c-1", errors.New("nope"), "sendMessage")

	assert.Contains(t, buf.String(), `"event_type":"sendMessage"`)
	assert.Contains(t, buf.String(), `"hub":"gateway"`)
}

func TestTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{ServiceName: "huddle-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := TraceWebSocketEvent(context.Background(), "login", 1, "c-1")
	RecordError(span, errors.New("boom"))
	span.End()
	assert.NotNil(t, ctx)
}
