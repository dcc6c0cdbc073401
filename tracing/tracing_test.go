package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanrace/config"
)

func TestNewProvider_DisabledIsNil(t *testing.T) {
	tp, err := NewProvider(config.TracingConfig{Exporter: "none", ServiceName: "lanrace"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, tp)
}

func TestNewProvider_UnknownExporter(t *testing.T) {
	_, err := NewProvider(config.TracingConfig{Exporter: "zipkin"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNewProvider_StdoutWritesEndedSpans(t *testing.T) {
	var out bytes.Buffer
	tp, err := NewProvider(config.TracingConfig{Exporter: "stdout", ServiceName: "lanrace-test"}, &out)
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("lanrace/test").Start(context.Background(), "session.Connect")
	assert.True(t, span.IsRecording())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, out.String(), `"Name":"session.Connect"`)
	assert.Contains(t, out.String(), "lanrace-test")
}
