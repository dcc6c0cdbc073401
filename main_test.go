package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func TestDiscoverCommandWithNoSessions(t *testing.T) {
	t.Setenv("LANRACE_CLIENT_DISCOVERY_PORT", strconv.Itoa(freeUDPPort(t)))
	t.Setenv("LANRACE_LOGGING_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"discover", "--broadcast", "127.0.0.1", "--timeout", "200ms"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "No sessions found")
}

func TestTraceFlagExportsDiscoverSpan(t *testing.T) {
	t.Setenv("LANRACE_CLIENT_DISCOVERY_PORT", strconv.Itoa(freeUDPPort(t)))
	t.Setenv("LANRACE_LOGGING_LEVEL", "error")
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var out, spans bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&spans)
	root.SetArgs([]string{"discover", "--broadcast", "127.0.0.1", "--timeout", "200ms", "--trace", "stdout"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Contains(t, spans.String(), `"Name":"discovery.Discover"`)
	assert.Contains(t, spans.String(), "discovery.probes")
}

func TestInvalidConfigIsRejectedBeforeRunning(t *testing.T) {
	t.Setenv("LANRACE_HOST_CAPACITY", "0")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"host", "--admin-addr", ""})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host.capacity")
}

func TestResolveTargetSkipsDiscoveryWhenGiven(t *testing.T) {
	a := &app{logger: zaptest.NewLogger(t)}

	host, code, err := resolveTarget(context.Background(), a, "10.0.0.5", "ZK9Q", 0)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, "ZK9Q", code)

	host, code, err = resolveTarget(context.Background(), a, "", "AB12", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultJoinHost, host)
	assert.Equal(t, "AB12", code)
}
