package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lanrace/protocol"
)

const tracerName = "lanrace/session"

// ConnectError reports that the session stream could not be opened, or that
// the Join handshake could not be written.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Dialer opens session connections. The zero value dials the standard
// session port with no timeouts and a no-op logger.
type Dialer struct {
	// Port is used when the host passed to Connect carries no port.
	Port int
	// Timeout bounds opening the stream.
	Timeout time.Duration
	// WriteTimeout bounds each outgoing frame. Zero disables it.
	WriteTimeout time.Duration
	Logger       *zap.Logger
	// TracerProvider records the Connect span. Nil means the global provider.
	TracerProvider trace.TracerProvider
}

// Connect opens a stream to host and, when code is non-empty, asks to join
// that session. The receive loop is running when Connect returns.
//
// Postcondition: Returns a live *Conn, or a *ConnectError.
func (d *Dialer) Connect(ctx context.Context, host, code string) (*Conn, error) {
	addr := d.address(host)
	tp := d.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	ctx, span := tp.Tracer(tracerName).Start(ctx, "session.Connect", trace.WithAttributes(
		attribute.String("session.addr", addr),
		attribute.String("session.code", code),
	))
	defer span.End()

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("addr", addr))

	nd := net.Dialer{Timeout: d.Timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	c := &Conn{
		raw:          raw,
		state:        NewState(),
		logger:       logger,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}

	if code != "" {
		if err := c.send(protocol.Join{RoomCode: code}); err != nil {
			_ = raw.Close()
			span.RecordError(err)
			span.SetStatus(codes.Error, "join failed")
			return nil, &ConnectError{Addr: addr, Err: fmt.Errorf("sending join: %w", err)}
		}
	}

	c.start()
	logger.Info("session stream opened", zap.String("session_code", code))
	return c, nil
}

func (d *Dialer) address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := d.Port
	if port == 0 {
		port = protocol.SessionPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Conn is one client stream to a session host. A single background goroutine
// decodes incoming frames into State for the lifetime of the stream.
type Conn struct {
	raw          net.Conn
	state        *State
	logger       *zap.Logger
	writeTimeout time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// State returns the session state fed by this connection.
func (c *Conn) State() *State { return c.state }

// Snapshot is shorthand for c.State().Snapshot().
func (c *Conn) Snapshot() Snapshot { return c.state.Snapshot() }

// Done is closed once the receive loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// RemoteAddr returns the host address of the stream.
func (c *Conn) RemoteAddr() string { return c.raw.RemoteAddr().String() }

// SendInput writes one Input frame. Transport failures are logged and
// dropped; a dead connection shows up as State().Alive() == false instead.
func (c *Conn) SendInput(dx, dy float64) {
	select {
	case <-c.done:
		return
	default:
	}
	if err := c.send(protocol.Input{DX: dx, DY: dy}); err != nil {
		c.logger.Debug("input dropped", zap.Error(err))
	}
}

// Close shuts the stream and waits for the receive loop to exit.
// It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeRaw()
	<-c.done
	return c.closeErr
}

func (c *Conn) start() {
	c.startOnce.Do(func() {
		go c.receiveLoop()
	})
}

func (c *Conn) closeRaw() {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
}

func (c *Conn) send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err = c.raw.Write(b)
	return err
}

func (c *Conn) receiveLoop() {
	defer close(c.done)
	defer c.closeRaw()

	start := time.Now()
	dec := protocol.NewDecoder(c.raw)
	for {
		m, err := dec.Next()
		if err != nil {
			c.state.MarkClosed()
			c.logClosed(err, time.Since(start))
			return
		}

		if u, ok := m.(protocol.Unknown); ok {
			c.logger.Debug("ignoring unknown message", zap.String("type", u.Tag))
			continue
		}

		if c.state.Apply(m) {
			if e := c.state.Err(); e != nil {
				c.logger.Info("session rejected by host",
					zap.String("reason", e.Message),
					zap.Duration("duration", time.Since(start)),
				)
			}
			return
		}
	}
}

func (c *Conn) logClosed(err error, d time.Duration) {
	var fe *protocol.FrameError
	switch {
	case errors.As(err, &fe), errors.Is(err, protocol.ErrFrameTooLong):
		c.logger.Warn("protocol error, dropping session", zap.Error(err), zap.Duration("duration", d))
	case errors.Is(err, io.EOF):
		c.logger.Info("host closed session", zap.Duration("duration", d))
	case errors.Is(err, net.ErrClosed):
		c.logger.Debug("session closed locally", zap.Duration("duration", d))
	default:
		c.logger.Info("session dropped", zap.Error(err), zap.Duration("duration", d))
	}
}
