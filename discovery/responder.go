package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanrace/protocol"
)

// SessionLister reports the sessions a host currently advertises.
type SessionLister interface {
	Sessions() []protocol.SessionDescriptor
}

// Responder answers discovery probes with one datagram per advertised session.
type Responder struct {
	addr      string
	advertise string
	sessions  SessionLister
	logger    *zap.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	quit    chan struct{}
	running bool
}

// NewResponder creates a responder bound to addr. When advertise is empty the
// host_address in each reply is the local IP that routes to the requester.
//
// Precondition: sessions and logger must be non-nil.
func NewResponder(addr, advertise string, sessions SessionLister, logger *zap.Logger) *Responder {
	return &Responder{
		addr:      addr,
		advertise: advertise,
		sessions:  sessions,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

// ListenAndServe answers probes until Stop is called.
//
// Postcondition: The socket is closed when this method returns.
func (r *Responder) ListenAndServe() error {
	laddr, err := net.ResolveUDPAddr("udp4", r.addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", r.addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", r.addr, err)
	}

	r.mu.Lock()
	select {
	case <-r.quit:
		r.mu.Unlock()
		_ = conn.Close()
		return nil
	default:
	}
	r.conn = conn
	r.running = true
	r.mu.Unlock()

	r.logger.Info("discovery responder listening", zap.String("addr", conn.LocalAddr().String()))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.quit:
				return nil
			default:
				r.logger.Error("reading discovery probe", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		if !bytes.Equal(bytes.TrimSpace(buf[:n]), []byte(protocol.DiscoverProbe)) {
			continue
		}
		r.reply(conn, from)
	}
}

func (r *Responder) reply(conn *net.UDPConn, to *net.UDPAddr) {
	host := r.advertise
	if host == "" {
		host = localIPFor(to)
	}
	for _, d := range r.sessions.Sessions() {
		d.HostAddress = host
		b, err := json.Marshal(d)
		if err != nil {
			r.logger.Error("encoding descriptor", zap.Error(err))
			continue
		}
		if _, err := conn.WriteToUDP(b, to); err != nil {
			r.logger.Debug("discovery reply failed", zap.Stringer("to", to), zap.Error(err))
		}
	}
}

// localIPFor returns the local address the kernel would use to reach remote.
func localIPFor(remote *net.UDPAddr) string {
	c, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return ""
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).IP.String()
}

// Stop closes the socket and makes ListenAndServe return.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.quit:
		return
	default:
	}
	r.running = false
	close(r.quit)
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.logger.Info("discovery responder stopped")
}

// Addr returns the bound address, or "" before ListenAndServe has bound.
func (r *Responder) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.LocalAddr().String()
	}
	return ""
}

// IsRunning reports whether probes are being answered.
func (r *Responder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
