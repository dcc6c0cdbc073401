package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"lanrace/protocol"
)

// Rejection texts sent to clients whose join fails.
const (
	RejectRoomNotFound = "Room not found"
	RejectRoomFull     = "Room full"
	RejectRoomClosed   = "Room closed"
	RejectExpectedJoin = "Expected join"
)

// AcceptorConfig tunes the session listener.
type AcceptorConfig struct {
	Addr         string
	JoinTimeout  time.Duration
	WriteTimeout time.Duration
	SendQueue    int
}

// Acceptor listens for session streams and seats each one in the room its
// Join names.
type Acceptor struct {
	cfg    AcceptorConfig
	rooms  *RoomManager
	logger *zap.Logger

	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates an acceptor for rooms.
//
// Precondition: rooms and logger must be non-nil.
func NewAcceptor(cfg AcceptorConfig, rooms *RoomManager, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:    cfg,
		rooms:  rooms,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
		quit:   make(chan struct{}),
	}
}

// ListenAndServe accepts session streams until Stop is called.
//
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	listener, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr, err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("session acceptor listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		if !a.track(conn) {
			_ = conn.Close()
			return nil
		}
		go a.handleConn(conn)
	}
}

func (a *Acceptor) track(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.conns[conn] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
	a.wg.Done()
}

func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.untrack(raw)
	start := time.Now()
	addr := raw.RemoteAddr().String()
	log := a.logger.With(zap.String("remote_addr", addr))

	dec := protocol.NewDecoder(raw)
	join, err := a.readJoin(raw, dec)
	if err != nil {
		log.Debug("no join received", zap.Error(err))
		a.reject(raw, RejectExpectedJoin)
		return
	}

	room, ok := a.rooms.Room(join.RoomCode)
	if !ok {
		log.Info("join for unknown room", zap.String("room", join.RoomCode))
		a.reject(raw, RejectRoomNotFound)
		return
	}

	cc := NewClientConn(tcpWriter{conn: raw}, a.cfg.SendQueue, a.cfg.WriteTimeout)
	id, err := room.Join(cc)
	switch {
	case errors.Is(err, ErrRoomFull):
		log.Info("join rejected", zap.String("room", room.Code), zap.Error(err))
		a.reject(raw, RejectRoomFull)
		return
	case err != nil:
		a.reject(raw, RejectRoomClosed)
		return
	}
	_ = raw.SetReadDeadline(time.Time{})

	go cc.writePump(log)
	a.readPump(dec, room, id, log)
	room.RequestLeave(id)
	cc.Close()

	log.Info("session ended",
		zap.String("room", room.Code),
		zap.String("player", string(id)),
		zap.Duration("duration", time.Since(start)),
	)
}

// readJoin waits for the opening Join, skipping frames of unknown kind.
func (a *Acceptor) readJoin(raw net.Conn, dec *protocol.Decoder) (protocol.Join, error) {
	if a.cfg.JoinTimeout > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(a.cfg.JoinTimeout))
	}
	for {
		msg, err := dec.Next()
		if err != nil {
			return protocol.Join{}, err
		}
		switch m := msg.(type) {
		case protocol.Unknown:
			continue
		case protocol.Join:
			return m, nil
		default:
			return protocol.Join{}, fmt.Errorf("first frame is %s", msg.Kind())
		}
	}
}

// readPump forwards inputs to the room until the stream ends or breaks.
func (a *Acceptor) readPump(dec *protocol.Decoder, room *Room, id PlayerID, log *zap.Logger) {
	for {
		msg, err := dec.Next()
		var fe *protocol.FrameError
		switch {
		case errors.As(err, &fe):
			log.Warn("dropping client on malformed frame", zap.Error(err))
			return
		case err != nil:
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("session read ended", zap.Error(err))
			}
			return
		}
		if in, ok := msg.(protocol.Input); ok {
			room.OnInput(Input{PlayerID: id, DX: in.DX, DY: in.DY})
		}
	}
}

// reject writes a single Error frame and closes the stream.
func (a *Acceptor) reject(raw net.Conn, message string) {
	if b, err := protocol.Encode(protocol.Error{Message: message}); err == nil {
		_ = tcpWriter{conn: raw}.WriteFrame(b, time.Now().Add(a.writeTimeout()))
	}
	_ = raw.Close()
}

func (a *Acceptor) writeTimeout() time.Duration {
	if a.cfg.WriteTimeout > 0 {
		return a.cfg.WriteTimeout
	}
	return time.Second
}

// Stop closes the listener and every open stream, then waits for their
// handlers to finish.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	a.running = false
	if a.listener != nil {
		_ = a.listener.Close()
	}
	for c := range a.conns {
		_ = c.Close()
	}
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("session acceptor stopped")
}

// Addr returns the listening address, or "" before ListenAndServe has bound.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether streams are being accepted.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
