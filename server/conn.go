package server

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frameWriter ClientConn 的底层传输（TCP 或 WS）
type frameWriter interface {
	WriteFrame(frame []byte, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

type tcpWriter struct{ conn net.Conn }

func (w tcpWriter) WriteFrame(frame []byte, deadline time.Time) error {
	_ = w.conn.SetWriteDeadline(deadline)
	_, err := w.conn.Write(frame)
	return err
}

func (w tcpWriter) Close() error       { return w.conn.Close() }
func (w tcpWriter) RemoteAddr() string { return w.conn.RemoteAddr().String() }

// wsWriter 每帧一条文本消息，去掉行尾换行
type wsWriter struct{ ws *websocket.Conn }

func (w wsWriter) WriteFrame(frame []byte, deadline time.Time) error {
	_ = w.ws.SetWriteDeadline(deadline)
	return w.ws.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(frame, []byte{'\n'}))
}

func (w wsWriter) Close() error       { return w.ws.Close() }
func (w wsWriter) RemoteAddr() string { return w.ws.RemoteAddr().String() }

// ClientConn 负责发送（写）数据到客户端的轻量包装；独立写协程，慢客户端不拖慢 Tick
type ClientConn struct {
	w            frameWriter
	send         chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClientConn 包装 w，发送队列长度为 queue
func NewClientConn(w frameWriter, queue int, writeTimeout time.Duration) *ClientConn {
	if queue < 1 {
		queue = 1
	}
	return &ClientConn{
		w:            w,
		send:         make(chan []byte, queue),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// Enqueue 将要发送的帧压入队列（非阻塞，满或已关闭则丢弃并返回 false）
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性，丢弃而不是阻塞 Tick
		return false
	}
}

// Close 结束写协程并关闭底层连接
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.w.Close()
	})
}

func (c *ClientConn) Closed() <-chan struct{} { return c.closed }

func (c *ClientConn) RemoteAddr() string { return c.w.RemoteAddr() }

// writePump 独立协程，负责从 send 队列写出，直到关闭或写失败
func (c *ClientConn) writePump(logger *zap.Logger) {
	defer c.Close()
	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			var deadline time.Time
			if c.writeTimeout > 0 {
				deadline = time.Now().Add(c.writeTimeout)
			}
			if err := c.w.WriteFrame(msg, deadline); err != nil {
				select {
				case <-c.closed:
					return
				default:
				}
				logger.Debug("write failed, closing client",
					zap.String("remote_addr", c.RemoteAddr()),
					zap.Error(err),
				)
				return
			}
		}
	}
}
