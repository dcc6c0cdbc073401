package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const spectatorReadLimit = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 局域网看板：允许所有来源
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Spectators 只读的 WebSocket 快照推送
// GET /ws?room=CODE
type Spectators struct {
	rooms        *RoomManager
	queue        int
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewSpectators(rooms *RoomManager, queue int, writeTimeout time.Duration, logger *zap.Logger) *Spectators {
	return &Spectators{rooms: rooms, queue: queue, writeTimeout: writeTimeout, logger: logger}
}

func (s *Spectators) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room, ok := lookupRoom(s.rooms, r.URL.Query().Get("room"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	log := s.logger.With(zap.String("room", room.Code), zap.String("remote_addr", ws.RemoteAddr().String()))
	cc := NewClientConn(wsWriter{ws: ws}, s.queue, s.writeTimeout)
	room.Watch(cc)
	go cc.writePump(log)
	log.Info("spectator attached")

	// 观战端不发送有效数据，读循环只用于感知断开
	ws.SetReadLimit(spectatorReadLimit)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	room.Unwatch(cc)
	cc.Close()
	log.Info("spectator detached")
}
