package server

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lanrace/protocol"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	first string

	defaults     Settings
	tickInterval time.Duration
	logger       *zap.Logger
}

// NewRoomManager 新房间使用 defaults 作为初始规则
func NewRoomManager(defaults Settings, tickInterval time.Duration, logger *zap.Logger) *RoomManager {
	return &RoomManager{
		rooms:        make(map[string]*Room),
		defaults:     defaults,
		tickInterval: tickInterval,
		logger:       logger,
	}
}

// NewPlayerID 生成短随机玩家 id
func NewPlayerID() PlayerID {
	return PlayerID(uuid.New().String()[:8])
}

// CreateRoom 以随机房间码创建房间，并开始 Tick
func (m *RoomManager) CreateRoom(name string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := randomCode()
	for _, taken := m.rooms[code]; taken; _, taken = m.rooms[code] {
		code = randomCode()
	}
	return m.openLocked(code, name)
}

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick
func (m *RoomManager) GetOrCreateRoom(code string) (*Room, error) {
	code = strings.ToUpper(code)
	if !protocol.ValidSessionCode(code) {
		return nil, fmt.Errorf("invalid room code %q", code)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[code]; ok {
		return r, nil
	}
	return m.openLocked(code, code), nil
}

func (m *RoomManager) openLocked(code, name string) *Room {
	r := NewRoom(code, name, m.defaults, m.tickInterval, NewPlayerID, m.logger)
	m.rooms[code] = r
	if m.first == "" {
		m.first = code
	}
	r.StartTicker()
	m.logger.Info("room opened", zap.String("room", code), zap.String("name", name))
	return r
}

// Room 按房间码查找（不区分大小写）
func (m *RoomManager) Room(code string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[strings.ToUpper(code)]
	return r, ok
}

// Default 第一个创建且仍在运行的房间
func (m *RoomManager) Default() (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[m.first]
	return r, ok
}

// Rooms 按房间码排序返回所有房间
func (m *RoomManager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Sessions 仍有空位的房间（供发现应答）
func (m *RoomManager) Sessions() []protocol.SessionDescriptor {
	var out []protocol.SessionDescriptor
	for _, r := range m.Rooms() {
		d := r.Descriptor()
		if d.Players < d.Capacity {
			out = append(out, d)
		}
	}
	return out
}

// CloseRoom 停止并移除房间
func (m *RoomManager) CloseRoom(code string) bool {
	m.mu.Lock()
	r, ok := m.rooms[strings.ToUpper(code)]
	if ok {
		delete(m.rooms, r.Code)
		if m.first == r.Code {
			m.first = ""
		}
	}
	m.mu.Unlock()
	if ok {
		r.Stop()
		m.logger.Info("room closed", zap.String("room", r.Code))
	}
	return ok
}

// Close 停止所有房间
func (m *RoomManager) Close() {
	for _, r := range m.Rooms() {
		m.CloseRoom(r.Code)
	}
}

func randomCode() string {
	var b [protocol.MaxSessionCodeLen]byte
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b[:])
}
