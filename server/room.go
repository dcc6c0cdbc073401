package server

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lanrace/protocol"
)

var (
	// ErrRoomFull 房间已满，Join 拒绝
	ErrRoomFull = errors.New("room full")
	// ErrRoomClosed 房间已停止
	ErrRoomClosed = errors.New("room closed")
	// ErrRoomNotFound 没有该房间码
	ErrRoomNotFound = errors.New("room not found")
)

// Settings 房间规则：admin 可在运行中热更新，Tick 开始时读取一份副本
type Settings struct {
	Capacity         int
	Width            float64
	Height           float64
	MaxInputsPerTick int

	// 网络模拟（仅作用于入站输入）
	SimulateDelayMinMs int
	SimulateDelayMaxMs int
	SimulateDropProb   float64
}

type joinResult struct {
	id  PlayerID
	err error
}

type joinRequest struct {
	conn  *ClientConn
	reply chan joinResult
}

// Room 房间世界：权威状态维护在内存，只有 Tick 协程修改，其余一律走通道
type Room struct {
	Code string
	Name string

	logger  *zap.Logger
	metrics *RoomMetrics
	newID   func() PlayerID

	settingsMu sync.RWMutex
	settings   Settings
	tick       Settings // copy in effect for the current tick

	players    map[PlayerID]*Player
	order      []PlayerID // join order, keeps snapshots stable
	spectators map[*ClientConn]struct{}

	joinChan    chan joinRequest
	leaveChan   chan PlayerID
	inputChan   chan Input
	watchChan   chan *ClientConn
	unwatchChan chan *ClientConn

	playerCount atomic.Int32
	tickSeq     atomic.Int64

	tickInterval time.Duration
	startOnce    sync.Once
	stopOnce     sync.Once
	quit         chan struct{}
	done         chan struct{}
}

// NewRoom 创建房间，StartTicker 后才开始推进
func NewRoom(code, name string, settings Settings, tickInterval time.Duration, newID func() PlayerID, logger *zap.Logger) *Room {
	return &Room{
		Code:         code,
		Name:         name,
		logger:       logger.With(zap.String("room", code)),
		metrics:      &RoomMetrics{},
		newID:        newID,
		settings:     settings,
		tick:         settings,
		players:      make(map[PlayerID]*Player),
		spectators:   make(map[*ClientConn]struct{}),
		joinChan:     make(chan joinRequest, 16),
		leaveChan:    make(chan PlayerID, 64),
		inputChan:    make(chan Input, 256), // room for bursts so network reads never block on the tick
		watchChan:    make(chan *ClientConn, 16),
		unwatchChan:  make(chan *ClientConn, 16),
		tickInterval: tickInterval,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Settings 返回当前规则
func (r *Room) Settings() Settings {
	r.settingsMu.RLock()
	defer r.settingsMu.RUnlock()
	return r.settings
}

// UpdateSettings 在锁内修改规则（热更新）
func (r *Room) UpdateSettings(fn func(*Settings)) Settings {
	r.settingsMu.Lock()
	defer r.settingsMu.Unlock()
	fn(&r.settings)
	return r.settings
}

func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// TickSeq 已执行的 Tick 数
func (r *Room) TickSeq() int64 { return r.tickSeq.Load() }

// PlayerCount 上一个 Tick 结束时的在座玩家数
func (r *Room) PlayerCount() int { return int(r.playerCount.Load()) }

// Descriptor 用于发现应答的房间描述
func (r *Room) Descriptor() protocol.SessionDescriptor {
	return protocol.SessionDescriptor{
		SessionCode: r.Code,
		Name:        r.Name,
		Players:     r.PlayerCount(),
		Capacity:    r.Settings().Capacity,
	}
}

// Join 将连接加入房间：在下一个 Tick 中分配 id 并先发 Welcome，再发快照
func (r *Room) Join(conn *ClientConn) (PlayerID, error) {
	req := joinRequest{conn: conn, reply: make(chan joinResult, 1)}
	select {
	case r.joinChan <- req:
	case <-r.quit:
		return "", ErrRoomClosed
	}
	select {
	case res := <-req.reply:
		return res.id, res.err
	case <-r.quit:
		return "", ErrRoomClosed
	}
}

// RequestLeave 请求在 Tick 线程中移除玩家，避免并发改动房间状态
func (r *Room) RequestLeave(pid PlayerID) {
	select {
	case r.leaveChan <- pid:
	case <-r.quit:
	}
}

// Watch 添加观战连接，接收每一帧快照
func (r *Room) Watch(conn *ClientConn) {
	select {
	case r.watchChan <- conn:
	case <-r.quit:
		conn.Close()
	}
}

func (r *Room) Unwatch(conn *ClientConn) {
	select {
	case r.unwatchChan <- conn:
	case <-r.quit:
	}
}

// OnInput 入站输入（不立即改变位置），仅记录意图，等下一次 Tick 处理。
// 不阻塞：队列满时丢弃，保证 Tick 准时
func (r *Room) OnInput(in Input) {
	s := r.Settings()
	if s.SimulateDropProb > 0 && rand.Float64() < s.SimulateDropProb {
		r.metrics.IncDropsSimulated()
		return
	}
	if s.SimulateDelayMaxMs > 0 {
		delay := s.SimulateDelayMinMs
		if span := s.SimulateDelayMaxMs - s.SimulateDelayMinMs; span > 0 {
			delay += rand.IntN(span + 1)
		}
		time.AfterFunc(time.Duration(delay)*time.Millisecond, func() { r.enqueueInput(in) })
		return
	}
	r.enqueueInput(in)
}

func (r *Room) enqueueInput(in Input) {
	select {
	case r.inputChan <- in:
	default:
		r.metrics.IncChanFullDiscarded()
	}
}

// BeginTick 读取本帧规则并重置帧内计数
func (r *Room) BeginTick() {
	r.tick = r.Settings()
	for _, p := range r.players {
		p.inputsThisTick = 0
	}
}

// ProcessInputs 处理上一帧以来的加入、离开与输入（非阻塞 drain）
func (r *Room) ProcessInputs() {
	for {
		select {
		case req := <-r.joinChan:
			id, err := r.admit(req.conn)
			req.reply <- joinResult{id: id, err: err}
		case pid := <-r.leaveChan:
			r.removePlayer(pid)
		case conn := <-r.watchChan:
			r.spectators[conn] = struct{}{}
		case conn := <-r.unwatchChan:
			delete(r.spectators, conn)
			conn.Close()
		case in := <-r.inputChan:
			p, ok := r.players[in.PlayerID]
			if !ok {
				continue
			}
			if p.inputsThisTick >= r.tick.MaxInputsPerTick {
				r.metrics.IncRateLimited()
				continue
			}
			p.inputsThisTick++
			r.applyMove(p, in.DX, in.DY)
			r.metrics.IncAccepted()
		default:
			r.playerCount.Store(int32(len(r.players)))
			return
		}
	}
}

// admit 安置新玩家并排队发送 Welcome
func (r *Room) admit(conn *ClientConn) (PlayerID, error) {
	if len(r.players) >= r.tick.Capacity {
		r.metrics.IncJoinsRejected()
		return "", ErrRoomFull
	}
	id := r.newID()
	for _, taken := r.players[id]; taken; _, taken = r.players[id] {
		id = r.newID()
	}

	slot := len(r.order)
	p := &Player{
		ID:   id,
		X:    r.tick.Width * float64(slot%r.tick.Capacity+1) / float64(r.tick.Capacity+1),
		Y:    r.tick.Height * 0.8,
		Conn: conn,
	}
	r.players[id] = p
	r.order = append(r.order, id)
	r.metrics.IncJoinsAccepted()

	if b, err := protocol.Encode(protocol.Welcome{ID: string(id)}); err == nil {
		conn.Enqueue(b)
	}
	r.logger.Info("player joined",
		zap.String("player", string(id)),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Int("players", len(r.players)),
	)
	return id, nil
}

func (r *Room) removePlayer(id PlayerID) {
	p, ok := r.players[id]
	if !ok {
		return
	}
	if p.Conn != nil {
		p.Conn.Close()
	}
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("player left", zap.String("player", string(id)), zap.Int("players", len(r.players)))
}

// Snapshot 按加入顺序返回全部玩家状态（仅限 Tick 协程）
func (r *Room) Snapshot() []protocol.PlayerState {
	out := make([]protocol.PlayerState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id].State())
	}
	return out
}

// Broadcast 将完整快照广播给所有玩家与观战者
func (r *Room) Broadcast() {
	b, err := protocol.Encode(protocol.State{Players: r.Snapshot()})
	if err != nil {
		r.logger.Error("encoding snapshot", zap.Error(err))
		return
	}
	for _, p := range r.players {
		if p.Conn != nil {
			r.deliver(p.Conn, b)
		}
	}
	for conn := range r.spectators {
		r.deliver(conn, b)
	}
}

func (r *Room) deliver(c *ClientConn, b []byte) {
	if c.Enqueue(b) {
		return
	}
	select {
	case <-c.Closed():
		// 连接已断开，离开请求尚未被 tick 处理，不算队列满
	default:
		r.metrics.IncChanFullDiscarded()
	}
}

// applyMove 执行一次移动并进行越界裁剪
func (r *Room) applyMove(p *Player, dx, dy float64) {
	p.X += dx
	p.Y += dy
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X > r.tick.Width {
		p.X = r.tick.Width
	}
	if p.Y > r.tick.Height {
		p.Y = r.tick.Height
	}
}

// shutdown 关闭所有连接（Tick 协程在最后一帧之后调用）
func (r *Room) shutdown() {
	for id := range r.players {
		r.removePlayer(id)
	}
	for conn := range r.spectators {
		conn.Close()
		delete(r.spectators, conn)
	}
	r.playerCount.Store(0)
}
