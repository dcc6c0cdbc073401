package server

import "lanrace/protocol"

// PlayerID 主机在 Welcome 中分配的玩家标识
type PlayerID string

// Player 房间内的一辆车，只由 Tick 协程访问
type Player struct {
	ID PlayerID
	X  float64
	Y  float64

	// 本帧已处理的输入数（限流用）
	inputsThisTick int

	Conn *ClientConn
}

// State 返回玩家的线上格式
func (p *Player) State() protocol.PlayerState {
	return protocol.PlayerState{ID: string(p.ID), X: p.X, Y: p.Y}
}
