// Package play drives a joined session at a fixed frame rate: it samples
// local input, forwards it to the host and hands each frame to an observer.
package play

import (
	"context"
	"time"

	"lanrace/protocol"
	"lanrace/session"
)

// DefaultRate is the presentation frame rate in Hz.
const DefaultRate = 60

// Session is the part of a session connection the loop drives.
type Session interface {
	Snapshot() session.Snapshot
	SendInput(dx, dy float64)
	Done() <-chan struct{}
}

// OutcomeKind says why a loop ended.
type OutcomeKind int

const (
	// Quit means the local player left.
	Quit OutcomeKind = iota
	// Dropped means the stream ended without a rejection.
	Dropped
	// Rejected means the host refused or ended the session with a message.
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Quit:
		return "quit"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of Run. Message is set for Rejected only.
type Outcome struct {
	Kind    OutcomeKind
	Message string
	Frames  int64
}

// Frame is what the observer sees each tick.
type Frame struct {
	Seq       int64
	Snapshot  session.Snapshot
	Players   []protocol.PlayerState // clamped to the playfield
	Obstacles []Obstacle
}

// Loop runs one joined session until it ends or ctx is cancelled.
type Loop struct {
	Conn  Session
	Rate  int // Hz, DefaultRate when zero
	Input InputSource

	// Field bounds drawn positions. DefaultPlayfield when zero.
	Field Playfield
	// Course, when set, is stepped once per frame.
	Course *Course
	// Observe, when set, receives every frame.
	Observe func(Frame)
}

// Run ticks until the session ends or ctx is done. It never closes Conn.
func (l *Loop) Run(ctx context.Context) Outcome {
	rate := l.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	field := l.Field
	if field == (Playfield{}) {
		field = DefaultPlayfield
	}

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return Outcome{Kind: Quit, Frames: seq}
		case <-l.Conn.Done():
			return outcomeOf(l.Conn.Snapshot(), seq)
		case <-ticker.C:
		}

		snap := l.Conn.Snapshot()
		if snap.Phase.Terminal() {
			return outcomeOf(snap, seq)
		}

		var dx, dy float64
		if l.Input != nil {
			dx, dy = l.Input.Poll()
		}
		l.Conn.SendInput(dx, dy)

		seq++
		if l.Observe == nil {
			if l.Course != nil {
				l.Course.Step()
			}
			continue
		}
		frame := Frame{Seq: seq, Snapshot: snap, Players: make([]protocol.PlayerState, len(snap.Players))}
		for i, p := range snap.Players {
			frame.Players[i] = Clamp(p, field)
		}
		if l.Course != nil {
			l.Course.Step()
			frame.Obstacles = l.Course.Obstacles()
		}
		l.Observe(frame)
	}
}

func outcomeOf(snap session.Snapshot, frames int64) Outcome {
	if snap.Phase == session.Failed && snap.Err != nil {
		return Outcome{Kind: Rejected, Message: snap.Err.Message, Frames: frames}
	}
	return Outcome{Kind: Dropped, Frames: frames}
}
