// Package session owns one client connection to a session host and the
// client-side view of the shared game state it keeps in sync.
package session

import (
	"sync"

	"lanrace/protocol"
)

// Phase is where a connection is in its lifetime.
type Phase int

const (
	// Connecting: stream open, Join possibly sent, no Welcome yet.
	Connecting Phase = iota
	// Joined: the host assigned an identity.
	Joined
	// Streaming: at least one snapshot has arrived.
	Streaming
	// Closed: the stream ended without the host rejecting us.
	Closed
	// Failed: the host sent an Error.
	Failed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further messages will be applied.
func (p Phase) Terminal() bool { return p == Closed || p == Failed }

// ConnectionError is the host's terminal rejection.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string { return e.Message }

// Snapshot is a consistent copy of State taken under a single lock.
type Snapshot struct {
	Phase   Phase
	ID      string
	HasID   bool
	Players []protocol.PlayerState
	Err     *ConnectionError
	Alive   bool
}

// Self returns the local player's entry in the snapshot, if present.
func (s Snapshot) Self() (protocol.PlayerState, bool) {
	if !s.HasID {
		return protocol.PlayerState{}, false
	}
	for _, p := range s.Players {
		if p.ID == s.ID {
			return p, true
		}
	}
	return protocol.PlayerState{}, false
}

// State is the client's view of one session. The receive loop is its only
// writer; the presentation loop reads it through Snapshot.
type State struct {
	mu      sync.RWMutex
	phase   Phase
	id      string
	hasID   bool
	players []protocol.PlayerState
	err     *ConnectionError
}

// NewState returns a state in the Connecting phase.
func NewState() *State {
	return &State{phase: Connecting}
}

// Apply folds one message into the state and reports whether the state is now
// terminal. Messages arriving after a terminal phase are ignored.
func (s *State) Apply(m protocol.Message) (terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return true
	}

	switch v := m.(type) {
	case protocol.Welcome:
		s.id = v.ID
		s.hasID = true
		if s.phase == Connecting {
			s.phase = Joined
		}
	case protocol.State:
		// snapshots replace, never merge
		s.players = v.Players
		s.phase = Streaming
	case protocol.Error:
		s.err = &ConnectionError{Message: v.Message}
		s.phase = Failed
	default:
		// Join, Input and unknown kinds are not meant for the client
	}
	return s.phase.Terminal()
}

// MarkClosed records that the stream ended without a rejection. It does not
// override Failed.
func (s *State) MarkClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.phase.Terminal() {
		s.phase = Closed
	}
}

// Snapshot returns a copy of the state that later updates cannot tear.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase: s.phase,
		ID:    s.id,
		HasID: s.hasID,
		Alive: !s.phase.Terminal(),
	}
	if s.players != nil {
		snap.Players = make([]protocol.PlayerState, len(s.players))
		copy(snap.Players, s.players)
	}
	if s.err != nil {
		e := *s.err
		snap.Err = &e
	}
	return snap
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Alive reports whether updates may still arrive.
func (s *State) Alive() bool {
	return !s.Phase().Terminal()
}

// Err returns the host's rejection, or nil when there was none.
func (s *State) Err() *ConnectionError {
	return s.Snapshot().Err
}
