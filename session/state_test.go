package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"lanrace/protocol"
)

func TestState_InitialIsConnecting(t *testing.T) {
	s := NewState()
	snap := s.Snapshot()
	assert.Equal(t, Connecting, snap.Phase)
	assert.True(t, snap.Alive)
	assert.False(t, snap.HasID)
	assert.Nil(t, snap.Players)
	assert.Nil(t, snap.Err)
}

func TestState_WelcomeThenState(t *testing.T) {
	s := NewState()
	assert.False(t, s.Apply(protocol.Welcome{ID: "p1"}))
	assert.Equal(t, Joined, s.Phase())

	players := []protocol.PlayerState{{ID: "p1", X: 10, Y: 20}, {ID: "p2", X: 30, Y: 40}}
	assert.False(t, s.Apply(protocol.State{Players: players}))

	snap := s.Snapshot()
	assert.Equal(t, Streaming, snap.Phase)
	assert.Equal(t, "p1", snap.ID)
	assert.Equal(t, players, snap.Players)

	self, ok := snap.Self()
	require.True(t, ok)
	assert.Equal(t, 10.0, self.X)
}

func TestState_WelcomeAfterStateKeepsStreaming(t *testing.T) {
	s := NewState()
	s.Apply(protocol.State{Players: []protocol.PlayerState{{ID: "p9"}}})
	s.Apply(protocol.Welcome{ID: "p9"})

	snap := s.Snapshot()
	assert.Equal(t, Streaming, snap.Phase)
	assert.Equal(t, "p9", snap.ID)
}

func TestState_IdentitySurvivesSnapshots(t *testing.T) {
	s := NewState()
	s.Apply(protocol.Welcome{ID: "p1"})
	s.Apply(protocol.State{Players: []protocol.PlayerState{{ID: "p2"}}})
	s.Apply(protocol.State{Players: nil})

	snap := s.Snapshot()
	assert.Equal(t, "p1", snap.ID)
	assert.True(t, snap.HasID)
	_, ok := snap.Self()
	assert.False(t, ok)
}

func TestState_ErrorIsTerminal(t *testing.T) {
	s := NewState()
	s.Apply(protocol.State{Players: []protocol.PlayerState{{ID: "p1"}}})
	assert.True(t, s.Apply(protocol.Error{Message: "room full"}))

	assert.True(t, s.Apply(protocol.State{Players: []protocol.PlayerState{{ID: "late"}}}))
	s.MarkClosed()

	snap := s.Snapshot()
	assert.Equal(t, Failed, snap.Phase)
	assert.False(t, snap.Alive)
	require.NotNil(t, snap.Err)
	assert.Equal(t, "room full", snap.Err.Message)
	assert.Equal(t, []protocol.PlayerState{{ID: "p1"}}, snap.Players)
}

func TestState_ErrorMessageIsKeptVerbatim(t *testing.T) {
	s := NewState()
	s.Apply(protocol.Error{})
	require.NotNil(t, s.Err())
	assert.Equal(t, Failed, s.Phase())
	assert.Empty(t, s.Err().Message)
}

func TestState_ClosedHasNoError(t *testing.T) {
	s := NewState()
	s.Apply(protocol.Welcome{ID: "p1"})
	s.MarkClosed()

	snap := s.Snapshot()
	assert.Equal(t, Closed, snap.Phase)
	assert.False(t, snap.Alive)
	assert.Nil(t, snap.Err)
}

func TestState_IgnoresClientBoundKinds(t *testing.T) {
	s := NewState()
	assert.False(t, s.Apply(protocol.Input{DX: 1}))
	assert.False(t, s.Apply(protocol.Join{RoomCode: "AB12"}))
	assert.False(t, s.Apply(protocol.Unknown{Tag: "chat"}))
	assert.Equal(t, Connecting, s.Phase())
}

func TestState_SnapshotIsACopy(t *testing.T) {
	s := NewState()
	s.Apply(protocol.State{Players: []protocol.PlayerState{{ID: "p1", X: 5}}})

	snap := s.Snapshot()
	snap.Players[0].X = 999

	assert.Equal(t, 5.0, s.Snapshot().Players[0].X)
}

func TestPropertySnapshotReplacesPlayers(t *testing.T) {
	coord := rapid.Float64Range(-1000, 1000)
	player := rapid.Custom(func(t *rapid.T) protocol.PlayerState {
		return protocol.PlayerState{
			ID: rapid.StringMatching(`p[0-9]{1,2}`).Draw(t, "id"),
			X:  coord.Draw(t, "x"),
			Y:  coord.Draw(t, "y"),
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		s := NewState()
		n := rapid.IntRange(1, 20).Draw(t, "n")
		for k := 0; k < n; k++ {
			payload := rapid.SliceOfN(player, 0, 8).Draw(t, "players")
			s.Apply(protocol.State{Players: payload})

			got := s.Snapshot().Players
			if len(got) != len(payload) {
				t.Fatalf("message %d: got %d players, want %d", k, len(got), len(payload))
			}
			for i := range payload {
				if got[i] != payload[i] {
					t.Fatalf("message %d: player %d = %+v, want %+v", k, i, got[i], payload[i])
				}
			}
		}
	})
}
