package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanrace/protocol"
)

func newTestManager(t *testing.T, s Settings) *RoomManager {
	t.Helper()
	m := NewRoomManager(s, 5*time.Millisecond, zaptest.NewLogger(t))
	t.Cleanup(m.Close)
	return m
}

func TestCreateRoomUsesShortUppercaseCodes(t *testing.T) {
	m := newTestManager(t, testSettings())
	for i := 0; i < 20; i++ {
		r := m.CreateRoom("lobby")
		assert.True(t, protocol.ValidSessionCode(r.Code), r.Code)
		assert.Len(t, r.Code, protocol.MaxSessionCodeLen)
		assert.Equal(t, strings.ToUpper(r.Code), r.Code)
	}
	assert.Len(t, m.Rooms(), 20)
}

func TestRoomLookupIgnoresCase(t *testing.T) {
	m := newTestManager(t, testSettings())
	r, err := m.GetOrCreateRoom("zk9q")
	require.NoError(t, err)
	assert.Equal(t, "ZK9Q", r.Code)

	got, ok := m.Room("Zk9Q")
	require.True(t, ok)
	assert.Same(t, r, got)

	again, err := m.GetOrCreateRoom("ZK9Q")
	require.NoError(t, err)
	assert.Same(t, r, again)

	_, ok = m.Room("NOPE")
	assert.False(t, ok)
}

func TestGetOrCreateRoomRejectsBadCodes(t *testing.T) {
	m := newTestManager(t, testSettings())
	for _, code := range []string{"", "TOOLONG", "A-B"} {
		_, err := m.GetOrCreateRoom(code)
		assert.Error(t, err, code)
	}
	assert.Empty(t, m.Rooms())
}

func TestDefaultRoomIsTheFirstOpened(t *testing.T) {
	m := newTestManager(t, testSettings())
	_, ok := m.Default()
	assert.False(t, ok)

	first := m.CreateRoom("one")
	m.CreateRoom("two")
	got, ok := m.Default()
	require.True(t, ok)
	assert.Same(t, first, got)

	require.True(t, m.CloseRoom(first.Code))
	_, ok = m.Default()
	assert.False(t, ok)
}

func TestRoomsAreSortedByCode(t *testing.T) {
	m := newTestManager(t, testSettings())
	for _, code := range []string{"CCCC", "AAAA", "BBBB"} {
		_, err := m.GetOrCreateRoom(code)
		require.NoError(t, err)
	}
	var codes []string
	for _, r := range m.Rooms() {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{"AAAA", "BBBB", "CCCC"}, codes)
}

func TestSessionsListOnlyJoinableRooms(t *testing.T) {
	s := testSettings()
	s.Capacity = 1
	m := newTestManager(t, s)
	open, err := m.GetOrCreateRoom("OPEN")
	require.NoError(t, err)
	full, err := m.GetOrCreateRoom("FULL")
	require.NoError(t, err)

	cc, _ := newTestConn(64)
	_, err = full.Join(cc)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return full.PlayerCount() == 1 }, time.Second, 5*time.Millisecond)
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, open.Code, sessions[0].SessionCode)
	assert.Equal(t, 0, sessions[0].Players)
	assert.Equal(t, 1, sessions[0].Capacity)
}

func TestCloseStopsEveryRoom(t *testing.T) {
	m := NewRoomManager(testSettings(), 5*time.Millisecond, zaptest.NewLogger(t))
	r := m.CreateRoom("x")
	cc, w := newTestConn(64)
	_, err := r.Join(cc)
	require.NoError(t, err)

	m.Close()
	assert.Empty(t, m.Rooms())
	assert.True(t, w.isClosed())
	assert.False(t, m.CloseRoom(r.Code))
}

func TestNewPlayerIDIsShortAndUnique(t *testing.T) {
	seen := make(map[PlayerID]bool)
	for i := 0; i < 100; i++ {
		id := NewPlayerID()
		assert.Len(t, string(id), 8)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
