package play

import (
	"bytes"
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"lanrace/protocol"
	"lanrace/session"
)

type fakeSession struct {
	mu     sync.Mutex
	snap   session.Snapshot
	inputs [][2]float64
	done   chan struct{}
}

func newFakeSession(snap session.Snapshot) *fakeSession {
	return &fakeSession{snap: snap, done: make(chan struct{})}
}

func (f *fakeSession) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) SendInput(dx, dy float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, [2]float64{dx, dy})
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) set(snap session.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func (f *fakeSession) sent() [][2]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]float64(nil), f.inputs...)
}

func streaming(players ...protocol.PlayerState) session.Snapshot {
	return session.Snapshot{Phase: session.Streaming, ID: "me", HasID: true, Players: players, Alive: true}
}

func runAsync(l *Loop, ctx context.Context) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() { ch <- l.Run(ctx) }()
	return ch
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not end")
		return Outcome{}
	}
}

func TestLoopQuitsOnCancel(t *testing.T) {
	s := newFakeSession(streaming())
	ctx, cancel := context.WithCancel(context.Background())
	ch := runAsync(&Loop{Conn: s, Rate: 200}, ctx)

	require.Eventually(t, func() bool { return len(s.sent()) > 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.Equal(t, Quit, await(t, ch).Kind)
}

func TestLoopSendsInputEveryFrameEvenWhenIdle(t *testing.T) {
	s := newFakeSession(streaming())
	keys := &KeyState{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := runAsync(&Loop{Conn: s, Rate: 200, Input: keys}, ctx)

	require.Eventually(t, func() bool { return len(s.sent()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	keys.Set(Keys{Left: true, Down: true})
	require.Eventually(t, func() bool {
		sent := s.sent()
		return sent[len(sent)-1] == [2]float64{-Step, Step}
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	await(t, ch)

	assert.Equal(t, [2]float64{0, 0}, s.sent()[0])
}

func TestLoopReportsRejection(t *testing.T) {
	s := newFakeSession(streaming())
	ch := runAsync(&Loop{Conn: s, Rate: 200}, context.Background())

	s.set(session.Snapshot{Phase: session.Failed, Err: &session.ConnectionError{Message: "Room full"}})
	o := await(t, ch)
	assert.Equal(t, Rejected, o.Kind)
	assert.Equal(t, "Room full", o.Message)
}

func TestLoopReportsDropWhenStreamEnds(t *testing.T) {
	s := newFakeSession(streaming())
	ch := runAsync(&Loop{Conn: s, Rate: 1}, context.Background())

	s.set(session.Snapshot{Phase: session.Closed})
	close(s.done)
	o := await(t, ch)
	assert.Equal(t, Dropped, o.Kind)
	assert.Empty(t, o.Message)
}

func TestLoopObserverSeesClampedPlayers(t *testing.T) {
	raw := protocol.PlayerState{ID: "me", X: 900, Y: -20}
	s := newFakeSession(streaming(raw))
	frames := make(chan Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := runAsync(&Loop{
		Conn: s,
		Rate: 200,
		Observe: func(f Frame) {
			select {
			case frames <- f:
			default:
			}
		},
	}, ctx)

	f := <-frames
	cancel()
	await(t, ch)

	require.Len(t, f.Players, 1)
	assert.Equal(t, protocol.PlayerState{ID: "me", X: 740, Y: 0}, f.Players[0])
	assert.Equal(t, raw, f.Snapshot.Players[0], "snapshot keeps the host's values")
	assert.EqualValues(t, 1, f.Seq)
}

func TestKeysVectorPrecedence(t *testing.T) {
	dx, dy := Keys{Left: true, Right: true, Up: true, Down: true}.Vector()
	assert.Equal(t, float64(Step), dx)
	assert.Equal(t, float64(Step), dy)

	dx, dy = Keys{}.Vector()
	assert.Zero(t, dx)
	assert.Zero(t, dy)
}

func TestParseKeys(t *testing.T) {
	assert.Equal(t, Keys{Up: true, Right: true}, ParseKeys("wd"))
	assert.Equal(t, Keys{Left: true, Down: true}, ParseKeys("left down"))
	assert.Equal(t, Keys{Up: true}, ParseKeys("UP"))
	assert.Equal(t, Keys{}, ParseKeys("xyz"))
}

func TestReadKeys(t *testing.T) {
	var ks KeyState
	err := ReadKeys(strings.NewReader("w\n\nad\n"), &ks)
	require.NoError(t, err)
	assert.Equal(t, Keys{Left: true, Right: true}, ks.Keys())

	err = ReadKeys(strings.NewReader("s\nq\nw\n"), &ks)
	assert.ErrorIs(t, err, ErrQuit)
	assert.Equal(t, Keys{}, ks.Keys())
}

func TestCourseSpawnsAndScrolls(t *testing.T) {
	c := NewCourse(DefaultPlayfield, rand.New(rand.NewPCG(1, 2)))
	for i := 0; i < 29; i++ {
		c.Step()
	}
	assert.Empty(t, c.Obstacles())

	c.Step()
	obs := c.Obstacles()
	require.Len(t, obs, 1)
	assert.Equal(t, -obstacleHeight+c.Speed, obs[0].Y)
	assert.GreaterOrEqual(t, obs[0].X, 0.0)
	assert.LessOrEqual(t, obs[0].X, DefaultPlayfield.Width)

	c.SpawnEvery = 0
	for i := 0; i < 400; i++ {
		c.Step()
	}
	assert.Empty(t, c.Obstacles(), "obstacles leave the screen")
}

func TestPropertyClampStaysInBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := Playfield{
			Width:  rapid.Float64Range(1, 2000).Draw(t, "w"),
			Height: rapid.Float64Range(1, 2000).Draw(t, "h"),
		}
		p := protocol.PlayerState{
			ID: "p",
			X:  rapid.Float64Range(-5000, 5000).Draw(t, "x"),
			Y:  rapid.Float64Range(-5000, 5000).Draw(t, "y"),
		}
		c := Clamp(p, f)
		if c.X < 0 || c.X > f.Width || c.Y < 0 || c.Y > f.Height {
			t.Fatalf("clamped %v out of %v", c, f)
		}
		if p.X >= 0 && p.X <= f.Width && c.X != p.X {
			t.Fatalf("in-bounds x changed: %v -> %v", p.X, c.X)
		}
		if c.ID != p.ID {
			t.Fatalf("id changed")
		}
	})
}

func TestTextRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{W: &buf, Every: 100}
	snap := streaming(protocol.PlayerState{ID: "me", X: 10, Y: 20}, protocol.PlayerState{ID: "p2", X: 30, Y: 40})
	f := Frame{Seq: 1, Snapshot: snap, Players: snap.Players}

	r.Observe(f)
	f.Seq = 2
	r.Observe(f)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "unchanged roster is throttled")
	assert.Contains(t, lines[0], "*me(10,20)")
	assert.Contains(t, lines[0], "p2(30,40)")
	assert.Contains(t, lines[0], "you=me")
}
