package play

import (
	"math/rand/v2"

	"lanrace/protocol"
)

// Playfield is the drawable area player positions are bounded to.
type Playfield struct {
	Width  float64
	Height float64
}

// DefaultPlayfield matches the host's default room size.
var DefaultPlayfield = Playfield{Width: 740, Height: 660}

// Clamp bounds p to the playfield for drawing. The host stays authoritative;
// the session state itself is never clamped.
func Clamp(p protocol.PlayerState, f Playfield) protocol.PlayerState {
	p.X = max(0, min(p.X, f.Width))
	p.Y = max(0, min(p.Y, f.Height))
	return p
}

// Obstacle is a purely local hazard scrolling down the track.
type Obstacle struct {
	X, Y          float64
	Width, Height float64
}

// Course spawns and scrolls obstacles. It is local decoration and is not
// shared with other players.
type Course struct {
	SpawnEvery int     // frames between spawns
	Speed      float64 // pixels per frame
	Field      Playfield

	rng       *rand.Rand
	counter   int
	obstacles []Obstacle
}

const (
	obstacleWidth  = 60
	obstacleHeight = 40
)

// NewCourse returns a course with the classic spawn cadence. rng may be nil.
func NewCourse(field Playfield, rng *rand.Rand) *Course {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Course{SpawnEvery: 30, Speed: 3, Field: field, rng: rng}
}

// Step advances the course by one frame.
func (c *Course) Step() {
	c.counter++
	if c.SpawnEvery > 0 && c.counter >= c.SpawnEvery {
		c.counter = 0
		c.obstacles = append(c.obstacles, Obstacle{
			X:      float64(c.rng.IntN(int(c.Field.Width) + 1)),
			Y:      -obstacleHeight,
			Width:  obstacleWidth,
			Height: obstacleHeight,
		})
	}
	kept := c.obstacles[:0]
	for _, o := range c.obstacles {
		o.Y += c.Speed
		if o.Y <= c.Field.Height+obstacleHeight {
			kept = append(kept, o)
		}
	}
	c.obstacles = kept
}

// Obstacles returns a copy of the obstacles on screen.
func (c *Course) Obstacles() []Obstacle {
	out := make([]Obstacle, len(c.obstacles))
	copy(out, c.obstacles)
	return out
}
