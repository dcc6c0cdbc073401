package play

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
)

// Step is how far one held key moves the player per frame.
const Step = 5

// ErrQuit is returned by ReadKeys when the player asks to leave.
var ErrQuit = errors.New("quit requested")

// InputSource yields the movement intent for the current frame.
type InputSource interface {
	Poll() (dx, dy float64)
}

// InputFunc adapts a function into an InputSource.
type InputFunc func() (dx, dy float64)

func (f InputFunc) Poll() (dx, dy float64) { return f() }

// Keys is the set of direction keys held down.
type Keys struct {
	Left, Right, Up, Down bool
}

// Vector turns held keys into a movement. When opposite keys are both held,
// right wins over left and down wins over up.
func (k Keys) Vector() (dx, dy float64) {
	if k.Left {
		dx = -Step
	}
	if k.Right {
		dx = Step
	}
	if k.Up {
		dy = -Step
	}
	if k.Down {
		dy = Step
	}
	return dx, dy
}

// ParseKeys reads a held-key set from text such as "wd" or "left up".
// Unrecognised characters are ignored.
func ParseKeys(s string) Keys {
	var k Keys
	s = strings.ToLower(s)
	for _, word := range []struct {
		name string
		set  *bool
	}{{"left", &k.Left}, {"right", &k.Right}, {"up", &k.Up}, {"down", &k.Down}} {
		if strings.Contains(s, word.name) {
			*word.set = true
			s = strings.ReplaceAll(s, word.name, "")
		}
	}
	for _, r := range s {
		switch r {
		case 'a':
			k.Left = true
		case 'd':
			k.Right = true
		case 'w':
			k.Up = true
		case 's':
			k.Down = true
		}
	}
	return k
}

// KeyState is an InputSource whose keys are set from another goroutine.
type KeyState struct {
	mu   sync.Mutex
	keys Keys
}

func (s *KeyState) Set(k Keys) {
	s.mu.Lock()
	s.keys = k
	s.mu.Unlock()
}

func (s *KeyState) Keys() Keys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

func (s *KeyState) Poll() (dx, dy float64) { return s.Keys().Vector() }

// ReadKeys feeds line-based key input from r into s. Each line replaces the
// held set; a blank line releases every key and "q" quits. It returns nil at
// end of input.
func ReadKeys(r io.Reader, s *KeyState) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "q" || line == "quit" {
			s.Set(Keys{})
			return ErrQuit
		}
		s.Set(ParseKeys(line))
	}
	return sc.Err()
}
