package play

import (
	"fmt"
	"io"
	"strings"
)

// TextRenderer prints a one-line status summary every Every frames, and
// whenever the set of players changes.
type TextRenderer struct {
	W     io.Writer
	Every int64

	lastRoster string
}

// Observe implements the Loop observer.
func (r *TextRenderer) Observe(f Frame) {
	roster := rosterOf(f)
	every := r.Every
	if every <= 0 {
		every = DefaultRate
	}
	if roster == r.lastRoster && f.Seq%every != 0 {
		return
	}
	r.lastRoster = roster

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] frame=%d", f.Snapshot.Phase, f.Seq)
	if f.Snapshot.HasID {
		fmt.Fprintf(&b, " you=%s", f.Snapshot.ID)
	}
	for _, p := range f.Players {
		marker := ""
		if f.Snapshot.HasID && p.ID == f.Snapshot.ID {
			marker = "*"
		}
		fmt.Fprintf(&b, " %s%s(%.0f,%.0f)", marker, p.ID, p.X, p.Y)
	}
	if len(f.Obstacles) > 0 {
		fmt.Fprintf(&b, " obstacles=%d", len(f.Obstacles))
	}
	fmt.Fprintln(r.W, b.String())
}

func rosterOf(f Frame) string {
	ids := make([]string, len(f.Players))
	for i, p := range f.Players {
		ids[i] = p.ID
	}
	return strings.Join(ids, ",")
}
