package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxSessionCodeLen is the longest session code a host may advertise.
const MaxSessionCodeLen = 4

// SessionDescriptor advertises one joinable session on the local network.
type SessionDescriptor struct {
	HostAddress string `json:"host_address"`
	SessionCode string `json:"session_code"`
	Name        string `json:"name,omitempty"`
	Players     int    `json:"players"`
	Capacity    int    `json:"capacity,omitempty"`

	// Source is the address the reply datagram came from. Not sent on the wire.
	Source string `json:"-"`
}

// Key identifies a session across repeated replies.
func (d SessionDescriptor) Key() string {
	return d.HostAddress + "/" + d.SessionCode
}

// UnmarshalJSON accepts both the current keys and the older host/room_code pair.
func (d *SessionDescriptor) UnmarshalJSON(b []byte) error {
	type plain SessionDescriptor
	var v struct {
		plain
		Host     string `json:"host"`
		RoomCode string `json:"room_code"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*d = SessionDescriptor(v.plain)
	if d.HostAddress == "" {
		d.HostAddress = v.Host
	}
	if d.SessionCode == "" {
		d.SessionCode = v.RoomCode
	}
	return nil
}

// ParseDescriptor decodes a discovery reply and checks its session code.
func ParseDescriptor(payload []byte) (SessionDescriptor, error) {
	var d SessionDescriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return SessionDescriptor{}, fmt.Errorf("decoding descriptor: %w", err)
	}
	if !ValidSessionCode(d.SessionCode) {
		return SessionDescriptor{}, fmt.Errorf("invalid session code %q", d.SessionCode)
	}
	return d, nil
}

// ValidSessionCode reports whether code is 1-4 ASCII letters or digits.
func ValidSessionCode(code string) bool {
	if code == "" || len(code) > MaxSessionCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
