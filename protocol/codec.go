package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnencodable is returned when Encode is handed an Unknown message.
var ErrUnencodable = errors.New("message kind cannot be encoded")

// FrameError reports a frame that is not a valid message. It means the stream
// is corrupt and the connection must be dropped.
type FrameError struct {
	Frame []byte
	Err   error
}

func (e *FrameError) Error() string {
	frame := e.Frame
	if len(frame) > 64 {
		frame = frame[:64]
	}
	return fmt.Sprintf("malformed frame %q: %v", frame, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Encode serialises m as a single JSON object followed by a newline.
func Encode(m Message) ([]byte, error) {
	var payload any
	switch v := m.(type) {
	case Join:
		payload = struct {
			Type Kind `json:"type"`
			Join
		}{KindJoin, v}
	case Welcome:
		payload = struct {
			Type Kind `json:"type"`
			Welcome
		}{KindWelcome, v}
	case Error:
		payload = struct {
			Type Kind `json:"type"`
			Error
		}{KindError, v}
	case State:
		if v.Players == nil {
			v.Players = []PlayerState{}
		}
		payload = struct {
			Type Kind `json:"type"`
			State
		}{KindState, v}
	case Input:
		payload = struct {
			Type Kind `json:"type"`
			Input
		}{KindInput, v}
	default:
		return nil, fmt.Errorf("encoding %T: %w", m, ErrUnencodable)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Kind(), err)
	}
	return append(b, '\n'), nil
}

// Decode parses one frame (without its trailing newline).
// Unrecognised tags decode to Unknown; anything that is not a JSON object, or a
// known tag with badly shaped fields, is a *FrameError.
func Decode(frame []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}
	if fields == nil {
		return nil, &FrameError{Frame: frame, Err: errors.New("frame is not an object")}
	}

	var tag string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, &FrameError{Frame: frame, Err: fmt.Errorf("type tag: %w", err)}
		}
	}

	switch Kind(strings.ToLower(tag)) {
	case KindJoin:
		return decodeAs[Join](frame)
	case KindWelcome:
		return decodeAs[Welcome](frame)
	case KindError:
		if _, ok := fields["message"]; !ok {
			return Error{Message: DefaultErrorMessage}, nil
		}
		return decodeAs[Error](frame)
	case KindState:
		return decodeAs[State](frame)
	case KindInput:
		return decodeAs[Input](frame)
	case "":
		// untagged {"dx":..,"dy":..} frames are inputs from older clients
		_, hasDX := fields["dx"]
		_, hasDY := fields["dy"]
		if hasDX || hasDY {
			return decodeAs[Input](frame)
		}
	}
	return Unknown{Tag: tag}, nil
}

func decodeAs[T Message](frame []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(frame, &v); err != nil {
		return nil, &FrameError{Frame: frame, Err: err}
	}
	return v, nil
}
