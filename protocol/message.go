// Package protocol defines the wire messages exchanged between a racing client
// and a session host, and the newline-delimited JSON framing that carries them.
package protocol

const (
	// SessionPort is the TCP port a host accepts session streams on.
	SessionPort = 50000
	// DiscoveryPort is the UDP port a host answers discovery probes on.
	DiscoveryPort = 50001
	// DiscoverProbe is the literal datagram a client broadcasts to find sessions.
	DiscoverProbe = "DISCOVER_ROOM"
)

// Kind is the "type" tag of a message on the wire.
type Kind string

const (
	KindJoin    Kind = "join"
	KindWelcome Kind = "welcome"
	KindError   Kind = "error"
	KindState   Kind = "state"
	KindInput   Kind = "input"
)

// Message is one of Join, Welcome, Error, State, Input or Unknown.
// The set is closed: only types in this package implement it.
type Message interface {
	Kind() Kind
	message()
}

// PlayerState is the authoritative position of one player in a snapshot.
type PlayerState struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Join asks the host to admit the client to the session with the given code.
type Join struct {
	RoomCode string `json:"room_code"`
}

// Welcome assigns the client its player id.
type Welcome struct {
	ID string `json:"id"`
}

// DefaultErrorMessage stands in for an Error frame that carries no message key.
const DefaultErrorMessage = "Server not found"

// Error is a terminal rejection sent by the host.
type Error struct {
	Message string `json:"message"`
}

// State is a full snapshot of every player in the session.
type State struct {
	Players []PlayerState `json:"players"`
}

// Input is one tick of client movement intent.
type Input struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Unknown carries a frame whose tag is not recognised. Receivers ignore it.
type Unknown struct {
	Tag string
}

func (Join) Kind() Kind      { return KindJoin }
func (Welcome) Kind() Kind   { return KindWelcome }
func (Error) Kind() Kind     { return KindError }
func (State) Kind() Kind     { return KindState }
func (Input) Kind() Kind     { return KindInput }
func (u Unknown) Kind() Kind { return Kind(u.Tag) }

func (Join) message()    {}
func (Welcome) message() {}
func (Error) message()   {}
func (State) message()   {}
func (Input) message()   {}
func (Unknown) message() {}
