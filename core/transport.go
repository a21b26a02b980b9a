package core

import "github.com/jabolina/must-go/types"

// TokenKind is the reserved record kind of spec.md §4.2's framed
// protocol: ordinary application-derived records plus the control tokens
// that steer the pipeline.
type TokenKind int

const (
	TokenMsg TokenKind = iota
	TokenSync
	TokenShutdown
	TokenNotifyPanic
	TokenFlush
	TokenAck
	TokenSnapshot
)

func (k TokenKind) String() string {
	switch k {
	case TokenMsg:
		return "MSG"
	case TokenSync:
		return "SYNC"
	case TokenShutdown:
		return "SHUTDOWN"
	case TokenNotifyPanic:
		return "NOTIFY_PANIC"
	case TokenFlush:
		return "FLUSH"
	case TokenAck:
		return "ACK"
	case TokenSnapshot:
		return "SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// Direction is the axis a Record travels along the TBON: up towards the
// root, down towards a child, or intra among the peers of one partition
// (spec.md §4.2 "up/down/intra directions").
type Direction int

const (
	DirUp Direction = iota
	DirDown
	DirIntra
)

// Record is one framed unit of C2's wire protocol: a token plus its
// payload, grounded on the teacher's types.Message envelope
// (transport.go's json.Marshal(message)/json.Unmarshal(recv.Data, &m)).
type Record struct {
	Token     TokenKind
	Direction Direction
	Origin    string
	Target    string // empty unless Direction == DirDown with a specific child
	Payload   []byte
}

// Transport implements C1: the raw delivery primitive beneath C2's
// framing and aggregation, grounded on the teacher's Transport interface
// in core/transport.go (Broadcast/Unicast/Listen/Close).
type Transport interface {
	// SendUp delivers rec to this node's parent.
	SendUp(rec Record) error

	// SendDown delivers rec to one specific child.
	SendDown(child string, rec Record) error

	// BroadcastDown delivers rec to every child.
	BroadcastDown(rec Record) error

	// Listen exposes every record arriving at this node, from parent or
	// children alike.
	Listen() <-chan Record

	Close() error
}

// EventCodec marshals/unmarshals the inbound event set of spec.md §6 for
// transport over Record.Payload. A thin seam so C2 never depends on a
// specific serialization library directly.
type EventCodec interface {
	Encode(types.Event) ([]byte, error)
	Decode(kind string, data []byte) (types.Event, error)

	// EncodeAck/DecodeAck marshal the C9/C10 snapshot control plane's
	// payload: a TokenSnapshot request carries just the epoch, a TokenAck
	// reply carries a node's in-flight byte count and WfgShard
	// contribution (spec.md §4.10).
	EncodeAck(AckPayload) ([]byte, error)
	DecodeAck(data []byte) (AckPayload, error)
}

// AckPayload is the wire body of both TokenSnapshot (root asking every
// node to report) and TokenAck (a node's report back) records.
type AckPayload struct {
	Epoch         uint64
	InFlightBytes int
	Shards        []types.WfgShard
}
