// Package modes implements the decoded Mode-S/Mode-AC message value,
// its CRC residual and single-bit correction, the client Filter predicate,
// and the FilterDistributor fan-out registry.
package modes

import "fmt"

// MessageType identifies the kind of a decoded message.
type MessageType int

const (
	Invalid MessageType = iota
	ModeAC
	ModeSShort
	ModeSLong
	Status
	Position
)

func (t MessageType) String() string {
	switch t {
	case ModeAC:
		return "MODE_AC"
	case ModeSShort:
		return "MODE_S_SHORT"
	case ModeSLong:
		return "MODE_S_LONG"
	case Status:
		return "STATUS"
	case Position:
		return "POSITION"
	default:
		return "INVALID"
	}
}

// PayloadSize returns the expected length of Message.Payload for a
// message of the given type. For every kind but Position this is the
// wire data length following the 7-byte metadata prefix (timestamp +
// signal), which the Framer strips into Message.Timestamp/Message.Signal.
// Position is the exception: the Framer promotes its 7 metadata bytes to
// the front of the payload instead of consuming them as a timestamp (see
// Framer's handling of Position), so its Payload is 7+14 = 21 bytes.
func PayloadSize(t MessageType) int {
	switch t {
	case ModeAC:
		return 2
	case ModeSShort:
		return 7
	case ModeSLong:
		return 14
	case Status:
		return 14
	case Position:
		return 21
	default:
		return 0
	}
}

// WireDataLen returns the number of body bytes following the 7-byte
// metadata prefix on the wire, for the given kind.
func WireDataLen(t MessageType) int {
	switch t {
	case ModeAC:
		return 2
	case ModeSShort:
		return 7
	case ModeSLong, Status, Position:
		return 14
	default:
		return 0
	}
}

// TimestampDomain identifies which clock a Message's Timestamp was taken from.
type TimestampDomain int

const (
	TimestampUnknown TimestampDomain = iota
	TwelveMHz
	GPS
)

// residualSentinel marks a not-yet-computed CRC residual; see crc.go.
const residualSentinel = 0xFFFFFFFF

// Message is an immutable decoded Beast-framed message.
type Message struct {
	Kind      MessageType
	Domain    TimestampDomain
	Timestamp uint64
	Signal    uint8
	Payload   []byte

	residual uint32 // lazily computed, residualSentinel until then
}

// NewMessage constructs a Message, validating that Payload has the
// length expected for Kind.
func NewMessage(kind MessageType, domain TimestampDomain, timestamp uint64, signal uint8, payload []byte) (Message, error) {
	if len(payload) != PayloadSize(kind) {
		return Message{}, fmt.Errorf("modes: %s payload is %d bytes, want %d", kind, len(payload), PayloadSize(kind))
	}
	return Message{
		Kind:      kind,
		Domain:    domain,
		Timestamp: timestamp,
		Signal:    signal,
		Payload:   payload,
		residual:  residualSentinel,
	}, nil
}

// DF returns the downlink format (upper 5 bits of the first payload byte)
// for Mode-S messages, or -1 for other message kinds.
func (m Message) DF() int {
	switch m.Kind {
	case ModeSShort, ModeSLong:
		return int(m.Payload[0]>>3) & 31
	default:
		return -1
	}
}
