package beast

import "github.com/flightaware/beast-splitter/internal/modes"

// State is a Framer parser phase.
type State int

const (
	Resync State = iota
	Read1A
	ReadType
	ReadData
	ReadEscaped1A
)

func (s State) String() string {
	switch s {
	case Resync:
		return "Resync"
	case Read1A:
		return "Read1A"
	case ReadType:
		return "ReadType"
	case ReadData:
		return "ReadData"
	case ReadEscaped1A:
		return "ReadEscaped1A"
	default:
		return "Unknown"
	}
}

func messageTypeFromByte(b byte) modes.MessageType {
	switch b {
	case 0x31:
		return modes.ModeAC
	case 0x32:
		return modes.ModeSShort
	case 0x33:
		return modes.ModeSLong
	case 0x34:
		return modes.Status
	case 0x35:
		return modes.Position
	default:
		return modes.Invalid
	}
}

// Framer is the Beast protocol byte-stream decoder: a state machine that
// consumes raw (possibly fragmented across many Feed calls) bytes and
// emits complete, un-escaped messages, tracking sync-quality telemetry
// used by autobaud and liveness checks. Grounded on
// original_source/beast_input.cc's parse_input/dispatch_message, recast
// into spec.md's 5 named states.
type Framer struct {
	state State
	kind  modes.MessageType

	// body accumulates the un-escaped bytes of the message currently
	// being assembled: 7 bytes of metadata followed by the kind's wire
	// data length.
	body    []byte
	needLen int

	// resyncSawNonSync remembers, across Feed calls, whether the most
	// recently consumed byte while scanning for sync was something other
	// than 0x1A — the candidate first half of a "not-1A then 1A" pair.
	resyncSawNonSync bool

	GoodSync     bool
	GoodMessages int
	BadBytes     int

	// timestampDomain is the clock the upstream receiver is currently
	// understood to be timestamping non-Position messages from, per the
	// most recently decoded Status message's gps_timestamps bit. It
	// starts, and resets on reconnect to, TwelveMHz — every Beast and
	// Radarcape defaults to the 12MHz free-running clock until a Status
	// message proves otherwise.
	timestampDomain modes.TimestampDomain
}

// NewFramer returns a Framer ready to decode bytes from a freshly
// (re)connected transport.
func NewFramer() *Framer {
	return &Framer{state: Read1A, timestampDomain: modes.TwelveMHz}
}

// Reset returns the Framer to its post-connect state, discarding any
// partially assembled message. Called on reconnect and on autobaud rate
// change.
func (f *Framer) Reset() {
	*f = Framer{state: Read1A, timestampDomain: modes.TwelveMHz}
}

// SetTimestampDomain changes the domain emitted for subsequently decoded
// non-Position messages. The Controller calls this from the Status
// message's gps_timestamps bit, so every message emitted carries the
// receiver's actual current timestamp domain rather than an assumed one.
func (f *Framer) SetTimestampDomain(domain modes.TimestampDomain) {
	f.timestampDomain = domain
}

func (f *Framer) loseSync() {
	f.GoodSync = false
	f.GoodMessages = 0
	f.state = Resync
	f.resyncSawNonSync = false
	f.body = nil
}

func (f *Framer) startBody(kind modes.MessageType) {
	f.kind = kind
	f.needLen = 7 + modes.WireDataLen(kind)
	f.body = make([]byte, 0, f.needLen)
	f.state = ReadData
}

// emit finalizes the assembled body into a Message and appends it to out.
func (f *Framer) emit(out []modes.Message) []modes.Message {
	f.GoodSync = true
	f.GoodMessages++
	f.BadBytes = 0

	var payload []byte
	var timestamp uint64
	var signal uint8
	var domain modes.TimestampDomain

	if f.kind == modes.Position {
		payload = f.body
		domain = modes.TimestampUnknown
	} else {
		metadata := f.body[:7]
		timestamp = uint64(metadata[0])<<40 | uint64(metadata[1])<<32 | uint64(metadata[2])<<24 |
			uint64(metadata[3])<<16 | uint64(metadata[4])<<8 | uint64(metadata[5])
		signal = metadata[6]
		payload = f.body[7:]
		domain = f.timestampDomain
	}

	msg, err := modes.NewMessage(f.kind, domain, timestamp, signal, payload)
	if err == nil {
		out = append(out, msg)
	}

	f.body = nil
	f.state = Read1A
	return out
}

// Feed decodes data, returning every complete message decoded from it
// (bytes from prior Feed calls that left a message in progress are
// accounted for automatically). The returned slice aliases no part of
// data; each Message's Payload is an independently owned slice.
func (f *Framer) Feed(data []byte) []modes.Message {
	var out []modes.Message
	i := 0
	n := len(data)

	for i < n {
		switch f.state {
		case Resync:
			for i < n {
				b := data[i]
				if b == 0x1A && f.resyncSawNonSync {
					i++
					f.state = ReadType
					f.resyncSawNonSync = false
					break
				}
				f.resyncSawNonSync = (b != 0x1A)
				f.BadBytes++
				i++
			}

		case Read1A:
			b := data[i]
			i++
			if b == 0x1A {
				f.state = ReadType
			} else {
				f.BadBytes++
				f.loseSync()
				// b itself is the first byte of the next resync scan.
				f.resyncSawNonSync = true
			}

		case ReadType:
			b := data[i]
			i++
			kind := messageTypeFromByte(b)
			if kind == modes.Invalid {
				f.BadBytes++
				f.loseSync()
				continue
			}
			f.startBody(kind)

		case ReadData:
			for i < n && len(f.body) < f.needLen {
				b := data[i]
				if b == 0x1A {
					if i+1 == n {
						// Escape byte is the last byte of this chunk;
						// suspend until more data arrives.
						i++
						f.state = ReadEscaped1A
						break
					}
					if data[i+1] == 0x1A {
						f.body = append(f.body, 0x1A)
						i += 2
						continue
					}
					// 0x1A not followed by 0x1A: sync loss.
					i++
					f.BadBytes++
					f.loseSync()
					break
				}
				f.body = append(f.body, b)
				i++
			}
			if f.state == ReadData && len(f.body) >= f.needLen {
				out = f.emit(out)
			}

		case ReadEscaped1A:
			b := data[i]
			i++
			if b != 0x1A {
				f.BadBytes++
				f.loseSync()
				f.resyncSawNonSync = true
				continue
			}
			f.body = append(f.body, 0x1A)
			if len(f.body) >= f.needLen {
				out = f.emit(out)
			} else {
				f.state = ReadData
			}
		}
	}

	return out
}
