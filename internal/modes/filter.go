package modes

// Filter is a per-client predicate over decoded messages. It is combined
// with other clients' filters by field-wise OR to produce the upstream
// union filter that the receiver controller sends to the device. Grounded
// on original_source/modes_filter.h/.cc.
type Filter struct {
	ReceiveDF            [32]bool
	ReceiveModeAC        bool
	ReceiveBadCRC        bool
	ReceiveFEC           bool
	ReceiveStatus        bool
	ReceiveGPSTimestamps bool
	ReceivePosition      bool
}

// Matches reports whether message m should be delivered to a client
// carrying this filter. Grounded on modes_filter.h's Filter::operator().
func (f Filter) Matches(m *Message) bool {
	switch m.Kind {
	case ModeAC:
		return f.ReceiveModeAC
	case Status:
		return f.ReceiveStatus
	case Position:
		return f.ReceivePosition
	case ModeSShort, ModeSLong:
		df := m.DF()
		if df < 0 || df >= len(f.ReceiveDF) || !f.ReceiveDF[df] {
			return false
		}
		if m.CRCBad() && !f.ReceiveBadCRC {
			return false
		}
		return true
	default:
		return false
	}
}

// Combine returns the field-wise OR of f and other: the union filter
// that a device upstream of both clients must satisfy. Combining is
// monotonic — the result always accepts everything either side accepts.
func (f Filter) Combine(other Filter) Filter {
	var out Filter
	for i := range f.ReceiveDF {
		out.ReceiveDF[i] = f.ReceiveDF[i] || other.ReceiveDF[i]
	}
	out.ReceiveModeAC = f.ReceiveModeAC || other.ReceiveModeAC
	out.ReceiveBadCRC = f.ReceiveBadCRC || other.ReceiveBadCRC
	out.ReceiveFEC = f.ReceiveFEC || other.ReceiveFEC
	out.ReceiveStatus = f.ReceiveStatus || other.ReceiveStatus
	out.ReceiveGPSTimestamps = f.ReceiveGPSTimestamps || other.ReceiveGPSTimestamps
	out.ReceivePosition = f.ReceivePosition || other.ReceivePosition
	return out
}

// Equal reports structural equality, used by UpdateClientFilter to
// suppress no-op updates.
func (f Filter) Equal(other Filter) bool {
	if f.ReceiveModeAC != other.ReceiveModeAC ||
		f.ReceiveBadCRC != other.ReceiveBadCRC ||
		f.ReceiveFEC != other.ReceiveFEC ||
		f.ReceiveStatus != other.ReceiveStatus ||
		f.ReceiveGPSTimestamps != other.ReceiveGPSTimestamps ||
		f.ReceivePosition != other.ReceivePosition {
		return false
	}
	return f.ReceiveDF == other.ReceiveDF
}
