// Package client implements the per-connection downstream session: the
// output format negotiation, inbound option-command parsing, timestamp
// conversion, and write coalescing described by spec.md §4.5. Grounded
// on original_source/beast_output.cc's SocketOutput.
package client

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/modes"
)

// Format is a client's negotiated outbound wire format.
type Format int

const (
	Binary Format = iota
	AVR
	AVRMLAT
)

func messageTypeToByte(k modes.MessageType) byte {
	switch k {
	case modes.ModeAC:
		return 0x31
	case modes.ModeSShort:
		return 0x32
	case modes.ModeSLong:
		return 0x33
	case modes.Status:
		return 0x34
	case modes.Position:
		return 0x35
	default:
		return 0
	}
}

type commandState int

const (
	cmdFind1A commandState = iota
	cmdRead31
	cmdReadOption
)

// Session is one downstream client's negotiated state: its Settings
// (format + filter-affecting tri-states), the upstream receiver
// variant it was negotiated against, and its output buffer.
//
// A Session implements modes.Client so it can be registered directly
// with a FilterDistributor; Deliver is called synchronously from the
// engine goroutine that owns the distributor, so Session itself must
// never block there — writes are handed off to a dedicated flush
// goroutine via a coalescing buffer (spec.md §4.5, §5 resource policy).
type Session struct {
	Settings          beast.Settings
	UpstreamRadarcape bool

	// OnSettingsChanged is invoked once after a full inbound buffer has
	// been scanned and at least one recognized option command was in it
	// (whether or not it changed the value), so the caller can push the
	// new Filter to the distributor.
	OnSettingsChanged func(modes.Filter)
	// OnClose is invoked once, from whichever goroutine first calls
	// Close: the flush goroutine when a write fails, the inbound reader
	// when a read fails, or the owner on shutdown. The caller is expected to deliver a
	// remove-client event back to the engine goroutine that owns the
	// distributor — Close itself must not touch the distributor.
	OnClose func()

	// SynthesizeStatus enables the synthetic status-message generator
	// (off by default, not reachable from the CLI surface): every
	// second on a Binary connection it fabricates a Status message
	// extrapolated from the last real message's timestamp plus elapsed
	// wall time, so a client that expects periodic Status traffic on a
	// plain Beast (non-Radarcape) upstream still sees some. Grounded on
	// original_source/beast_output.cc's send_synthetic_status_message.
	SynthesizeStatus bool

	receivingGPS bool
	cmdState     commandState

	lastMessageTimestamp uint64
	lastMessageClock     time.Time

	w            io.Writer
	mu           sync.Mutex
	pending      []byte
	flushTrigger chan struct{}
	closeOnce    sync.Once
	synthStop    chan struct{}
}

// synthesizeStatusDefault keeps "off by default" structural rather than
// behavioral: NewSession never sets Session.SynthesizeStatus, and no
// flag in cmd/beast-splitter ever does either.
const synthesizeStatusDefault = false

// NewSession wraps w (the connection's writer) into a Session with the
// given initial settings and starts its flush goroutine.
func NewSession(w io.Writer, initial beast.Settings, upstreamRadarcape bool) *Session {
	s := &Session{
		Settings:          initial,
		UpstreamRadarcape: upstreamRadarcape,
		SynthesizeStatus:  synthesizeStatusDefault,
		w:                 w,
		flushTrigger:      make(chan struct{}, 1),
	}
	go s.flushLoop()
	return s
}

// StartSynthesizer begins the synthetic status-message ticker if
// SynthesizeStatus is set; a no-op otherwise. Call at most once.
func (s *Session) StartSynthesizer() {
	if !s.SynthesizeStatus {
		return
	}
	s.synthStop = make(chan struct{})
	go s.synthesizeLoop()
}

func (s *Session) synthesizeLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.synthStop:
			return
		case <-ticker.C:
			s.deliverSyntheticStatus()
		}
	}
}

// deliverSyntheticStatus fabricates a Status message extrapolated from
// the last real message seen, per beast_output.cc's
// send_synthetic_status_message: new-format GPS-emulation byte, and a
// timestamp advanced by elapsed wall time since that last message.
func (s *Session) deliverSyntheticStatus() {
	if s.Format() != Binary || s.lastMessageTimestamp == 0 {
		return
	}

	elapsed := time.Since(s.lastMessageClock)
	var ts uint64
	if s.Settings.GPSTimestamps.Resolve(true) {
		lastSeconds := s.lastMessageTimestamp >> 30
		lastNanos := s.lastMessageTimestamp & ((1 << 30) - 1)
		nsElapsed := uint64(elapsed.Nanoseconds())
		nanos := lastNanos + nsElapsed%1_000_000_000
		if nanos >= 1_000_000_000 {
			nanos -= 1_000_000_000
			lastSeconds++
		}
		seconds := (lastSeconds + nsElapsed/1_000_000_000) % 86400
		ts = (seconds << 30) | nanos
	} else {
		ts = s.lastMessageTimestamp + uint64(elapsed.Nanoseconds())*12/1000
	}

	payload := make([]byte, 14)
	payload[0] = s.Settings.ToStatusByte()
	payload[2] = 0xA0 // new format, emulation active, GPS generally hosed

	s.enqueue(s.encode(modes.Status, ts, 0, payload))
}

// Format resolves the session's negotiated output format: binary if
// BinaryFormat is on, else AVR-MLAT if AVRMLAT is on, else plain AVR.
func (s *Session) Format() Format {
	switch {
	case s.Settings.BinaryFormat.IsOn():
		return Binary
	case s.Settings.AVRMLAT.IsOn():
		return AVRMLAT
	default:
		return AVR
	}
}

// Filter is the modes.Filter this session's negotiated Settings select.
func (s *Session) Filter() modes.Filter {
	return s.Settings.ToFilter()
}

// HandleInbound scans data for 1A 31 X option commands, applying each
// recognized option; after the whole buffer has been scanned, fires
// OnSettingsChanged at most once if any recognized option was applied. Grounded on
// beast_output.cc's handle_command/handle_option_command.
func (s *Session) HandleInbound(data []byte) {
	changed := false
	for _, b := range data {
		switch s.cmdState {
		case cmdFind1A:
			if b == 0x1A {
				s.cmdState = cmdRead31
			}
		case cmdRead31:
			if b == 0x31 {
				s.cmdState = cmdReadOption
			} else {
				s.cmdState = cmdFind1A
			}
		case cmdReadOption:
			if s.applyOption(b) {
				changed = true
			}
			s.cmdState = cmdFind1A
		}
	}
	if changed && s.OnSettingsChanged != nil {
		s.OnSettingsChanged(s.Filter())
	}
}

func (s *Session) applyOption(b byte) bool {
	on := func(upper byte) bool { return b == upper }
	switch b {
	case 'c', 'C':
		s.Settings.BinaryFormat = beast.TristateFromBool(on('C'))
	case 'd', 'D':
		s.Settings.Filter11_17_18 = beast.TristateFromBool(on('D'))
	case 'e', 'E':
		s.Settings.AVRMLAT = beast.TristateFromBool(on('E'))
	case 'f', 'F':
		s.Settings.CRCDisable = beast.TristateFromBool(on('F'))
	case 'g', 'G':
		if s.UpstreamRadarcape {
			s.Settings.GPSTimestamps = beast.TristateFromBool(on('G'))
		} else {
			s.Settings.Filter0_4_5 = beast.TristateFromBool(on('G'))
		}
	case 'h', 'H':
		s.Settings.RTSHandshake = beast.TristateFromBool(on('H'))
	case 'i', 'I':
		s.Settings.FECDisable = beast.TristateFromBool(on('I'))
	case 'j', 'J':
		s.Settings.ModeACEnable = beast.TristateFromBool(on('J'))
	case 'k', 'K':
		s.Settings.PositionEnable = beast.TristateFromBool(on('K'))
	case 'b', 'B':
		s.Settings.Filter0_4_5 = beast.TristateFromBool(on('B'))
	case 'r', 'R':
		s.Settings.Radarcape = beast.TristateFromBool(on('R'))
	case 'v', 'V':
		s.Settings.Verbatim = beast.TristateFromBool(on('V'))
	default:
		return false
	}
	return true
}

// convertTimestamp implements spec.md §4.5's timestamp conversion
// table. Position messages carry no usable timestamp domain and pass
// through unchanged; a Verbatim session skips conversion entirely.
//
// haveGPS is s.receivingGPS, not domain: what domain the upstream is
// actually sending is the Status message's gps_timestamps bit, kept
// per-session in receivingGPS (updated in Deliver) rather than trusted
// from m.Domain directly, matching
// original_source/beast_output.cc's dispatch_message, which compares
// its own per-connection receiving_gps_timestamps against
// settings.gps_timestamps. domain is only consulted for the
// Position/TimestampUnknown passthrough case.
func (s *Session) convertTimestamp(ts uint64, domain modes.TimestampDomain) uint64 {
	if s.Settings.Verbatim.IsOn() || domain == modes.TimestampUnknown {
		return ts
	}
	wantGPS := s.Settings.GPSTimestamps.Resolve(true)
	haveGPS := s.receivingGPS
	if wantGPS == haveGPS {
		return ts
	}
	if wantGPS && !haveGPS {
		ns := ts * 1000 / 12
		seconds := (ns / 1_000_000_000) % 86400
		nanos := ns % 1_000_000_000
		return (seconds << 30) | nanos
	}
	seconds := ts >> 30
	nanos := ts & ((1 << 30) - 1)
	ns := seconds*1_000_000_000 + nanos
	return ns * 12 / 1000
}

// Deliver implements modes.Client. It is called synchronously by the
// engine-owned FilterDistributor, once per matching message, in
// broadcast order.
func (s *Session) Deliver(m *modes.Message) {
	if m.Kind == modes.Status {
		if len(m.Payload) > 0 {
			upstream := beast.FromStatusByte(m.Payload[0])
			s.receivingGPS = upstream.GPSTimestamps.IsOn()
		}
		if s.Format() != Binary {
			return
		}
	}

	ts := s.convertTimestamp(m.Timestamp, m.Domain)

	payload := m.Payload
	if m.Kind == modes.Status && len(payload) > 0 && !s.Settings.Verbatim.IsOn() {
		payload = append([]byte(nil), payload...)
		payload[0] = s.Settings.ToStatusByte()
	}

	if m.Kind != modes.Status {
		s.lastMessageTimestamp = ts
		s.lastMessageClock = time.Now()
	}

	s.enqueue(s.encode(m.Kind, ts, m.Signal, payload))
}

func escapeAppend(buf, data []byte) []byte {
	for _, b := range data {
		if b == 0x1A {
			buf = append(buf, 0x1A)
		}
		buf = append(buf, b)
	}
	return buf
}

func (s *Session) encode(kind modes.MessageType, ts uint64, signal uint8, payload []byte) []byte {
	switch s.Format() {
	case Binary:
		buf := make([]byte, 0, 9+len(payload)*2)
		buf = append(buf, 0x1A, messageTypeToByte(kind))
		tsBytes := []byte{
			byte(ts >> 40), byte(ts >> 32), byte(ts >> 24),
			byte(ts >> 16), byte(ts >> 8), byte(ts),
		}
		buf = escapeAppend(buf, tsBytes)
		buf = escapeAppend(buf, []byte{signal})
		buf = escapeAppend(buf, payload)
		return buf

	case AVRMLAT:
		buf := make([]byte, 0, 2+12+len(payload)*2)
		buf = append(buf, '@')
		for shift := 40; shift >= 0; shift -= 8 {
			buf = appendHexByte(buf, byte(ts>>uint(shift)))
		}
		for _, b := range payload {
			buf = appendHexByte(buf, b)
		}
		buf = append(buf, ';', '\n')
		return buf

	default: // AVR
		buf := make([]byte, 0, 3+len(payload)*2)
		buf = append(buf, '*')
		for _, b := range payload {
			buf = appendHexByte(buf, b)
		}
		buf = append(buf, ';', '\n')
		return buf
	}
}

const hexDigits = "0123456789ABCDEF"

func appendHexByte(buf []byte, b byte) []byte {
	return append(buf, hexDigits[b>>4], hexDigits[b&0x0F])
}

// enqueue appends b to the pending output buffer and ensures a flush is
// (or remains) in flight. Grounded on spec.md §4.5's "prepare_write
// lazily creates a buffer; complete_write posts a single flush task if
// one is not already in flight."
func (s *Session) enqueue(b []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, b...)
	s.mu.Unlock()

	select {
	case s.flushTrigger <- struct{}{}:
	default:
	}
}

func (s *Session) flushLoop() {
	for range s.flushTrigger {
		s.mu.Lock()
		buf := s.pending
		s.pending = nil
		s.mu.Unlock()

		if len(buf) == 0 {
			continue
		}
		if _, err := s.w.Write(buf); err != nil {
			s.Close()
			return
		}
	}
}

// Close shuts the session down exactly once: stops the flush goroutine,
// closes the underlying writer if it is an io.Closer, and invokes
// OnClose so the caller can unregister this session from the
// distributor.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.synthStop != nil {
			close(s.synthStop)
		}
		close(s.flushTrigger)
		if closer, ok := s.w.(io.Closer); ok {
			closer.Close()
		}
		if s.OnClose != nil {
			s.OnClose()
		}
	})
}

// String renders the session's negotiated settings for diagnostics.
func (s *Session) String() string {
	return fmt.Sprintf("client(format=%v settings=%s)", s.Format(), s.Settings)
}
