// Package beast implements the Beast wire protocol: frame decoding
// (Framer), receiver variant autodetection and autobaud (Controller),
// and the negotiated-settings record (Settings) that ties the two
// together with the client-visible Filter.
package beast

import (
	"fmt"

	"github.com/flightaware/beast-splitter/internal/modes"
)

// Tristate is a value that is explicitly off, explicitly on, or
// dontcare (unset). dontcare materializes to a per-field default when a
// concrete bool is needed. Grounded on original_source/beast_settings.h's
// tristate<D,OFF,ON> template; Go has no non-type template parameters
// convenient for per-instance defaults, so the default and on/off wire
// characters are carried alongside each Settings field instead of baked
// into the type.
type Tristate int8

const (
	Dontcare Tristate = 0
	Off      Tristate = -1
	On       Tristate = 1
)

// TristateFromBool returns On or Off.
func TristateFromBool(b bool) Tristate {
	if b {
		return On
	}
	return Off
}

func (t Tristate) IsOn() bool       { return t > 0 }
func (t Tristate) IsOff() bool      { return t < 0 }
func (t Tristate) IsDontcare() bool { return t == 0 }

// Resolve materializes t to a concrete bool, using def when dontcare.
func (t Tristate) Resolve(def bool) bool {
	if t.IsDontcare() {
		return def
	}
	return t.IsOn()
}

// Or combines two tristates with the left operand winning when concrete.
// Dontcare | X == X; (On or Off) | X == the left value.
func (t Tristate) Or(other Tristate) Tristate {
	if t.IsDontcare() {
		return other
	}
	return t
}

// Join is the "do both agree" combination: dontcare + X == X; equal
// concrete values stay equal; disagreement collapses to dontcare.
func (t Tristate) Join(other Tristate) Tristate {
	if t.IsDontcare() {
		return other
	}
	if other.IsDontcare() {
		return t
	}
	if t == other {
		return t
	}
	return Dontcare
}

// Settings is the full negotiated tri-state record sent to (or received
// from) the receiver, and negotiated per-client. Field list and meaning
// is the 12-field version: the 10 fields of original_source plus
// position_enable and verbatim, which original_source's earlier revision
// lacks. position_enable gates forwarding of Position messages (the
// modeac_enable of positions); verbatim, when on, disables this
// connection's timestamp-domain conversion and status-byte rewriting,
// passing wire bytes through unmodified except for re-framing.
type Settings struct {
	Radarcape      Tristate
	BinaryFormat   Tristate
	Filter11_17_18 Tristate
	AVRMLAT        Tristate
	CRCDisable     Tristate
	Filter0_4_5    Tristate
	GPSTimestamps  Tristate
	RTSHandshake   Tristate
	FECDisable     Tristate
	ModeACEnable   Tristate
	PositionEnable Tristate
	Verbatim       Tristate
}

// settingsField describes one tri-state field for the purposes of
// wire/string encoding: its default (used by ApplyDefaults) and its
// off/on ASCII letters.
type settingsField struct {
	name    string
	off, on byte
	def     bool
	get     func(*Settings) Tristate
	set     func(*Settings, Tristate)
}

var settingsFields = []settingsField{
	{"binary_format", 'c', 'C', true, func(s *Settings) Tristate { return s.BinaryFormat }, func(s *Settings, t Tristate) { s.BinaryFormat = t }},
	{"filter_11_17_18", 'd', 'D', false, func(s *Settings) Tristate { return s.Filter11_17_18 }, func(s *Settings, t Tristate) { s.Filter11_17_18 = t }},
	{"avrmlat", 'e', 'E', true, func(s *Settings) Tristate { return s.AVRMLAT }, func(s *Settings, t Tristate) { s.AVRMLAT = t }},
	{"crc_disable", 'f', 'F', false, func(s *Settings) Tristate { return s.CRCDisable }, func(s *Settings, t Tristate) { s.CRCDisable = t }},
	{"gps_timestamps", 'g', 'G', true, func(s *Settings) Tristate { return s.GPSTimestamps }, func(s *Settings, t Tristate) { s.GPSTimestamps = t }},
	{"rts_handshake", 'h', 'H', true, func(s *Settings) Tristate { return s.RTSHandshake }, func(s *Settings, t Tristate) { s.RTSHandshake = t }},
	{"fec_disable", 'i', 'I', false, func(s *Settings) Tristate { return s.FECDisable }, func(s *Settings, t Tristate) { s.FECDisable = t }},
	{"modeac_enable", 'j', 'J', false, func(s *Settings) Tristate { return s.ModeACEnable }, func(s *Settings, t Tristate) { s.ModeACEnable = t }},
	{"position_enable", 'k', 'K', false, func(s *Settings) Tristate { return s.PositionEnable }, func(s *Settings, t Tristate) { s.PositionEnable = t }},
	{"filter_0_4_5", 'b', 'B', false, func(s *Settings) Tristate { return s.Filter0_4_5 }, func(s *Settings, t Tristate) { s.Filter0_4_5 = t }},
	{"radarcape", 'r', 'R', false, func(s *Settings) Tristate { return s.Radarcape }, func(s *Settings, t Tristate) { s.Radarcape = t }},
	{"verbatim", 'v', 'V', false, func(s *Settings) Tristate { return s.Verbatim }, func(s *Settings, t Tristate) { s.Verbatim = t }},
}

// FromStatusByte decodes a Radarcape status byte into Settings. Only the
// Radarcape reports a settings byte, so the result always has
// Radarcape=On. Grounded on beast_settings.cc's Settings(uint8_t) ctor.
func FromStatusByte(b byte) Settings {
	return Settings{
		Radarcape:      On,
		BinaryFormat:   TristateFromBool(b&0x01 != 0),
		Filter11_17_18: TristateFromBool(b&0x02 != 0),
		AVRMLAT:        TristateFromBool(b&0x04 != 0),
		CRCDisable:     TristateFromBool(b&0x08 != 0),
		GPSTimestamps:  TristateFromBool(b&0x10 != 0),
		RTSHandshake:   TristateFromBool(b&0x20 != 0),
		FECDisable:     TristateFromBool(b&0x40 != 0),
		ModeACEnable:   TristateFromBool(b&0x80 != 0),
	}
}

// ToStatusByte encodes Settings back into a Radarcape status byte. If
// Radarcape is not on, the original reports a zero byte (only the
// Radarcape has status reporting); this implementation does the same.
func (s Settings) ToStatusByte() byte {
	if !s.Radarcape.IsOn() {
		return 0
	}
	var b byte
	if s.BinaryFormat.IsOn() {
		b |= 0x01
	}
	if s.Filter11_17_18.IsOn() {
		b |= 0x02
	}
	if s.AVRMLAT.IsOn() {
		b |= 0x04
	}
	if s.CRCDisable.IsOn() {
		b |= 0x08
	}
	if s.GPSTimestamps.IsOn() {
		b |= 0x10
	}
	if s.RTSHandshake.IsOn() {
		b |= 0x20
	}
	if s.FECDisable.IsOn() {
		b |= 0x40
	}
	if s.ModeACEnable.IsOn() {
		b |= 0x80
	}
	return b
}

// FromFilter builds Settings that would cause a receiver to produce
// exactly what filter asks for. Grounded on beast_settings.cc's
// Settings(const modes::Filter&) ctor.
func FromFilter(filter modes.Filter) Settings {
	s := Settings{
		Filter11_17_18: On,
		CRCDisable:     TristateFromBool(filter.ReceiveBadCRC),
		Filter0_4_5:    TristateFromBool(!filter.ReceiveDF[0] && !filter.ReceiveDF[4] && !filter.ReceiveDF[5]),
		GPSTimestamps:  TristateFromBool(filter.ReceiveGPSTimestamps),
		FECDisable:     TristateFromBool(!filter.ReceiveFEC),
		ModeACEnable:   TristateFromBool(filter.ReceiveModeAC),
		PositionEnable: TristateFromBool(filter.ReceivePosition),
	}
	for i, want := range filter.ReceiveDF {
		if want && i != 11 && i != 17 && i != 18 {
			s.Filter11_17_18 = Off
			break
		}
	}
	return s
}

// ToFilter is the inverse direction: the Filter that would select
// exactly the messages these Settings ask the device to send. Grounded
// on beast_settings.cc's Settings::to_filter.
func (s Settings) ToFilter() modes.Filter {
	var f modes.Filter
	if s.Filter11_17_18.IsOn() {
		f.ReceiveDF[11] = true
		f.ReceiveDF[17] = true
		f.ReceiveDF[18] = true
	} else {
		for i := range f.ReceiveDF {
			f.ReceiveDF[i] = true
		}
		if s.Filter0_4_5.IsOn() {
			f.ReceiveDF[0] = false
			f.ReceiveDF[4] = false
			f.ReceiveDF[5] = false
		}
	}
	f.ReceiveModeAC = s.ModeACEnable.IsOn()
	f.ReceiveBadCRC = s.CRCDisable.IsOn()
	f.ReceiveFEC = !s.FECDisable.IsOn()
	f.ReceiveStatus = !s.Radarcape.IsOff()
	f.ReceiveGPSTimestamps = s.GPSTimestamps.IsOn()
	f.ReceivePosition = s.PositionEnable.IsOn()
	return f
}

// Or combines two Settings field-wise with s winning when concrete.
func (s Settings) Or(other Settings) Settings {
	out := s
	for _, fld := range settingsFields {
		fld.set(&out, fld.get(&s).Or(fld.get(&other)))
	}
	return out
}

// Equal reports structural equality.
func (s Settings) Equal(other Settings) bool {
	for _, fld := range settingsFields {
		if fld.get(&s) != fld.get(&other) {
			return false
		}
	}
	return true
}

// ApplyDefaults materializes every dontcare field to its default,
// returning a Settings with no dontcare fields remaining. Used for
// diagnostics/display, not for wire encoding (the wire encoder skips
// dontcare fields entirely, per spec).
func (s Settings) ApplyDefaults() Settings {
	out := s
	for _, fld := range settingsFields {
		fld.set(&out, TristateFromBool(fld.get(&s).Resolve(fld.def)))
	}
	return out
}

// ToMessage encodes the explicit (non-dontcare) device options
// binary_format, filter_11_17_18, avrmlat, crc_disable, g/G,
// rts_handshake, fec_disable and modeac_enable as wire triplets
// 0x1A '1' code, in the order original_source emits them; radarcape,
// position_enable and verbatim are never sent, and filter_0_4_5 is
// sent only as the g/G letter described below.
// binary_format is forced on regardless of its tri-state value. The g/G
// triplet is emitted from GPSTimestamps when radarcapeDetected is true,
// from Filter0_4_5 otherwise, and omitted entirely when the selected
// field is dontcare.
func (s Settings) ToMessage(radarcapeDetected bool) []byte {
	var msg []byte

	add := func(t Tristate, off, on byte) {
		if t.IsDontcare() {
			return
		}
		b := off
		if t.IsOn() {
			b = on
		}
		msg = append(msg, 0x1A, '1', b)
	}

	add(On, 'c', 'C') // binary_format forced on
	add(s.Filter11_17_18, 'd', 'D')
	add(s.AVRMLAT, 'e', 'E')
	add(s.CRCDisable, 'f', 'F')
	if radarcapeDetected {
		add(s.GPSTimestamps, 'g', 'G')
	} else {
		add(s.Filter0_4_5, 'g', 'G')
	}
	add(s.RTSHandshake, 'h', 'H')
	add(s.FECDisable, 'i', 'I')
	add(s.ModeACEnable, 'j', 'J')

	return msg
}

// FromString parses a SETTINGS string of letters drawn from
// [cdefghijkbrvCDEFGHIJKBRV]; upper sets on, lower sets off, any letter
// absent stays dontcare. Applies the radarcape/gps_timestamps and
// radarcape/filter_0_4_5 coercions named in spec.md §6.
func FromString(str string) (Settings, error) {
	var s Settings
	for _, ch := range str {
		matched := false
		for _, fld := range settingsFields {
			switch byte(ch) {
			case fld.off:
				fld.set(&s, Off)
				matched = true
			case fld.on:
				fld.set(&s, On)
				matched = true
			}
			if matched {
				break
			}
		}
		if !matched {
			return Settings{}, fmt.Errorf("beast: invalid settings character %q", ch)
		}
	}

	if s.Radarcape.IsOff() && s.GPSTimestamps.IsOn() {
		s.GPSTimestamps = Off
	}
	if s.Radarcape.IsOn() && s.Filter0_4_5.IsOn() {
		s.Filter0_4_5 = Off
	}

	return s, nil
}

// String renders each field's wire letter (off/on/absent-for-dontcare)
// in original_source's operator<< order, for logging. Grounded on
// beast_settings.cc's operator<<(ostream&, const Settings&).
func (s Settings) String() string {
	order := []settingsField{
		settingsFields[0], // binary_format
		settingsFields[1], // filter_11_17_18
		settingsFields[2], // avrmlat
		settingsFields[3], // crc_disable
		settingsFields[4], // gps_timestamps
		settingsFields[5], // rts_handshake
		settingsFields[6], // fec_disable
		settingsFields[7], // modeac_enable
		settingsFields[10], // radarcape
		settingsFields[9], // filter_0_4_5
		settingsFields[8], // position_enable
		settingsFields[11], // verbatim
	}
	buf := make([]byte, 0, len(order))
	for _, fld := range order {
		t := fld.get(&s)
		switch {
		case t.IsOn():
			buf = append(buf, fld.on)
		case t.IsOff():
			buf = append(buf, fld.off)
		}
	}
	return string(buf)
}
