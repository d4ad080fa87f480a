package beast

import "testing"

func TestSettings_StatusByteRoundTrip(t *testing.T) {
	for b := 0; b < 256; b++ {
		s := FromStatusByte(byte(b))
		if got := s.ToStatusByte(); got != byte(b) {
			t.Fatalf("byte 0x%02X: round trip gave 0x%02X", b, got)
		}
	}
}

func TestSettings_OrIsIdempotent(t *testing.T) {
	s, err := FromString("CdEfGHij")
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if got := s.Or(s); !got.Equal(s) {
		t.Errorf("s | s != s: got %+v, want %+v", got, s)
	}
}

func TestSettings_OrIsLeftBiased(t *testing.T) {
	left, _ := FromString("C")
	right, _ := FromString("c")
	got := left.Or(right)
	if !got.BinaryFormat.IsOn() {
		t.Error("left-biased Or should keep the left operand's concrete value")
	}

	// When left is dontcare, the right operand's value shows through.
	var dontcare Settings
	got2 := dontcare.Or(right)
	if !got2.BinaryFormat.IsOff() {
		t.Error("Or should fall through to the right operand when left is dontcare")
	}
}

func TestSettings_FromStringCoercions(t *testing.T) {
	s, err := FromString("rG") // radarcape off, gps_timestamps on
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if !s.GPSTimestamps.IsOff() {
		t.Error("radarcape=off && gps_timestamps=on should coerce to gps_timestamps=off")
	}

	s2, err := FromString("RB") // radarcape on, filter_0_4_5 on
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if !s2.Filter0_4_5.IsOff() {
		t.Error("radarcape=on && filter_0_4_5=on should coerce to filter_0_4_5=off")
	}
}

func TestSettings_FromStringRejectsUnknownLetter(t *testing.T) {
	if _, err := FromString("z"); err == nil {
		t.Error("expected an error for an unrecognized settings letter")
	}
}

func TestSettings_ToMessageSkipsDontcareAndForcesBinary(t *testing.T) {
	var s Settings // everything dontcare
	msg := s.ToMessage(false)
	// binary_format is forced on regardless of tri-state, so exactly one
	// triplet (for binary_format) should appear.
	if len(msg) != 3 {
		t.Fatalf("ToMessage() on all-dontcare settings = %d bytes, want 3 (binary_format only)", len(msg))
	}
	if msg[0] != 0x1A || msg[1] != '1' || msg[2] != 'C' {
		t.Errorf("ToMessage() = %x, want 1A 31 43 (forced binary_format on)", msg)
	}
}

func TestSettings_ToMessageGSelectsByReceiverType(t *testing.T) {
	s, err := FromString("Gb") // gps_timestamps on, filter_0_4_5 off
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}

	radarcapeMsg := s.ToMessage(true)
	beastMsg := s.ToMessage(false)

	containsTriplet := func(msg []byte, code byte) bool {
		for i := 0; i+3 <= len(msg); i += 3 {
			if msg[i] == 0x1A && msg[i+1] == '1' && msg[i+2] == code {
				return true
			}
		}
		return false
	}

	if !containsTriplet(radarcapeMsg, 'G') {
		t.Error("radarcape message should carry the G (gps_timestamps) triplet")
	}
	if !containsTriplet(beastMsg, 'g') {
		t.Error("beast message should carry filter_0_4_5 (off) as the g triplet")
	}
}

func TestSettings_ApplyDefaultsLeavesNoDontcare(t *testing.T) {
	var s Settings
	resolved := s.ApplyDefaults()
	for _, fld := range settingsFields {
		if fld.get(&resolved).IsDontcare() {
			t.Errorf("field %s still dontcare after ApplyDefaults", fld.name)
		}
	}
}

func TestSettings_FilterRoundTrip(t *testing.T) {
	s, err := FromString("D") // filter_11_17_18 on
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	f := s.ToFilter()
	if !f.ReceiveDF[11] || !f.ReceiveDF[17] || !f.ReceiveDF[18] {
		t.Error("filter_11_17_18=on should select exactly DF 11/17/18")
	}
	if f.ReceiveDF[0] {
		t.Error("filter_11_17_18=on should not select DF0")
	}

	back := FromFilter(f)
	if !back.Filter11_17_18.IsOn() {
		t.Error("FromFilter should reconstruct filter_11_17_18=on")
	}
}
