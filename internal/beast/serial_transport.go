package beast

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialTransport is a Transport over a local serial port, implementing
// BaudSetter so the Controller can drive autobaud. Grounded on
// cmd/connection.go's SerialConnection/OpenSerialConnection (same
// go.bug.st/serial dependency, generalized to the Controller's wider
// Transport contract and runtime baud changes).
type SerialTransport struct {
	Path string

	port serial.Port
	rate int
}

// NewSerialTransport constructs a transport for path, opening at the
// given initial baud rate on the first TryConnect.
func NewSerialTransport(path string, initialBaud int) *SerialTransport {
	return &SerialTransport{Path: path, rate: initialBaud}
}

func (t *SerialTransport) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: t.rate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// TryConnect opens the serial port at the current baud rate and asserts
// RTS, the closest this library gets to the hardware flow control a
// Beast/Radarcape serial link expects (go.bug.st/serial's Mode has no
// flow-control field; SetRTS is the only lever it exposes).
func (t *SerialTransport) TryConnect() error {
	port, err := serial.Open(t.Path, t.mode())
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Path, err)
	}
	if err := port.SetRTS(true); err != nil {
		port.Close()
		return fmt.Errorf("open %s: set RTS: %w", t.Path, err)
	}
	t.port = port
	return nil
}

// Disconnect closes the port, if open.
func (t *SerialTransport) Disconnect() {
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
}

// LowLevelWrite writes buf to the open port.
func (t *SerialTransport) LowLevelWrite(buf []byte) bool {
	if t.port == nil {
		return false
	}
	_, err := t.port.Write(buf)
	return err == nil
}

// SetBaudRate reopens the port mode at rate without a full reconnect,
// implementing the Controller's BaudSetter contract for autobaud.
func (t *SerialTransport) SetBaudRate(rate int) error {
	t.rate = rate
	if t.port == nil {
		return nil
	}
	return t.port.SetMode(t.mode())
}

// What names this transport for diagnostics.
func (t *SerialTransport) What() string { return "serial:" + t.Path }

// ApplyConnectionSettings forces the RTS/CTS handshake tri-state the
// Controller would otherwise leave as a dontcare — a serial link is the
// one transport kind that setting actually governs: the receiver must
// be told, via the Settings message, to expect hardware flow control
// on this link. Grounded on original_source/beast_input_serial.cc,
// which hardcodes serial_port_base::flow_control(hardware) on open.
func (t *SerialTransport) ApplyConnectionSettings(s Settings) Settings {
	s.RTSHandshake = On
	return s
}

// Read satisfies the blocking-read half of the engine's reader
// goroutine contract; it is not part of the Transport interface
// because framing-free raw reads are only meaningful once connected.
func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}
