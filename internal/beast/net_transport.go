package beast

import (
	"fmt"
	"net"
)

// NetTransport is a Transport over a TCP connection to the physical
// receiver (the device-side "--net HOST:PORT" case). It does not
// implement BaudSetter, so the Controller correctly treats it as
// non-autobauding. Grounded on original_source's socket-based device
// input path, generalized behind the shared Transport interface.
type NetTransport struct {
	Addr string

	conn net.Conn
}

// NewNetTransport constructs a transport dialing addr on each TryConnect.
func NewNetTransport(addr string) *NetTransport {
	return &NetTransport{Addr: addr}
}

// TryConnect dials the configured address.
func (t *NetTransport) TryConnect() error {
	conn, err := net.Dial("tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.Addr, err)
	}
	t.conn = conn
	return nil
}

// Disconnect closes the connection, if open.
func (t *NetTransport) Disconnect() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// LowLevelWrite writes buf to the open connection.
func (t *NetTransport) LowLevelWrite(buf []byte) bool {
	if t.conn == nil {
		return false
	}
	_, err := t.conn.Write(buf)
	return err == nil
}

// What names this transport for diagnostics.
func (t *NetTransport) What() string { return "net:" + t.Addr }

// ApplyConnectionSettings is a no-op: nothing about a TCP link to the
// receiver overrides any Settings field.
func (t *NetTransport) ApplyConnectionSettings(s Settings) Settings { return s }

// Read satisfies the engine's reader-goroutine contract.
func (t *NetTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}
