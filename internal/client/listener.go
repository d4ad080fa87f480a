package client

import (
	"log"
	"net"
	"strings"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/modes"
)

// Listener accepts downstream connections on one TCP endpoint and wraps
// each into a Session, handing it off to OnAccept. Grounded on
// original_source/beast_output.cc's SocketListener (an accept loop that
// pushes new SocketOutput objects into a connections list); Go's
// goroutine-per-accept replaces the async_accept callback chain.
type Listener struct {
	Addr            string
	InitialSettings beast.Settings
	// UpstreamRadarcape is consulted fresh for every accepted
	// connection, since receiver autodetection may still be in
	// progress when the listener starts accepting.
	UpstreamRadarcape func() bool

	// OnAccept is called once per accepted connection with the new
	// Session, synchronously from the accept goroutine; the caller is
	// expected to register it with the distributor and hand control
	// back quickly.
	OnAccept func(*Session)
	// OnSettingsChanged, if set, is wired onto every accepted Session.
	OnSettingsChanged func(*Session, modes.Filter)
	// OnDisconnect, if set, is called once an accepted Session closes,
	// so the caller can unregister it from the distributor.
	OnDisconnect func(*Session)

	ln net.Listener
}

// Listen resolves and binds Addr ("[HOST:]PORT"), trying every resolved
// endpoint and failing only if none bind, per spec.md §7's TCP-bind
// policy. A bare "PORT" binds all interfaces.
func Listen(addr string) (net.Listener, error) {
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return net.Listen("tcp", addr)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, ip := range ips {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip.String(), port))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Start binds l.Addr and begins accepting connections in a background
// goroutine. It returns once the listener is bound; any accept error,
// including the one caused by Close, is logged and the loop exits.
func (l *Listener) Start() error {
	ln, err := Listen(l.Addr)
	if err != nil {
		return err
	}
	l.ln = ln
	go l.acceptLoop()
	return nil
}

// Close stops accepting new connections. Already-accepted Sessions are
// unaffected.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			log.Printf("listen %s: accept: %v", l.Addr, err)
			return
		}
		s := NewSession(conn, l.InitialSettings, l.UpstreamRadarcape())
		sess := s
		if l.OnSettingsChanged != nil {
			s.OnSettingsChanged = func(f modes.Filter) { l.OnSettingsChanged(sess, f) }
		}
		if l.OnDisconnect != nil {
			s.OnClose = func() { l.OnDisconnect(sess) }
		}
		go readInboundLoop(s, conn)
		if l.OnAccept != nil {
			l.OnAccept(s)
		}
	}
}

// readInboundLoop feeds bytes read from conn into s's inbound command
// parser until the connection closes, then runs s.Close to release its
// flush goroutine and fire OnClose.
func readInboundLoop(s *Session, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.HandleInbound(buf[:n])
		}
		if err != nil {
			s.Close()
			return
		}
	}
}
