package client

import (
	"log"
	"net"
	"time"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/modes"
)

// Connector repeatedly dials one outbound downstream endpoint
// ("--connect HOST:PORT"), handing each successful connection to
// OnConnect as a Session and retrying after ReconnectInterval on
// failure or disconnect. Grounded on beast.Controller's own
// connect/reconnect split (same policy, applied to the client side of
// the link instead of the receiver side) per spec.md §7's "for
// --connect: try every endpoint, then schedule reconnect."
type Connector struct {
	Addr            string
	InitialSettings beast.Settings
	// UpstreamRadarcape is consulted fresh for every dial, since
	// receiver autodetection may still be in progress when the first
	// connection attempt is made.
	UpstreamRadarcape func() bool
	ReconnectInterval time.Duration

	OnConnect         func(*Session)
	OnSettingsChanged func(*Session, modes.Filter)
	// OnDisconnect, if set, is called once a connected Session closes
	// (write failure or Stop), before the loop waits to redial.
	OnDisconnect func(*Session)

	stop chan struct{}
}

// Run dials in a loop until Stop is called. Intended to be run in its
// own goroutine by the caller.
func (c *Connector) Run() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 60 * time.Second
	}
	c.stop = make(chan struct{})

	for {
		conn, err := net.Dial("tcp", c.Addr)
		if err != nil {
			log.Printf("connect %s: %v", c.Addr, err)
		} else {
			s := NewSession(conn, c.InitialSettings, c.UpstreamRadarcape())
			if c.OnSettingsChanged != nil {
				sess := s
				s.OnSettingsChanged = func(f modes.Filter) { c.OnSettingsChanged(sess, f) }
			}
			done := make(chan struct{})
			s.OnClose = func() {
				if c.OnDisconnect != nil {
					c.OnDisconnect(s)
				}
				close(done)
			}
			go readInboundLoop(s, conn)
			if c.OnConnect != nil {
				c.OnConnect(s)
			}

			select {
			case <-done:
			case <-c.stop:
				s.Close()
				return
			}
		}

		select {
		case <-time.After(c.ReconnectInterval):
		case <-c.stop:
			return
		}
	}
}

// Stop ends the dial loop; an in-progress connection is closed.
func (c *Connector) Stop() {
	if c.stop != nil {
		close(c.stop)
	}
}
