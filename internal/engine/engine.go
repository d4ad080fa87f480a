// Package engine wires the Framer/Controller/FilterDistributor core
// together into a single owning goroutine, per spec.md §5's
// single-threaded-cooperative-reactor model rendered as Go
// goroutines-plus-channels (see SPEC_FULL.md §5). All mutation of the
// Controller and the FilterDistributor happens on the goroutine started
// by Run; everything else — transport I/O, timers, client accept/read
// loops — only ever sends events onto a channel that goroutine selects
// over.
package engine

import (
	"log"
	"time"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/client"
	"github.com/flightaware/beast-splitter/internal/modes"
	"github.com/flightaware/beast-splitter/internal/statusfile"
)

// transportReader is satisfied by beast.SerialTransport/NetTransport:
// a blocking Read loop the engine runs on its own goroutine.
type transportReader interface {
	Read(p []byte) (int, error)
}

type dataEvent struct {
	data       []byte
	generation int
}
type ioErrorEvent struct {
	err        error
	generation int
}
type timerEvent struct{ id beast.TimerID }
type shutdownEvent struct{}

// readThrottleEvent is sent by the reader goroutine after a short serial
// read (spec.md §5's read_interval throttle: net transports never send
// this). resume is closed once the engine goroutine has armed and fired
// ReadThrottleTimer (or immediately, if generation is already stale), so
// the reader goroutine knows when to issue its next Read.
type readThrottleEvent struct {
	generation int
	resume     chan struct{}
}

// Engine owns the Controller, the FilterDistributor, and the set of
// registered client sessions, all exclusively from its Run goroutine.
type Engine struct {
	Controller   *beast.Controller
	Distributor  *modes.FilterDistributor
	StatusWriter *statusfile.Writer

	transport transportReader
	isSerial  bool
	connected bool

	handles map[*client.Session]modes.Handle

	events chan interface{}
	timers map[beast.TimerID]*time.Timer

	readGeneration    int
	pendingReadResume chan struct{}
}

// New constructs an Engine around an already-built Controller (its
// Transport must also implement transportReader) and Distributor.
// isSerial must match the isSerial passed to beast.NewController for
// the same transport: it gates the read_interval throttle (serial
// only — net reads are never throttled, per spec.md §9).
func New(controller *beast.Controller, transport transportReader, isSerial bool, distributor *modes.FilterDistributor) *Engine {
	e := &Engine{
		Controller:  controller,
		Distributor: distributor,
		transport:   transport,
		isSerial:    isSerial,
		handles:     make(map[*client.Session]modes.Handle),
		events:      make(chan interface{}, 256),
		timers:      make(map[beast.TimerID]*time.Timer),
	}
	controller.SetTimers(e)
	controller.OnMessage = func(m modes.Message) { distributor.Broadcast(&m) }
	controller.OnWarn = func(s string) { log.Print(s) }
	distributor.SetFilterNotifier(func(union modes.Filter) { e.Send(func() { controller.SetFilter(union) }) })
	return e
}

// Send enqueues an arbitrary closure to run on the engine goroutine.
// AddClient/RemoveClient/OnSettingsChanged callbacks from other
// goroutines use this instead of a dedicated event type for anything
// that doesn't need its own name.
func (e *Engine) Send(fn func()) {
	e.events <- fn
}

// AddClient registers session with the distributor, under its current
// Filter, from the engine goroutine. Later settings changes reach the
// distributor through ClientSettingsChanged.
func (e *Engine) AddClient(s *client.Session) {
	e.Send(func() {
		handle := e.Distributor.AddClient(s, s.Filter())
		e.handles[s] = handle
		log.Printf("client connected: %s", s)
	})
}

// RemoveClient unregisters session from the distributor.
func (e *Engine) RemoveClient(s *client.Session) {
	e.Send(func() {
		if handle, ok := e.handles[s]; ok {
			e.Distributor.RemoveClient(handle)
			delete(e.handles, s)
			log.Printf("client disconnected: %s", s)
		}
	})
}

// ClientSettingsChanged pushes session's updated Filter into the
// distributor, which will in turn notify the Controller if the union
// changed.
func (e *Engine) ClientSettingsChanged(s *client.Session, f modes.Filter) {
	e.Send(func() {
		if handle, ok := e.handles[s]; ok {
			e.Distributor.UpdateClientFilter(handle, f)
		}
	})
}

// Arm implements beast.Timers: fires id onto the event channel after d,
// replacing any previously armed timer with the same id.
func (e *Engine) Arm(id beast.TimerID, d time.Duration) {
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(d, func() { e.events <- timerEvent{id: id} })
}

// Stop implements beast.Timers.
func (e *Engine) Stop(id beast.TimerID) {
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	// A reader goroutine may be parked waiting for this timer to fire
	// (see readThrottleEvent); Controller.Disconnect stopping it out from
	// under that wait must not leave the goroutine blocked forever.
	if id == beast.ReadThrottleTimer && e.pendingReadResume != nil {
		close(e.pendingReadResume)
		e.pendingReadResume = nil
	}
}

// Run connects the Controller and processes events until Shutdown is
// called. It blocks until the event loop exits.
func (e *Engine) Run() error {
	if err := e.Controller.Connect(); err != nil {
		return err
	}
	e.connected = true
	e.startReadLoop()

	for ev := range e.events {
		switch v := ev.(type) {
		case func():
			v()
		case dataEvent:
			if v.generation == e.readGeneration {
				e.Controller.Feed(v.data)
			}
		case ioErrorEvent:
			if v.generation == e.readGeneration {
				e.connected = false
				e.Controller.HandleIOError(v.err)
			}
		case timerEvent:
			e.dispatchTimer(v.id)
		case readThrottleEvent:
			if v.generation != e.readGeneration {
				close(v.resume)
				continue
			}
			e.pendingReadResume = v.resume
			e.Arm(beast.ReadThrottleTimer, beast.ReadInterval)
		case shutdownEvent:
			e.Controller.Disconnect()
			if e.StatusWriter != nil {
				e.StatusWriter.Close()
			}
			return nil
		}
	}
	return nil
}

// Shutdown stops the event loop after its current event finishes.
func (e *Engine) Shutdown() {
	e.events <- shutdownEvent{}
}

// Connected reports whether the upstream receiver transport is
// currently connected, for statusfile.Writer's Connected callback.
func (e *Engine) Connected() bool {
	result := make(chan bool, 1)
	e.Send(func() { result <- e.connected })
	return <-result
}

// Snapshot is a point-in-time copy of engine state safe to read from
// any goroutine, for monitor UIs (the TUI polls this instead of
// touching the Controller directly).
type Snapshot struct {
	Connected    bool
	ReceiverType beast.ReceiverType
	Autobauding  bool
	GoodSync     bool
	GoodMessages int
	BadBytes     int
	ClientCount  int
}

// Snapshot gathers a Snapshot from the engine goroutine.
func (e *Engine) Snapshot() Snapshot {
	result := make(chan Snapshot, 1)
	e.Send(func() {
		result <- Snapshot{
			Connected:    e.connected,
			ReceiverType: e.Controller.ReceiverType(),
			Autobauding:  e.Controller.Autobauding(),
			GoodSync:     e.Controller.Framer.GoodSync,
			GoodMessages: e.Controller.Framer.GoodMessages,
			BadBytes:     e.Controller.Framer.BadBytes,
			ClientCount:  len(e.handles),
		}
	})
	return <-result
}

// UpstreamRadarcape reports whether the receiver has (so far) been
// detected or fixed as a Radarcape. Safe to call from any goroutine;
// Controller.ReceiverType itself is only ever touched by the engine
// goroutine, so this round-trips through the event channel like
// Connected does. Listener and Connector call it fresh for every new
// client session, so a session accepted before autodetection finishes
// is never permanently stuck with a stale answer.
func (e *Engine) UpstreamRadarcape() bool {
	result := make(chan bool, 1)
	e.Send(func() { result <- e.Controller.ReceiverType() == beast.Radarcape })
	return <-result
}

func (e *Engine) dispatchTimer(id beast.TimerID) {
	switch id {
	case beast.AutobaudTimer:
		e.Controller.AutobaudTimerFired()
	case beast.DetectTimer:
		e.Controller.DetectTimerFired()
	case beast.LivenessTimer:
		e.Controller.LivenessTimerFired()
	case beast.ReconnectTimer:
		if err := e.Controller.Connect(); err == nil {
			e.connected = true
			e.startReadLoop()
		} else {
			e.Arm(beast.ReconnectTimer, beast.ReconnectInterval)
		}
	case beast.ReadThrottleTimer:
		if e.pendingReadResume != nil {
			close(e.pendingReadResume)
			e.pendingReadResume = nil
		}
	}
}

// startReadLoop launches a fresh reader goroutine tied to the current
// connection generation, so a stale goroutine from a prior connection
// can never deliver bytes for the new one.
//
// Per spec.md §5/§9, read-interval throttling is a serial-only
// behavior, and only kicks in on a short read (less than ¾ of the
// buffer) — a full-buffer read means more data is likely waiting right
// now, so the next Read is issued immediately. Net transports read
// back-to-back unconditionally. The throttle itself is driven through
// the Controller's ReadThrottleTimer rather than a bare time.Sleep, so
// Controller.Disconnect's Stop(ReadThrottleTimer) has a real timer to
// cancel.
func (e *Engine) startReadLoop() {
	e.readGeneration++
	generation := e.readGeneration
	buf := make([]byte, 4096)
	shortReadThreshold := len(buf) * 3 / 4
	go func() {
		for {
			n, err := e.transport.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				e.events <- dataEvent{data: data, generation: generation}
			}
			if err != nil {
				e.events <- ioErrorEvent{err: err, generation: generation}
				return
			}
			if e.isSerial && n < shortReadThreshold {
				resume := make(chan struct{})
				e.events <- readThrottleEvent{generation: generation, resume: resume}
				<-resume
			}
		}
	}()
}
