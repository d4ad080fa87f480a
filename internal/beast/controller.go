package beast

import (
	"time"

	"github.com/flightaware/beast-splitter/internal/modes"
)

// ReceiverType is the autodetected variant of the physical receiver.
type ReceiverType int

const (
	Unknown ReceiverType = iota
	Beast
	Radarcape
)

func (r ReceiverType) String() string {
	switch r {
	case Beast:
		return "Beast"
	case Radarcape:
		return "Radarcape"
	default:
		return "Unknown"
	}
}

// Transport is the base contract a Receiver Controller drives a physical
// link through. Serial and TCP controllers differ only in these five
// methods; the framing, autodetection, and settings-negotiation core
// above is shared. Grounded on original_source/beast_input.h/beast_output.h's
// split between SerialInput and the socket-based input path, generalized
// to a single interface per spec.md Design Notes ("Polymorphism over
// transport").
type Transport interface {
	TryConnect() error
	Disconnect()
	// LowLevelWrite writes buf, returning true if it was accepted (may
	// still be in flight).
	LowLevelWrite(buf []byte) bool
	What() string
	// ApplyConnectionSettings lets the transport override settings that
	// only make sense for its kind (e.g. serial forces RTS/CTS) before
	// they are materialized onto the wire.
	ApplyConnectionSettings(s Settings) Settings
}

// BaudSetter is implemented by transports that support changing line
// rate at runtime (serial ports). Net transports do not implement it,
// which is how the Controller knows autobaud does not apply.
type BaudSetter interface {
	SetBaudRate(rate int) error
}

// TimerID names one of the Controller's logical timers. The Controller
// itself never touches a clock; per the concurrency model, timers are
// owned by the engine goroutine (time.AfterFunc posting an event) and
// the Controller only requests arm/stop through this tiny interface,
// which makes the whole state machine deterministically testable.
type TimerID int

const (
	AutobaudTimer TimerID = iota
	DetectTimer
	LivenessTimer
	ReconnectTimer
	ReadThrottleTimer
)

// Timers is the engine-provided scheduling hook.
type Timers interface {
	Arm(id TimerID, d time.Duration)
	Stop(id TimerID)
}

// Tuning constants. Autobaud acceptance/restart thresholds are spec.md's
// values; the rest are grounded on original_source/beast_input.h.
const (
	RadarcapeDetectInterval   = 3 * time.Second
	RadarcapeLivenessInterval = 15 * time.Second
	ReconnectInterval         = 60 * time.Second
	ReadInterval              = 50 * time.Millisecond
	AutobaudBaseInterval      = 1 * time.Second
	AutobaudMaxInterval       = 16 * time.Second
	AutobaudGoodMessages      = 4
	AutobaudRestartBytes      = 1000
	NetBadProtocolThreshold   = 20
)

var autobaudStandardRates = []int{3000000, 1000000, 921600, 230400, 115200}

// autobaudRateList returns the candidate rate list with preferred moved
// to the front (if nonzero) and duplicates removed, per spec.md §4.2.
func autobaudRateList(preferred int) []int {
	out := make([]int, 0, len(autobaudStandardRates)+1)
	seen := make(map[int]bool)
	if preferred != 0 {
		out = append(out, preferred)
		seen[preferred] = true
	}
	for _, r := range autobaudStandardRates {
		if !seen[r] {
			out = append(out, r)
			seen[r] = true
		}
	}
	return out
}

// Controller is the shared Receiver Controller core: framing is
// delegated to a Framer, connection mechanics to a Transport, and timer
// scheduling to a Timers. It owns receiver autodetection, settings
// negotiation/resend suppression, liveness tracking, and (for transports
// that support it) autobaud.
type Controller struct {
	Framer    *Framer
	transport Transport
	timers    Timers
	isSerial  bool

	fixedSettings Settings
	filter        modes.Filter

	receiverType ReceiverType
	typeFixed    bool

	lastSent      Settings
	lastSentValid bool

	autobauding      bool
	autobaudRates    []int
	autobaudIdx      int
	autobaudInterval time.Duration
	fixedBaud        int

	everSawGoodSync   bool
	warnedBadProtocol bool

	// OnMessage is invoked for every message that passes the
	// autobauding/receiver-type gate, in arrival order.
	OnMessage func(modes.Message)
	// OnWarn logs a human-readable diagnostic (the net "possibly bad
	// protocol" warning, reconnect notices, etc).
	OnWarn func(string)
}

// NewController constructs a Controller. fixedBaud is 0 to autobaud
// (meaningless, and ignored, for non-serial transports).
func NewController(transport Transport, isSerial bool, fixedBaud int, fixedSettings Settings, timers Timers) *Controller {
	return &Controller{
		Framer:        NewFramer(),
		transport:     transport,
		timers:        timers,
		isSerial:      isSerial,
		fixedSettings: fixedSettings,
		fixedBaud:     fixedBaud,
		typeFixed:     !fixedSettings.Radarcape.IsDontcare(),
	}
}

// SetTimers installs the Timers implementation. Exists so callers that
// themselves implement Timers (the engine goroutine) can construct the
// Controller first and wire the circular reference afterward.
func (c *Controller) SetTimers(timers Timers) {
	c.timers = timers
}

func (c *Controller) initialReceiverType() ReceiverType {
	if c.fixedSettings.Radarcape.IsOn() {
		return Radarcape
	}
	if c.fixedSettings.Radarcape.IsOff() {
		return Beast
	}
	return Unknown
}

// Connect (re)opens the transport and resets all per-connection state:
// the framer, autodetection, autobaud, and resend-suppression memory.
func (c *Controller) Connect() error {
	c.Framer.Reset()
	c.lastSentValid = false
	c.everSawGoodSync = false
	c.warnedBadProtocol = false
	c.receiverType = c.initialReceiverType()

	if c.isSerial {
		c.autobaudRates = autobaudRateList(c.fixedBaud)
		c.autobaudIdx = 0
		c.autobaudInterval = AutobaudBaseInterval
		c.autobauding = c.fixedBaud == 0
	} else {
		c.autobauding = false
	}

	if err := c.transport.TryConnect(); err != nil {
		return err
	}

	if c.isSerial {
		if bs, ok := c.transport.(BaudSetter); ok {
			_ = bs.SetBaudRate(c.autobaudRates[c.autobaudIdx])
		}
		if c.autobauding {
			c.timers.Arm(AutobaudTimer, c.autobaudInterval)
		}
	}

	if c.receiverType == Unknown {
		c.timers.Arm(DetectTimer, RadarcapeDetectInterval)
	}

	c.sendSettingsIfChanged()
	return nil
}

// Disconnect tears down the transport and cancels all timers; the caller
// (engine) is responsible for scheduling a reconnect if desired.
func (c *Controller) Disconnect() {
	c.timers.Stop(AutobaudTimer)
	c.timers.Stop(DetectTimer)
	c.timers.Stop(LivenessTimer)
	c.timers.Stop(ReadThrottleTimer)
	c.transport.Disconnect()
}

// HandleIOError implements spec.md §7's transport I/O failure policy:
// log, close, schedule reconnect with all other timers cancelled.
func (c *Controller) HandleIOError(err error) {
	c.Disconnect()
	if c.OnWarn != nil {
		c.OnWarn("transport error on " + c.transport.What() + ": " + err.Error())
	}
	c.timers.Arm(ReconnectTimer, ReconnectInterval)
}

// SetFilter installs a new upstream filter (the distributor's union) and
// resends settings if the materialized result changed. This is the
// Controller's half of spec.md §4.4's filter-notifier contract.
func (c *Controller) SetFilter(filter modes.Filter) {
	c.filter = filter
	c.sendSettingsIfChanged()
}

func (c *Controller) computeSettings() Settings {
	s := c.fixedSettings.Or(FromFilter(c.filter))
	s.BinaryFormat = On
	return c.transport.ApplyConnectionSettings(s)
}

func (c *Controller) sendSettingsIfChanged() {
	s := c.computeSettings()
	if c.lastSentValid && s.Equal(c.lastSent) {
		return
	}
	msg := s.ToMessage(c.receiverType == Radarcape)
	if len(msg) > 0 {
		c.transport.LowLevelWrite(msg)
	}
	c.lastSent = s
	c.lastSentValid = true
}

// Feed hands raw transport bytes to the framer and processes every
// decoded message: autodetection, liveness rearm, autobaud bookkeeping,
// and (when not gated) delivery via OnMessage.
func (c *Controller) Feed(data []byte) {
	msgs := c.Framer.Feed(data)

	for i := range msgs {
		m := &msgs[i]

		if m.Kind == modes.Status {
			if c.receiverType == Unknown && !c.typeFixed {
				c.receiverType = Radarcape
				c.timers.Stop(DetectTimer)
				c.lastSentValid = false
				c.sendSettingsIfChanged()
			}
			c.timers.Arm(LivenessTimer, RadarcapeLivenessInterval)

			if len(m.Payload) > 0 {
				upstream := FromStatusByte(m.Payload[0])
				if upstream.GPSTimestamps.IsOn() {
					c.Framer.SetTimestampDomain(modes.GPS)
				} else {
					c.Framer.SetTimestampDomain(modes.TwelveMHz)
				}
			}
		}

		if !c.autobauding && c.receiverType != Unknown && c.OnMessage != nil {
			c.OnMessage(*m)
		}
	}

	if c.Framer.GoodSync {
		c.everSawGoodSync = true
	}

	if c.isSerial {
		c.updateAutobaud()
	} else {
		c.updateNetProtocolWarning()
	}
}

func (c *Controller) updateAutobaud() {
	if c.autobauding {
		if c.Framer.GoodMessages >= AutobaudGoodMessages {
			c.autobauding = false
			c.timers.Stop(AutobaudTimer)
		}
		return
	}
	if c.fixedBaud == 0 && c.Framer.BadBytes > AutobaudRestartBytes {
		c.restartAutobaud()
	}
}

func (c *Controller) restartAutobaud() {
	c.autobauding = true
	c.autobaudIdx = 0
	c.autobaudInterval = AutobaudBaseInterval
	c.Framer.Reset()
	if bs, ok := c.transport.(BaudSetter); ok {
		_ = bs.SetBaudRate(c.autobaudRates[c.autobaudIdx])
	}
	c.timers.Arm(AutobaudTimer, c.autobaudInterval)
}

func (c *Controller) updateNetProtocolWarning() {
	if c.warnedBadProtocol || c.everSawGoodSync {
		return
	}
	if c.Framer.BadBytes > NetBadProtocolThreshold {
		c.warnedBadProtocol = true
		if c.OnWarn != nil {
			c.OnWarn("possibly bad protocol on " + c.transport.What())
		}
	}
}

// AutobaudTimerFired advances to the next candidate rate (wrapping and
// doubling the interval when the list is exhausted) and switches the
// transport to the new rate via BaudSetter.
func (c *Controller) AutobaudTimerFired() {
	if !c.autobauding {
		return
	}
	c.autobaudIdx++
	if c.autobaudIdx >= len(c.autobaudRates) {
		c.autobaudIdx = 0
		c.autobaudInterval *= 2
		if c.autobaudInterval > AutobaudMaxInterval {
			c.autobaudInterval = AutobaudMaxInterval
		}
	}
	c.Framer.Reset()
	if bs, ok := c.transport.(BaudSetter); ok {
		_ = bs.SetBaudRate(c.autobaudRates[c.autobaudIdx])
	}
	c.timers.Arm(AutobaudTimer, c.autobaudInterval)
}

// DetectTimerFired concludes autodetection as Beast if no Status message
// arrived within RadarcapeDetectInterval.
func (c *Controller) DetectTimerFired() {
	if c.receiverType != Unknown {
		return
	}
	c.receiverType = Beast
	c.lastSentValid = false
	c.sendSettingsIfChanged()
}

// LivenessTimerFired means no Status message arrived for
// RadarcapeLivenessInterval: the connection is treated as failed.
func (c *Controller) LivenessTimerFired() {
	c.HandleIOError(errLivenessTimeout)
}

// ReceiverType reports the currently detected (or fixed) receiver variant.
func (c *Controller) ReceiverType() ReceiverType { return c.receiverType }

// Autobauding reports whether the controller is still probing baud rates.
func (c *Controller) Autobauding() bool { return c.autobauding }
