// Package statusfile periodically renders a JSON snapshot of receiver
// and GPS health to disk, for monitoring tools that poll the
// filesystem instead of the live status feed. Grounded on
// original_source/status_writer.cc's StatusWriter: it registers as a
// receive_status-only distributor client, rearms a timeout on every
// Status message, and, if the timeout fires with no message having
// arrived from a receiver known to be a Radarcape, writes "red".
package statusfile

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/flightaware/beast-splitter/internal/modes"
)

// TimeoutInterval is the refresh cadence: a Status message resets the
// timer, and the timer firing re-renders the file even with no new
// data.
const TimeoutInterval = 2500 * time.Millisecond

type section struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type document struct {
	Radio    *section `json:"radio,omitempty"`
	GPS      *section `json:"gps,omitempty"`
	Time     int64    `json:"time"`
	Expiry   int64    `json:"expiry"`
	Interval int64    `json:"interval"`
}

// Writer implements modes.Client, writing path (via a PATH.new +
// rename) on every Status message and on a timeout rearmed after each
// write.
type Writer struct {
	Path string

	// Connected reports whether the upstream receiver transport is
	// currently connected; consulted each time the file is rendered.
	Connected func() bool

	// UpstreamRadarcape reports whether the receiver has been detected
	// or fixed as a Radarcape; consulted on timeout to decide whether
	// "no recent Status message" is actually noteworthy (a plain Beast
	// never sends GPS status at all, so silence from one means nothing).
	UpstreamRadarcape func() bool

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	tempPath string
}

// NewWriter constructs a Writer and starts its refresh timer. It must
// still be registered with a distributor (as a receive_status client)
// to begin receiving Status messages.
func NewWriter(path string, connected func() bool) *Writer {
	w := &Writer{Path: path, Connected: connected, tempPath: path + ".new"}
	w.resetTimeout()
	return w
}

func (w *Writer) resetTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(TimeoutInterval, w.onTimeout)
}

// onTimeout fires TimeoutInterval after the last render with no new
// Status message having arrived. Per status_writer.cc's
// status_timeout(), a detected Radarcape is expected to send Status
// continuously, so silence from one is worth reporting red; a plain
// Beast never sends GPS status, so silence from one is the unremarkable
// default (blank GPS section).
func (w *Writer) onTimeout() {
	w.resetTimeout()
	if w.UpstreamRadarcape != nil && w.UpstreamRadarcape() {
		w.writeStatusFile("red", "No recent GPS status message received")
		return
	}
	w.writeStatusFile("", "")
}

// Deliver implements modes.Client. Only Status messages are
// meaningful; everything else is ignored (the caller should register
// Writer with a receive_status-only Filter).
func (w *Writer) Deliver(m *modes.Message) {
	if m.Kind != modes.Status || len(m.Payload) < 3 {
		return
	}
	w.resetTimeout()
	color, message := InterpretGPSStatus(m.Payload)
	w.writeStatusFile(color, message)
}

// InterpretGPSStatus decodes a Status message's payload into a
// (color, message) pair, per original_source/status_writer.cc's
// StatusWriter::write. Shared with internal/monitorws so the live feed
// and the status file agree on what "green"/"amber"/"red" mean.
func InterpretGPSStatus(data []byte) (string, string) {
	if len(data) < 3 {
		return "", ""
	}

	if data[0]&0x10 == 0 {
		return "red", "Not in GPS timestamp mode"
	}

	if data[2]&0x80 == 0 {
		// Old-style message: signed offset in data[1], units of 15ns.
		offset := int8(data[1])
		if offset <= 3 && offset >= -3 {
			return "green", "Receiver synchronized to GPS time"
		}
		return "amber", "Receiver more than 45ns from GPS time"
	}

	if data[2]&0x20 == 0 {
		if data[2]&0x10 != 0 {
			return "green", "Receiver synchronized to GPS time"
		}
		return "amber", "Receiver more than 45ns from GPS time"
	}

	var faults []string
	if data[2]&0x08 == 0 {
		faults = append(faults, "GPS/UTC time offset not known")
	}
	if data[2]&0x02 == 0 {
		faults = append(faults, "Not tracking any satellites")
	} else if data[2]&0x04 == 0 {
		faults = append(faults, "Not tracking sufficient satellites")
	}
	if data[2]&0x01 == 0 {
		faults = append(faults, "Antenna fault")
	}
	if len(faults) == 0 {
		faults = append(faults, "Unrecognized GPS fault")
	}

	msg := faults[0]
	for _, f := range faults[1:] {
		msg += "; " + f
	}
	return "red", msg
}

func (w *Writer) writeStatusFile(gpsColor, gpsMessage string) {
	now := time.Now()
	doc := document{
		Time:     now.UnixMilli(),
		Expiry:   now.Add(2 * TimeoutInterval).UnixMilli(),
		Interval: TimeoutInterval.Milliseconds(),
	}

	if w.Connected != nil {
		if w.Connected() {
			doc.Radio = &section{Status: "green", Message: "Connected to receiver"}
		} else {
			doc.Radio = &section{Status: "red", Message: "Not connected to receiver"}
		}
	}
	if gpsColor != "" {
		doc.GPS = &section{Status: gpsColor, Message: gpsMessage}
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Printf("statusfile: marshal: %v", err)
		return
	}

	if err := os.WriteFile(w.tempPath, body, 0644); err != nil {
		log.Printf("statusfile: write %s: %v", w.tempPath, err)
		return
	}
	if err := os.Rename(w.tempPath, w.Path); err != nil {
		log.Printf("statusfile: rename %s -> %s: %v", w.tempPath, w.Path, err)
	}
}

// Close stops the refresh timer; it does not remove the written file.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
