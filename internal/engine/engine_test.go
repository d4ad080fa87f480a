package engine

import (
	"testing"
	"time"

	"github.com/flightaware/beast-splitter/internal/beast"
	"github.com/flightaware/beast-splitter/internal/client"
	"github.com/flightaware/beast-splitter/internal/modes"
)

type fakeTransport struct {
	reads chan []byte
	errs  chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reads: make(chan []byte, 4), errs: make(chan error, 1)}
}

func (f *fakeTransport) TryConnect() error                                      { return nil }
func (f *fakeTransport) Disconnect()                                            {}
func (f *fakeTransport) LowLevelWrite(b []byte) bool                            { return true }
func (f *fakeTransport) What() string                                           { return "fake" }
func (f *fakeTransport) ApplyConnectionSettings(s beast.Settings) beast.Settings { return s }

func (f *fakeTransport) Read(p []byte) (int, error) {
	select {
	case data := <-f.reads:
		return copy(p, data), nil
	case err := <-f.errs:
		return 0, err
	}
}

type recordingClient struct {
	received []modes.Message
}

func (r *recordingClient) Deliver(m *modes.Message) { r.received = append(r.received, *m) }

func modeACWire() []byte {
	metadata := make([]byte, 7)
	payload := make([]byte, 2)
	return append([]byte{0x1A, 0x31}, append(metadata, payload...)...)
}

func TestEngine_FeedsThroughControllerToDistributor(t *testing.T) {
	tr := newFakeTransport()
	controller := beast.NewController(tr, false, 0, beast.Settings{Radarcape: beast.Off}, nil)
	dist := modes.NewFilterDistributor()
	e := New(controller, tr, false, dist)

	go func() {
		if err := e.Run(); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()
	defer e.Shutdown()

	rc := &recordingClient{}
	var f modes.Filter
	f.ReceiveModeAC = true
	done := make(chan struct{})
	e.Send(func() {
		dist.AddClient(rc, f)
		close(done)
	})
	<-done

	tr.reads <- modeACWire()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(rc.received) == 0 {
		time.Sleep(time.Millisecond)
	}
	if len(rc.received) != 1 {
		t.Fatalf("got %d messages delivered, want 1", len(rc.received))
	}
	if rc.received[0].Kind != modes.ModeAC {
		t.Errorf("delivered kind = %v, want ModeAC", rc.received[0].Kind)
	}
}

func TestEngine_AddRemoveClientViaSessionHelpers(t *testing.T) {
	tr := newFakeTransport()
	controller := beast.NewController(tr, false, 0, beast.Settings{Radarcape: beast.Off}, nil)
	dist := modes.NewFilterDistributor()
	e := New(controller, tr, false, dist)

	go e.Run()
	defer e.Shutdown()

	s := client.NewSession(discardWriter{}, beast.Settings{BinaryFormat: beast.On}, false)
	defer s.Close()

	e.AddClient(s)
	done := make(chan int, 1)
	e.Send(func() { done <- dist.ClientCount() })
	if got := <-done; got != 1 {
		t.Fatalf("ClientCount after AddClient = %d, want 1", got)
	}

	e.RemoveClient(s)
	e.Send(func() { done <- dist.ClientCount() })
	if got := <-done; got != 0 {
		t.Fatalf("ClientCount after RemoveClient = %d, want 0", got)
	}
}

func TestEngine_UpstreamRadarcapeReflectsFixedSetting(t *testing.T) {
	tr := newFakeTransport()
	controller := beast.NewController(tr, false, 0, beast.Settings{Radarcape: beast.On}, nil)
	dist := modes.NewFilterDistributor()
	e := New(controller, tr, false, dist)

	go e.Run()
	defer e.Shutdown()

	if !e.UpstreamRadarcape() {
		t.Error("UpstreamRadarcape() = false, want true for a Radarcape-fixed controller")
	}
}

func TestEngine_SerialShortReadIsThrottled(t *testing.T) {
	tr := newFakeTransport()
	// A fixed baud rate, so autobauding does not gate delivery.
	controller := beast.NewController(tr, true, 115200, beast.Settings{Radarcape: beast.Off}, nil)
	dist := modes.NewFilterDistributor()
	e := New(controller, tr, true, dist)

	go e.Run()
	defer e.Shutdown()

	rc := &recordingClient{}
	var f modes.Filter
	f.ReceiveModeAC = true
	done := make(chan struct{})
	e.Send(func() {
		dist.AddClient(rc, f)
		close(done)
	})
	<-done

	// modeACWire() is a 9-byte read against a 4096-byte buffer: well
	// under the ¾ short-read threshold, so the reader goroutine must
	// wait for ReadThrottleTimer before issuing its next Read.
	start := time.Now()
	tr.reads <- modeACWire()
	tr.reads <- modeACWire()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(rc.received) < 2 {
		time.Sleep(time.Millisecond)
	}
	if len(rc.received) != 2 {
		t.Fatalf("got %d messages delivered, want 2", len(rc.received))
	}
	if elapsed := time.Since(start); elapsed < beast.ReadInterval {
		t.Errorf("second short serial read was not throttled: delivered after %v, want at least %v", elapsed, beast.ReadInterval)
	}
}

func TestEngine_NetShortReadIsNotThrottled(t *testing.T) {
	tr := newFakeTransport()
	controller := beast.NewController(tr, false, 0, beast.Settings{Radarcape: beast.Off}, nil)
	dist := modes.NewFilterDistributor()
	e := New(controller, tr, false, dist)

	go e.Run()
	defer e.Shutdown()

	rc := &recordingClient{}
	var f modes.Filter
	f.ReceiveModeAC = true
	done := make(chan struct{})
	e.Send(func() {
		dist.AddClient(rc, f)
		close(done)
	})
	<-done

	start := time.Now()
	tr.reads <- modeACWire()
	tr.reads <- modeACWire()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(rc.received) < 2 {
		time.Sleep(time.Millisecond)
	}
	if len(rc.received) != 2 {
		t.Fatalf("got %d messages delivered, want 2", len(rc.received))
	}
	if elapsed := time.Since(start); elapsed >= beast.ReadInterval {
		t.Errorf("net short reads were throttled: took %v, want well under %v", elapsed, beast.ReadInterval)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
