package monitorws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flightaware/beast-splitter/internal/modes"
)

func TestServer_BroadcastsStatusToConnectedClient(t *testing.T) {
	s := NewServer("18765")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	time.Sleep(20 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:18765/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the server register the upgrade

	payload := make([]byte, 14)
	payload[0] = 0x10 // GPS timestamp mode
	payload[2] = 0x00 // old-style, small offset => green
	m, err := modes.NewMessage(modes.Status, modes.TwelveMHz, 0, 0, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	s.Deliver(&m)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, body, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("empty status message body")
	}
}
