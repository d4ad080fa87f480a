// Package monitorws serves the same receiver/GPS status snapshot as
// internal/statusfile over a WebSocket, for live dashboards that poll
// a socket instead of the filesystem. Supplements, does not replace,
// the status file (SPEC_FULL.md §6). Grounded on cmd/connection.go's
// use of gorilla/websocket for the client side of this same protocol;
// here the roles are reversed, with this process as the server.
package monitorws

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flightaware/beast-splitter/internal/modes"
	"github.com/flightaware/beast-splitter/internal/statusfile"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type snapshot struct {
	GPSStatus  string `json:"gps_status,omitempty"`
	GPSMessage string `json:"gps_message,omitempty"`
	Time       int64  `json:"time"`
}

// Server implements modes.Client: every Status message it receives
// is broadcast as JSON to every currently connected WebSocket client.
type Server struct {
	Addr string

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	srv     *http.Server
}

// NewServer constructs a Server bound to addr ("[HOST:]PORT") once
// Start is called.
func NewServer(addr string) *Server {
	return &Server{Addr: addr, clients: make(map[*websocket.Conn]struct{})}
}

// Start begins serving WebSocket upgrades on Addr in a background
// goroutine.
func (s *Server) Start() error {
	addr := s.Addr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.srv = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("status-ws: serve: %v", err)
		}
	}()
	return nil
}

// Close shuts the server down, closing every connected client.
func (s *Server) Close() error {
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("status-ws: upgrade: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// Drain and discard inbound traffic so the connection's read side
	// stays serviced; this is a push-only feed.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Deliver implements modes.Client. The caller is expected to register
// Server with a receive_status-only Filter.
func (s *Server) Deliver(m *modes.Message) {
	if m.Kind != modes.Status {
		return
	}
	color, message := statusfile.InterpretGPSStatus(m.Payload)
	body, err := json.Marshal(snapshot{GPSStatus: color, GPSMessage: message, Time: time.Now().UnixMilli()})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			go s.dropClient(conn)
		}
	}
}
