package backendtest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/safesim/simdash/internal/push"
)

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

// handleSocket speaks the server half of the Engine.IO websocket transport.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sid := uuid.NewString()
	open, _ := push.OpenFrame(push.Handshake{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: 25000,
		PingTimeout:  20000,
	})
	writeMu := &sync.Mutex{}
	if err := writeFrame(conn, writeMu, open); err != nil {
		conn.Close()
		return
	}

	go s.serveConn(conn, writeMu, sid)
}

func (s *Server) serveConn(conn *websocket.Conn, writeMu *sync.Mutex, sid string) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch string(data) {
		case push.FrameConnect:
			if err := writeFrame(conn, writeMu, push.ConnectAckFrame(sid)); err != nil {
				return
			}
			s.mu.Lock()
			s.conns[conn] = writeMu
			initialized := s.state.Initialized
			state := s.state.Clone()
			s.mu.Unlock()

			// Joining triggers a full state sync, as the real backend does.
			if initialized {
				frame, _ := push.EventFrame(string(push.EventSimulationState), map[string]any{"state": state})
				writeFrame(conn, writeMu, frame)
			}
			select {
			case s.joined <- struct{}{}:
			default:
			}
		case push.FramePong:
			s.mu.Lock()
			s.pongs++
			s.mu.Unlock()
		case push.FrameDisconnect:
			return
		}
	}
}

// WaitJoined blocks until a push client has joined the namespace
func (s *Server) WaitJoined(ctx context.Context) error {
	select {
	case <-s.joined:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no push client joined: %w", ctx.Err())
	}
}

// Emit sends an event to every joined push client
func (s *Server) Emit(name string, payload any) {
	frame, err := push.EventFrame(name, payload)
	if err != nil {
		return
	}
	s.broadcast(frame)
}

// EmitRaw sends a raw frame to every joined push client
func (s *Server) EmitRaw(frame string) { s.broadcast(frame) }

// Ping sends an Engine.IO ping to every joined push client
func (s *Server) Ping() { s.broadcast(push.FramePing) }

// Pongs returns how many pongs the clients have sent back
func (s *Server) Pongs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pongs
}

// Disconnect ends every push session from the server side
func (s *Server) Disconnect() { s.broadcast(push.FrameDisconnect) }

func (s *Server) broadcast(frame string) {
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for c, mu := range s.conns {
		targets[c] = mu
	}
	s.mu.Unlock()

	for c, mu := range targets {
		writeFrame(c, mu, frame)
	}
}

func writeFrame(conn *websocket.Conn, mu *sync.Mutex, frame string) error {
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
