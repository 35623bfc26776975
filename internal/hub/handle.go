package hub

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ReadyState mirrors the transport lifecycle of a connection handle.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// sendQueueSize bounds how many outbound events may be pending per
// connection before the client is considered stalled.
const sendQueueSize = 32

// ConnectionHandle wraps one live websocket session. It is owned by the hub
// for the duration of the session and never exposes the raw transport.
// Outbound traffic goes through a buffered queue drained by the handle's own
// write pump, so a slow client stalls only itself.
type ConnectionHandle struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	state atomic.Int32

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	identity string
	lastSeen time.Time
}

// NewConnectionHandle creates a handle for an accepted transport connection
// and starts its write pump.
func NewConnectionHandle(conn *websocket.Conn, writeTimeout time.Duration) *ConnectionHandle {
	h := &ConnectionHandle{
		conn:         conn,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
	}
	h.state.Store(int32(StateOpen))
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()
	go h.writePump()
	return h
}

// ReadyState returns the current transport state.
func (h *ConnectionHandle) ReadyState() ReadyState {
	return ReadyState(h.state.Load())
}

// Identity returns the bound identity, empty for anonymous connections.
func (h *ConnectionHandle) Identity() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

// SetIdentity binds an identity to the handle.
func (h *ConnectionHandle) SetIdentity(identity string) {
	h.mu.Lock()
	h.identity = identity
	h.mu.Unlock()
}

// LastSeen returns the time of the last inbound activity.
func (h *ConnectionHandle) LastSeen() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeen
}

func (h *ConnectionHandle) touch() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	h.mu.Unlock()
}

// Enqueue hands a message to the write pump without blocking. It reports
// false when the handle is not open or its queue is full.
func (h *ConnectionHandle) Enqueue(msg []byte) bool {
	if h.ReadyState() != StateOpen {
		return false
	}
	select {
	case h.send <- msg:
		return true
	default:
		return false
	}
}

// writePump is the sole writer on the transport. It drains the send queue
// until the handle closes or a write fails.
func (h *ConnectionHandle) writePump() {
	for {
		select {
		case msg := <-h.send:
			if h.writeTimeout > 0 {
				h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			}
			if err := h.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("hub: write to %q failed, closing connection: %v", h.Identity(), err)
				h.Close()
				return
			}
		case <-h.done:
			return
		}
	}
}

// Close transitions the handle to closed, stops the write pump and closes
// the transport. Safe to call more than once.
func (h *ConnectionHandle) Close() error {
	if !h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return nil
	}
	close(h.done)
	err := h.conn.Close()
	h.state.Store(int32(StateClosed))
	return err
}
