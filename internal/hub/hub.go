package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Event is the broadcast unit: a named topic with an opaque payload.
type Event struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// identityRegistration is the single out-of-band inbound message type a
// client may send after opening its connection.
type identityRegistration struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

const identityRegistrationType = "IDENTITY_REGISTRATION"

// ConnectionInfo is a read-only snapshot of one handle for diagnostics.
type ConnectionInfo struct {
	Identity   string    `json:"identity"`
	ReadyState string    `json:"ready_state"`
	LastSeen   time.Time `json:"last_seen"`
}

// Hub holds all live connection handles and fans topic events out to them.
type Hub struct {
	mu      sync.RWMutex
	handles map[*ConnectionHandle]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		handles: make(map[*ConnectionHandle]struct{}),
	}
}

// Register adds a handle to the registry.
func (h *Hub) Register(handle *ConnectionHandle) {
	h.mu.Lock()
	h.handles[handle] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a handle from the registry.
func (h *Hub) Unregister(handle *ConnectionHandle) {
	h.mu.Lock()
	delete(h.handles, handle)
	h.mu.Unlock()
}

// Len returns the number of registered handles.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handles)
}

// snapshot copies the handle set so broadcast iteration is unaffected by
// handles registering or closing mid-loop.
func (h *Hub) snapshot() []*ConnectionHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handles := make([]*ConnectionHandle, 0, len(h.handles))
	for handle := range h.handles {
		handles = append(handles, handle)
	}
	return handles
}

// Broadcast delivers a topic event to every open handle. Delivery is queued
// per handle and never blocks the caller; a handle whose queue is full is
// closed and unregistered without affecting the others. Returns the number
// of handles the event was queued to.
func (h *Hub) Broadcast(topic string, payload json.RawMessage) int {
	return h.fanOut("", topic, payload)
}

// BroadcastTo delivers a topic event only to open handles bound to identity.
func (h *Hub) BroadcastTo(identity, topic string, payload json.RawMessage) int {
	if identity == "" {
		return 0
	}
	return h.fanOut(identity, topic, payload)
}

func (h *Hub) fanOut(identity, topic string, payload json.RawMessage) int {
	data, err := json.Marshal(Event{Topic: topic, Payload: payload})
	if err != nil {
		log.Printf("hub: cannot encode event %q: %v", topic, err)
		return 0
	}

	delivered := 0
	for _, handle := range h.snapshot() {
		if handle.ReadyState() != StateOpen {
			h.Unregister(handle)
			continue
		}
		if identity != "" && handle.Identity() != identity {
			continue
		}
		if !handle.Enqueue(data) {
			// A full queue means the client stopped draining its socket.
			// Drop it so it cannot hold everyone else's events back.
			log.Printf("hub: send queue full for %q, dropping connection", handle.Identity())
			h.Unregister(handle)
			handle.Close()
			continue
		}
		delivered++
	}
	return delivered
}

// ListConnections returns handle snapshots for observability tooling.
func (h *Hub) ListConnections() []ConnectionInfo {
	handles := h.snapshot()
	infos := make([]ConnectionInfo, 0, len(handles))
	for _, handle := range handles {
		infos = append(infos, ConnectionInfo{
			Identity:   handle.Identity(),
			ReadyState: handle.ReadyState().String(),
			LastSeen:   handle.LastSeen(),
		})
	}
	return infos
}

// ReadLoop consumes inbound messages on a registered handle until the
// connection closes, then unregisters it. The only recognized inbound
// message is the identity registration; anything else is logged and dropped.
func (h *Hub) ReadLoop(handle *ConnectionHandle) {
	defer func() {
		h.Unregister(handle)
		handle.Close()
	}()

	for {
		_, msg, err := handle.conn.ReadMessage()
		if err != nil {
			return
		}
		handle.touch()

		var reg identityRegistration
		if err := json.Unmarshal(msg, &reg); err != nil {
			log.Printf("hub: dropping malformed inbound message: %v", err)
			continue
		}
		if reg.Type == identityRegistrationType {
			handle.SetIdentity(reg.Identity)
		}
	}
}
