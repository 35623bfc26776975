package client

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrMaxRetries is surfaced through OnError when the reconnect loop gives up.
var ErrMaxRetries = errors.New("client: maximum reconnection attempts reached")

// Event is a named broadcast message received from the server.
type Event struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// identityRegistration is sent once per connection open when an identity is
// bound.
type identityRegistration struct {
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// Listener observes connection lifecycle and inbound events. All fields are
// optional. Removal is by-reference: keep the pointer you registered.
type Listener struct {
	OnOpen    func()
	OnMessage func(Event)
	OnClose   func()
	OnError   func(error)
}

// ConnOptions configures a ConnectionManager.
type ConnOptions struct {
	URL     string
	Backoff Backoff
	Dialer  *websocket.Dialer
}

// ConnectionManager owns exactly one live transport connection and fans
// inbound events out to registered listeners. It reconnects with truncated
// exponential backoff until the retry cap, and never queues outbound data.
type ConnectionManager struct {
	opts ConnOptions

	// writeMu serializes transport writes; the websocket allows only one
	// concurrent writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	identity       string
	bound          bool
	attempts       int
	reconnectTimer *time.Timer
	// gen invalidates read pumps and reconnect timers belonging to a torn
	// down connection, so a late-firing timer cannot resurrect it.
	gen       int
	listeners map[*Listener]struct{}
}

// NewConnectionManager creates a manager. No connection is made until
// Initialize is called.
func NewConnectionManager(opts ConnOptions) *ConnectionManager {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = Backoff{Base: 500 * time.Millisecond, Cap: 30 * time.Second, MaxRetries: 10}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &ConnectionManager{
		opts:      opts,
		listeners: make(map[*Listener]struct{}),
	}
}

// Initialize connects with the given identity (empty for anonymous).
// Idempotent: calling it again with the same identity is a no-op. A
// different identity tears the transport down and rebuilds it so no state
// leaks across identity changes.
func (c *ConnectionManager) Initialize(identity string) {
	c.mu.Lock()
	if c.bound && c.identity == identity {
		c.mu.Unlock()
		return
	}
	if c.bound {
		c.teardownLocked()
	}
	c.bound = true
	c.identity = identity
	c.attempts = 0
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

// AddListener registers an observer. The same pointer passed to
// RemoveListener unregisters it; callers own unregistration.
func (c *ConnectionManager) AddListener(l *Listener) {
	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()
}

// RemoveListener unregisters a previously added observer.
func (c *ConnectionManager) RemoveListener(l *Listener) {
	c.mu.Lock()
	delete(c.listeners, l)
	c.mu.Unlock()
}

// Send writes raw data to the transport. Returns false, with a warning, when
// the transport is not open. Never queues: at-most-once, fire-and-forget.
func (c *ConnectionManager) Send(data []byte) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		log.Printf("client: send dropped, transport not open")
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("client: send failed: %v", err)
		return false
	}
	return true
}

// SendJSON marshals obj and sends it. Same contract as Send.
func (c *ConnectionManager) SendJSON(obj any) bool {
	data, err := json.Marshal(obj)
	if err != nil {
		log.Printf("client: send dropped, cannot encode payload: %v", err)
		return false
	}
	return c.Send(data)
}

// Disconnect tears down the connection and cancels any pending reconnect.
// After Disconnect no new transport is opened until Initialize is called
// again.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	c.bound = false
	c.mu.Unlock()
}

// teardownLocked invalidates the current generation, stops the reconnect
// timer and closes the transport. Bumping gen first detaches the read pump
// and any in-flight dial before the close, so neither can re-trigger
// reconnection.
func (c *ConnectionManager) teardownLocked() {
	c.gen++
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.attempts = 0
}

// dial attempts one connection for the given generation.
func (c *ConnectionManager) dial(gen int) {
	conn, resp, err := c.opts.Dialer.Dial(c.opts.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Printf("client: connect to %s failed: %v", c.opts.URL, err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.attempts = 0
	identity := c.identity
	listeners := c.snapshotLocked()
	c.mu.Unlock()

	if identity != "" {
		c.SendJSON(identityRegistration{Type: "IDENTITY_REGISTRATION", Identity: identity})
	}
	for _, l := range listeners {
		if l.OnOpen != nil {
			safeInvoke(func() { l.OnOpen() })
		}
	}

	go c.readPump(gen, conn)
}

// readPump consumes inbound messages until the connection closes.
func (c *ConnectionManager) readPump(gen int, conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen)
			return
		}

		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			log.Printf("client: dropping malformed message: %v", err)
			continue
		}

		c.mu.Lock()
		stale := gen != c.gen
		listeners := c.snapshotLocked()
		c.mu.Unlock()
		if stale {
			return
		}

		// Each invocation is isolated: one panicking listener must not
		// prevent delivery to the others.
		for _, l := range listeners {
			if l.OnMessage != nil {
				safeInvoke(func() { l.OnMessage(event) })
			}
		}
	}
}

// handleClose runs after the read pump exits. Stale generations (explicit
// teardown already happened) are ignored.
func (c *ConnectionManager) handleClose(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	listeners := c.snapshotLocked()
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	for _, l := range listeners {
		if l.OnClose != nil {
			safeInvoke(func() { l.OnClose() })
		}
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// surfaces ErrMaxRetries when the retry cap is reached.
func (c *ConnectionManager) scheduleReconnectLocked() {
	if c.opts.Backoff.Exhausted(c.attempts) {
		listeners := c.snapshotLocked()
		go func() {
			for _, l := range listeners {
				if l.OnError != nil {
					safeInvoke(func() { l.OnError(ErrMaxRetries) })
				}
			}
		}()
		return
	}

	delay := c.opts.Backoff.Delay(c.attempts)
	c.attempts++
	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		valid := gen == c.gen
		c.mu.Unlock()
		if valid {
			c.dial(gen)
		}
	})
}

func (c *ConnectionManager) snapshotLocked() []*Listener {
	listeners := make([]*Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("client: listener panicked: %v", r)
		}
	}()
	fn()
}
