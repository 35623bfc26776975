package client

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Status is the connectivity snapshot delivered to monitor subscribers.
// IsOnline is true iff both the platform reports a network interface and the
// application's own backend answered a probe.
type Status struct {
	IsOnline        bool `json:"is_online"`
	IsServerOnline  bool `json:"is_server_online"`
	IsBrowserOnline bool `json:"is_browser_online"`
}

// StatusListener receives the current snapshot on subscribe and every change
// afterwards.
type StatusListener func(Status)

// MonitorOptions configures a ServerStatusMonitor.
type MonitorOptions struct {
	ProbeURL           string
	HTTPClient         *http.Client
	ProbeTimeout       time.Duration
	SteadyInterval     time.Duration
	AggressiveInterval time.Duration
	AggressiveCount    int
	MinProbeGap        time.Duration
}

func (o *MonitorOptions) applyDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	if o.SteadyInterval <= 0 {
		o.SteadyInterval = 30 * time.Second
	}
	if o.AggressiveInterval <= 0 {
		o.AggressiveInterval = 2 * time.Second
	}
	if o.AggressiveCount <= 0 {
		o.AggressiveCount = 3
	}
	if o.MinProbeGap <= 0 {
		o.MinProbeGap = 1 * time.Second
	}
}

// ServerStatusMonitor distinguishes "the device has a network interface"
// from "our backend is reachable", verified by rate-limited active probing.
// Reference-counted: timers start with the first subscriber and stop with
// the last unsubscribe.
type ServerStatusMonitor struct {
	opts MonitorOptions

	mu            sync.Mutex
	browserOnline bool
	serverOnline  bool
	listeners     map[int]StatusListener
	nextID        int
	stopCh        chan struct{}
	lastProbe     time.Time
	probing       bool
	burstGen      int
}

// NewServerStatusMonitor creates a monitor. The platform signal starts as
// online; feed transitions through SetNetworkAvailable.
func NewServerStatusMonitor(opts MonitorOptions) *ServerStatusMonitor {
	opts.applyDefaults()
	return &ServerStatusMonitor{
		opts:          opts,
		browserOnline: true,
		listeners:     make(map[int]StatusListener),
	}
}

func statusLocked(browserOnline, serverOnline bool) Status {
	return Status{
		IsOnline:        browserOnline && serverOnline,
		IsServerOnline:  serverOnline,
		IsBrowserOnline: browserOnline,
	}
}

// Status returns the current snapshot.
func (m *ServerStatusMonitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return statusLocked(m.browserOnline, m.serverOnline)
}

// Subscribe registers a listener, delivers the current snapshot to it
// immediately and returns an unsubscribe function. The first subscriber
// starts the probe timers.
func (m *ServerStatusMonitor) Subscribe(fn StatusListener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	first := len(m.listeners) == 1
	snapshot := statusLocked(m.browserOnline, m.serverOnline)
	if first {
		m.stopCh = make(chan struct{})
		go m.steadyLoop(m.stopCh)
	}
	m.mu.Unlock()

	safeInvoke(func() { fn(snapshot) })

	if first {
		go m.probe()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			if len(m.listeners) == 0 && m.stopCh != nil {
				close(m.stopCh)
				m.stopCh = nil
				m.burstGen++
			}
			m.mu.Unlock()
		})
	}
}

// SetNetworkAvailable feeds the platform online/offline signal. Offline sets
// both flags false immediately without probing; online triggers a forced
// probe plus a fixed burst of aggressive follow-ups to catch a backend that
// is still warming up.
func (m *ServerStatusMonitor) SetNetworkAvailable(online bool) {
	m.mu.Lock()
	if m.browserOnline == online {
		m.mu.Unlock()
		return
	}
	m.browserOnline = online
	m.burstGen++
	gen := m.burstGen
	running := m.stopCh != nil
	if !online {
		m.serverOnline = false
	}
	snapshot := statusLocked(m.browserOnline, m.serverOnline)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)

	if online && running {
		go m.aggressiveBurst(gen)
	}
}

// steadyLoop probes on the slow interval while the platform reports online.
func (m *ServerStatusMonitor) steadyLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.opts.SteadyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			online := m.browserOnline
			m.mu.Unlock()
			if online {
				m.probe()
			}
		case <-stop:
			return
		}
	}
}

// aggressiveBurst issues an immediate probe followed by a fixed count of
// follow-ups at the aggressive interval. The burst is abandoned when the
// platform goes offline again or the monitor stops.
func (m *ServerStatusMonitor) aggressiveBurst(gen int) {
	for i := 0; i <= m.opts.AggressiveCount; i++ {
		m.mu.Lock()
		stale := gen != m.burstGen || !m.browserOnline
		m.mu.Unlock()
		if stale {
			return
		}
		m.probe()
		if i < m.opts.AggressiveCount {
			time.Sleep(m.opts.AggressiveInterval)
		}
	}
}

// probe performs one reachability check. The shared min-gap guard covers the
// steady interval, the forced probe and the aggressive burst, so overlapping
// outstanding probes never occur.
func (m *ServerStatusMonitor) probe() {
	m.mu.Lock()
	if m.probing || time.Since(m.lastProbe) < m.opts.MinProbeGap {
		m.mu.Unlock()
		return
	}
	m.probing = true
	m.lastProbe = time.Now()
	m.mu.Unlock()

	reachable := m.checkServer()

	m.mu.Lock()
	m.probing = false
	changed := m.serverOnline != reachable
	m.serverOnline = reachable
	snapshot := statusLocked(m.browserOnline, m.serverOnline)
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()

	if changed {
		notify(listeners, snapshot)
	}
}

// checkServer is a cheap existence check with a bounded timeout. Timeout or
// a non-success status means unreachable.
func (m *ServerStatusMonitor) checkServer() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.opts.ProbeURL, nil)
	if err != nil {
		log.Printf("client: invalid probe url %s: %v", m.opts.ProbeURL, err)
		return false
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (m *ServerStatusMonitor) snapshotListenersLocked() []StatusListener {
	listeners := make([]StatusListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func notify(listeners []StatusListener, s Status) {
	for _, fn := range listeners {
		fn := fn
		safeInvoke(func() { fn(s) })
	}
}
