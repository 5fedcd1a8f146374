package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/kalambet/tabstate/internal/events"
)

// Prober reports whether the network is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Always is a Prober that never changes its answer.
type Always bool

func (a Always) Probe(context.Context) bool { return bool(a) }

// DialProber considers the network up when a TCP connection to Address
// succeeds. Proxy settings from ALL_PROXY/NO_PROXY are honoured.
type DialProber struct {
	Address string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := proxy.FromEnvironmentUsing(&net.Dialer{Timeout: timeout})
	var (
		conn net.Conn
		err  error
	)
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", p.Address)
	} else {
		conn, err = dialer.Dial("tcp", p.Address)
	}
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Monitor periodically probes and dispatches online/offline on transitions.
type Monitor struct {
	prober   Prober
	bus      *events.Bus
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
}

// NewMonitor creates a Monitor that assumes the network is up until a probe
// says otherwise. If interval is <= 0, it defaults to 10s.
func NewMonitor(prober Prober, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		bus:      bus,
		interval: interval,
		logger:   slog.Default(),
		online:   true,
	}
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Prime probes once and records the result without dispatching anything.
func (m *Monitor) Prime(ctx context.Context) bool {
	up := m.prober.Probe(ctx)
	m.mu.Lock()
	m.online = up
	m.mu.Unlock()
	return up
}

// Check probes once and dispatches an event if the state changed.
func (m *Monitor) Check(ctx context.Context) bool {
	up := m.prober.Probe(ctx)

	m.mu.Lock()
	changed := up != m.online
	m.online = up
	m.mu.Unlock()

	if changed {
		name := events.Offline
		if up {
			name = events.Online
		}
		m.logger.Info("connectivity changed", "event", name)
		m.bus.Dispatch(events.Event{Name: name})
	}
	return up
}

// Run checks every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
