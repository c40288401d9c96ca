// Package gossip keeps the mesh's picture of this node current. A ticker
// re-probes local connectivity and battery; material changes are announced
// to connected peers as a peerInfo flood.
package gossip

import (
	"sync"
	"time"

	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/metrics"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
)

const (
	DefaultInterval = 15 * time.Second
	// batteryDeltaThreshold is the fraction of battery movement worth
	// re-announcing.
	batteryDeltaThreshold = 0.10
)

// Prober reads this node's current status. Battery is in [0,1], or
// proto.BatteryUnknown when unreadable.
type Prober interface {
	Probe() (hasInternet bool, batteryLevel float64)
}

type ProberFunc func() (bool, float64)

func (f ProberFunc) Probe() (bool, float64) { return f() }

type Announcer struct {
	mu        sync.Mutex
	interval  time.Duration
	prober    Prober
	broadcast func(msg proto.Message, except peers.ID)
	metrics   *metrics.Metrics

	announced    bool
	hasInternet  bool
	batteryLevel float64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func New(interval time.Duration, prober Prober, broadcast func(proto.Message, peers.ID), m *metrics.Metrics) *Announcer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if m == nil {
		m = metrics.New()
	}
	return &Announcer{
		interval:     interval,
		prober:       prober,
		broadcast:    broadcast,
		metrics:      m,
		batteryLevel: proto.BatteryUnknown,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start probes and announces immediately, then re-probes on the ticker.
func (a *Announcer) Start() {
	a.Poll()
	go a.loop()
}

func (a *Announcer) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Poll()
		case <-a.stopCh:
			return
		}
	}
}

func (a *Announcer) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.done
}

// Poll probes once and announces if status moved enough to matter. The
// first poll always announces.
func (a *Announcer) Poll() {
	hasInternet, battery, changed := a.probe()
	if !changed {
		return
	}
	a.announce(hasInternet, battery)
}

// Announce probes and broadcasts regardless of change. Used when a fresh
// link needs our status without waiting for the next material change.
func (a *Announcer) Announce() {
	hasInternet, battery, _ := a.probe()
	a.announce(hasInternet, battery)
}

func (a *Announcer) probe() (hasInternet bool, battery float64, changed bool) {
	hasInternet, battery = a.prober.Probe()

	a.mu.Lock()
	changed = !a.announced ||
		hasInternet != a.hasInternet ||
		batteryChanged(a.batteryLevel, battery)
	a.announced = true
	a.hasInternet = hasInternet
	a.batteryLevel = battery
	a.mu.Unlock()
	return hasInternet, battery, changed
}

func (a *Announcer) announce(hasInternet bool, battery float64) {
	a.broadcast(proto.PeerInfoMsg{
		HasInternet:  hasInternet,
		BatteryLevel: battery,
	}, "")
	a.metrics.IncStatusSent()
	debuglog.Debugf("gossip: announced internet=%v battery=%.2f", hasInternet, battery)
}

func batteryChanged(prev, cur float64) bool {
	if prev == proto.BatteryUnknown || cur == proto.BatteryUnknown {
		return prev != cur
	}
	delta := cur - prev
	if delta < 0 {
		delta = -delta
	}
	return delta > batteryDeltaThreshold
}

// HasInternet reports the last probed connectivity. Before the first poll
// the node counts as offline.
func (a *Announcer) HasInternet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.announced && a.hasInternet
}

// Status returns the last probed values for the local status surface.
func (a *Announcer) Status() (hasInternet bool, batteryLevel float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasInternet, a.batteryLevel
}
