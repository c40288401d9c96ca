package peers

import (
	"sort"
	"sync"
	"time"
)

// ID is an opaque mesh-session identifier for a participant. The transport
// mints it; the core never inspects its contents.
type ID string

type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// BatteryUnknown marks peers that never reported a battery level.
const BatteryUnknown = float64(-1)

type Info struct {
	ID           ID
	HasInternet  bool
	BatteryLevel float64
	LastSeen     time.Time
	State        ConnState
}

// Registry tracks currently reachable peers and their last-known capability.
// Written on transport state changes and inbound status gossip; read by the
// relay and balance coordinators.
type Registry struct {
	mu    sync.Mutex
	peers map[ID]*Info
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[ID]*Info)}
}

// ApplyTransportState records a link state change. A disconnect destroys the
// entry: capability claims from a gone peer must not linger.
func (r *Registry) ApplyTransportState(id ID, state ConnState) {
	if id == "" {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == StateDisconnected {
		delete(r.peers, id)
		return
	}
	p, ok := r.peers[id]
	if !ok {
		p = &Info{ID: id, BatteryLevel: BatteryUnknown}
		r.peers[id] = p
	}
	p.State = state
	p.LastSeen = now
}

// ApplyStatus applies an inbound status-gossip message from id. A peer we
// hear from is treated as connected even if the transport event raced.
func (r *Registry) ApplyStatus(id ID, hasInternet bool, batteryLevel float64) {
	if id == "" {
		return
	}
	if batteryLevel != BatteryUnknown && (batteryLevel < 0 || batteryLevel > 1) {
		batteryLevel = BatteryUnknown
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		p = &Info{ID: id}
		r.peers[id] = p
	}
	p.State = StateConnected
	p.HasInternet = hasInternet
	p.BatteryLevel = batteryLevel
	p.LastSeen = now
}

// Touch bumps LastSeen for a peer we received any message from.
func (r *Registry) Touch(id ID) {
	if id == "" {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.LastSeen = now
	}
}

func (r *Registry) Get(id ID) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return Info{}, false
	}
	return *p, true
}

func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connected returns the IDs of peers with an established link.
func (r *Registry) Connected() []ID {
	r.mu.Lock()
	out := make([]ID, 0, len(r.peers))
	for _, p := range r.peers {
		if p.State == StateConnected {
			out = append(out, p.ID)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InternetCapable returns connected peers that last reported internet
// reachability. This is the candidate relay set for balance requests.
func (r *Registry) InternetCapable() []ID {
	r.mu.Lock()
	out := make([]ID, 0, len(r.peers))
	for _, p := range r.peers {
		if p.State == StateConnected && p.HasInternet {
			out = append(out, p.ID)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
