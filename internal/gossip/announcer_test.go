package gossip

import (
	"sync"
	"testing"
	"time"

	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
	"meshpaymvp/internal/testutil"
)

type probeState struct {
	mu       sync.Mutex
	internet bool
	battery  float64
}

func (p *probeState) probe() (bool, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.internet, p.battery
}

func (p *probeState) set(internet bool, battery float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.internet = internet
	p.battery = battery
}

type announceLog struct {
	mu   sync.Mutex
	msgs []proto.PeerInfoMsg
}

func (l *announceLog) broadcast(msg proto.Message, _ peers.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := msg.(proto.PeerInfoMsg); ok {
		l.msgs = append(l.msgs, m)
	}
}

func (l *announceLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func (l *announceLog) last() proto.PeerInfoMsg {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msgs[len(l.msgs)-1]
}

func TestFirstPollAlwaysAnnounces(t *testing.T) {
	probe := &probeState{internet: false, battery: 0.8}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	if log.count() != 1 {
		t.Fatalf("announced %d times, want 1", log.count())
	}
	if log.last().HasInternet {
		t.Fatalf("announced internet=true for an offline node")
	}
	if log.last().BatteryLevel != 0.8 {
		t.Fatalf("battery = %v", log.last().BatteryLevel)
	}
}

func TestUnchangedStatusIsQuiet(t *testing.T) {
	probe := &probeState{internet: true, battery: 0.5}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	a.Poll()
	a.Poll()
	if log.count() != 1 {
		t.Fatalf("announced %d times for an unchanged status", log.count())
	}
}

func TestInternetFlipAnnounces(t *testing.T) {
	probe := &probeState{internet: false, battery: 0.5}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	probe.set(true, 0.5)
	a.Poll()
	if log.count() != 2 {
		t.Fatalf("announced %d times, want 2", log.count())
	}
	if !log.last().HasInternet {
		t.Fatalf("flip not announced")
	}
	if !a.HasInternet() {
		t.Fatalf("HasInternet() = false after flip")
	}
}

func TestSmallBatteryDriftIsQuiet(t *testing.T) {
	probe := &probeState{internet: true, battery: 0.50}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	probe.set(true, 0.45)
	a.Poll()
	if log.count() != 1 {
		t.Fatalf("5%% drift announced")
	}
	probe.set(true, 0.34)
	a.Poll()
	if log.count() != 2 {
		t.Fatalf("16%% drop not announced")
	}
}

func TestBatteryUnknownTransitionAnnounces(t *testing.T) {
	probe := &probeState{internet: true, battery: 0.9}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	probe.set(true, proto.BatteryUnknown)
	a.Poll()
	if log.count() != 2 {
		t.Fatalf("transition to unknown not announced")
	}
	probe.set(true, 0.9)
	a.Poll()
	if log.count() != 3 {
		t.Fatalf("transition from unknown not announced")
	}
}

func TestAnnounceSkipsChangeDetection(t *testing.T) {
	probe := &probeState{internet: true, battery: 0.5}
	log := &announceLog{}
	a := New(time.Hour, ProberFunc(probe.probe), log.broadcast, nil)

	a.Poll()
	a.Announce()
	if log.count() != 2 {
		t.Fatalf("forced announce suppressed, count = %d", log.count())
	}
}

func TestTickerDrivesPolls(t *testing.T) {
	probe := &probeState{internet: false, battery: 0.5}
	log := &announceLog{}
	a := New(10*time.Millisecond, ProberFunc(probe.probe), log.broadcast, nil)

	a.Start()
	defer a.Stop()

	probe.set(true, 0.5)
	testutil.WaitUntil(t, time.Second, func() bool { return log.count() >= 2 })
}

func TestHasInternetBeforeFirstPoll(t *testing.T) {
	a := New(time.Hour, ProberFunc(func() (bool, float64) { return true, 1 }), (&announceLog{}).broadcast, nil)
	if a.HasInternet() {
		t.Fatalf("node counted online before any probe")
	}
}
