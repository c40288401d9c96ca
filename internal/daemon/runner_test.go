package daemon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"meshpaymvp/internal/config"
	"meshpaymvp/internal/gossip"
	"meshpaymvp/internal/payments"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
	"meshpaymvp/internal/testutil"
)

// hub is an in-memory mesh: runners exchange encoded messages over
// declared links, delivered asynchronously like a real transport.
type hub struct {
	mu    sync.Mutex
	nodes map[peers.ID]*Runner
	links map[peers.ID]map[peers.ID]bool
}

func newHub() *hub {
	return &hub{
		nodes: make(map[peers.ID]*Runner),
		links: make(map[peers.ID]map[peers.ID]bool),
	}
}

func (h *hub) link(a, b peers.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.links[a] == nil {
		h.links[a] = make(map[peers.ID]bool)
	}
	if h.links[b] == nil {
		h.links[b] = make(map[peers.ID]bool)
	}
	h.links[a][b] = true
	h.links[b][a] = true
}

func (h *hub) neighbors(id peers.ID) []peers.ID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]peers.ID, 0, len(h.links[id]))
	for n := range h.links[id] {
		out = append(out, n)
	}
	return out
}

type hubTransport struct {
	h    *hub
	self peers.ID
}

func (t *hubTransport) ConnectedPeers() []peers.ID { return t.h.neighbors(t.self) }

func (t *hubTransport) Send(ctx context.Context, to peers.ID, data []byte) error {
	t.h.mu.Lock()
	linked := t.h.links[t.self][to]
	target := t.h.nodes[to]
	t.h.mu.Unlock()
	if !linked || target == nil {
		return fmt.Errorf("no link %s -> %s", t.self, to)
	}
	cp := append([]byte(nil), data...)
	go target.OnReceive(t.self, cp)
	return nil
}

type fakeLedger struct {
	mu          sync.Mutex
	submissions [][]byte
	submitErr   error
	balance     int64
	sequence    int64
}

func (l *fakeLedger) Submit(ctx context.Context, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return "", l.submitErr
	}
	l.submissions = append(l.submissions, append([]byte(nil), payload...))
	return fmt.Sprintf("tx-%d", len(l.submissions)), nil
}

func (l *fakeLedger) FetchBalance(ctx context.Context, accountID string) (int64, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, l.sequence, nil
}

func (l *fakeLedger) submitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.submissions)
}

func testConfig(t *testing.T, id string, baseDelay time.Duration) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = id
	cfg.Account = "G" + id
	cfg.DataDir = t.TempDir()
	cfg.Relay.BaseDelay = config.Duration(baseDelay)
	cfg.Relay.Jitter = 0
	cfg.Balance.RequestTimeout = config.Duration(200 * time.Millisecond)
	cfg.Gossip.Interval = config.Duration(time.Hour)
	cfg.Metrics.SnapshotInterval = config.Duration(time.Hour)
	return cfg
}

func newTestNode(t *testing.T, h *hub, id string, online bool, ledger *fakeLedger, baseDelay time.Duration) *Runner {
	t.Helper()
	r, err := NewRunner(testConfig(t, id, baseDelay), Options{
		Transport: &hubTransport{h: h, self: peers.ID(id)},
		Ledger:    ledger,
		Prober:    gossip.ProberFunc(func() (bool, float64) { return online, 0.9 }),
	})
	if err != nil {
		t.Fatalf("NewRunner(%s): %v", id, err)
	}
	h.mu.Lock()
	h.nodes[peers.ID(id)] = r
	h.mu.Unlock()
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

func TestPaymentSettlesAcrossMesh(t *testing.T) {
	h := newHub()
	ledger := &fakeLedger{}
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	_ = newTestNode(t, h, "node-b", false, &fakeLedger{}, 20*time.Millisecond)
	c := newTestNode(t, h, "node-c", true, ledger, 20*time.Millisecond)
	h.link("node-a", "node-b")
	h.link("node-b", "node-c")

	payload := []byte("signed-payment-alpha")
	p, err := a.Originate("GDEST", "25", payload)
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if p.Status != payments.StatusPending {
		t.Fatalf("new payment status = %s", p.Status)
	}

	testutil.WaitUntil(t, 3*time.Second, func() bool { return ledger.submitted() == 1 })
	if string(ledger.submissions[0]) != "signed-payment-alpha" {
		t.Fatalf("ledger got payload %q", ledger.submissions[0])
	}

	testutil.WaitUntil(t, 3*time.Second, func() bool {
		got := a.Tracker().List(1)
		return len(got) == 1 && got[0].Status == payments.StatusConfirmed
	})
	resolved := a.Tracker().List(1)[0]
	if resolved.LedgerID != "tx-1" {
		t.Fatalf("ledger id = %q", resolved.LedgerID)
	}

	// 1% total fee split on a 25 gross.
	recent := c.Metrics().Recent().List()
	if len(recent) != 1 || recent[0].NetAmount != "24.75" {
		t.Fatalf("recent submissions = %+v", recent)
	}
}

func TestDuplicateFloodSubmitsOnce(t *testing.T) {
	h := newHub()
	ledger := &fakeLedger{}
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	_ = newTestNode(t, h, "node-b", false, &fakeLedger{}, 20*time.Millisecond)
	c := newTestNode(t, h, "node-c", true, ledger, 20*time.Millisecond)
	// Triangle: the request reaches node-c on two paths.
	h.link("node-a", "node-b")
	h.link("node-a", "node-c")
	h.link("node-b", "node-c")

	if _, err := a.Originate("GDEST", "10", []byte("signed-payment-beta")); err != nil {
		t.Fatalf("Originate: %v", err)
	}

	testutil.WaitUntil(t, 3*time.Second, func() bool { return ledger.submitted() >= 1 })
	time.Sleep(200 * time.Millisecond)
	if ledger.submitted() != 1 {
		t.Fatalf("submitted %d times, want exactly 1", ledger.submitted())
	}
	if c.Metrics().Snapshot().Relay.DropDuplicate == 0 {
		t.Fatalf("second copy was not counted as a duplicate")
	}
}

func TestFirstConfirmationCancelsSlowerRelayer(t *testing.T) {
	h := newHub()
	fast := &fakeLedger{}
	slow := &fakeLedger{}
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	c := newTestNode(t, h, "node-c", true, fast, 20*time.Millisecond)
	d := newTestNode(t, h, "node-d", true, slow, 2*time.Second)
	h.link("node-a", "node-c")
	h.link("node-a", "node-d")
	h.link("node-c", "node-d")

	if _, err := a.Originate("GDEST", "5", []byte("signed-payment-gamma")); err != nil {
		t.Fatalf("Originate: %v", err)
	}

	testutil.WaitUntil(t, 3*time.Second, func() bool { return fast.submitted() == 1 })
	testutil.WaitUntil(t, 3*time.Second, func() bool { return d.Relay().PendingCount() == 0 })
	if slow.submitted() != 0 {
		t.Fatalf("slower relayer still submitted")
	}
	_ = c
}

func TestOnlineOriginatorSubmitsItself(t *testing.T) {
	h := newHub()
	ledger := &fakeLedger{}
	a := newTestNode(t, h, "node-a", true, ledger, 20*time.Millisecond)

	if _, err := a.Originate("GDEST", "1", []byte("signed-payment-delta")); err != nil {
		t.Fatalf("Originate: %v", err)
	}
	testutil.WaitUntil(t, 3*time.Second, func() bool { return ledger.submitted() == 1 })
	testutil.WaitUntil(t, 3*time.Second, func() bool {
		got := a.Tracker().List(1)
		return len(got) == 1 && got[0].Status == payments.StatusConfirmed
	})
}

func TestBalanceThroughMesh(t *testing.T) {
	h := newHub()
	ledger := &fakeLedger{balance: 123450000, sequence: 5}
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	b := newTestNode(t, h, "node-b", true, ledger, 20*time.Millisecond)
	h.link("node-a", "node-b")

	// Link-up pushes both statuses so node-a learns node-b is capable.
	a.OnPeerStateChange("node-b", peers.StateConnected)
	b.OnPeerStateChange("node-a", peers.StateConnected)
	testutil.WaitUntil(t, 3*time.Second, func() bool {
		return len(a.Registry().InternetCapable()) == 1
	})

	if !a.RequestBalance(context.Background()) {
		t.Fatalf("RequestBalance returned false with a capable peer")
	}
	testutil.WaitUntil(t, 3*time.Second, func() bool {
		_, ok := a.Balance().CachedBalance()
		return ok
	})
	cached, _ := a.Balance().CachedBalance()
	if got := proto.FormatAmount(cached.Balance); got != "12.345" {
		t.Fatalf("cached balance = %s", got)
	}
	if cached.Sequence != 5 {
		t.Fatalf("cached sequence = %d", cached.Sequence)
	}
}

func TestBalanceNoCapablePeers(t *testing.T) {
	h := newHub()
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	if a.RequestBalance(context.Background()) {
		t.Fatalf("RequestBalance succeeded with no capable peer")
	}
}

func TestGarbageFramesDropped(t *testing.T) {
	h := newHub()
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)

	a.OnReceive("node-x", []byte("not json"))
	a.OnReceive("node-x", []byte(`{"type":"frobnicate"}`))
	a.OnReceive("node-x", nil)

	if got := a.Metrics().Snapshot().Relay.DropDecode; got != 3 {
		t.Fatalf("drop_decode = %d, want 3", got)
	}
	if a.Tracker().Len() != 0 {
		t.Fatalf("garbage mutated tracker state")
	}
}

func TestPingBumpsLastSeen(t *testing.T) {
	h := newHub()
	a := newTestNode(t, h, "node-a", false, &fakeLedger{}, 20*time.Millisecond)
	a.OnPeerStateChange("node-b", peers.StateConnected)
	before, ok := a.Registry().Get("node-b")
	if !ok {
		t.Fatalf("peer not registered")
	}

	time.Sleep(10 * time.Millisecond)
	data, err := proto.Encode(proto.PingMsg{Nonce: 7})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	a.OnReceive("node-b", data)

	after, _ := a.Registry().Get("node-b")
	if !after.LastSeen.After(before.LastSeen) {
		t.Fatalf("ping did not bump last seen")
	}
}
