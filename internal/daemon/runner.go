// Package daemon wires the node together: transport frames in, decoded
// messages routed to the dedup filter, relay coordinator, payment tracker,
// balance coordinator, and peer registry. All ledger and mesh I/O goes
// through two injected seams so the daemon itself stays testable offline.
package daemon

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meshpaymvp/internal/balance"
	"meshpaymvp/internal/config"
	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/dedup"
	"meshpaymvp/internal/gossip"
	"meshpaymvp/internal/metrics"
	"meshpaymvp/internal/payments"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
	"meshpaymvp/internal/relay"
)

const sendTimeout = 5 * time.Second

// Transport moves encoded messages between directly connected peers.
// Delivery is best effort; the mesh re-flood is the only retry.
type Transport interface {
	ConnectedPeers() []peers.ID
	Send(ctx context.Context, to peers.ID, data []byte) error
}

// Ledger is the node's window onto the settlement ledger. Submit relays a
// signed payment payload; FetchBalance reads an account.
type Ledger interface {
	Submit(ctx context.Context, signedPayload []byte) (ledgerID string, err error)
	FetchBalance(ctx context.Context, accountID string) (balance, sequence int64, err error)
}

type Options struct {
	Transport Transport
	Ledger    Ledger
	Prober    gossip.Prober
	Metrics   *metrics.Metrics
	// SnapshotPath overrides the metrics snapshot location, default
	// <data_dir>/metrics.json.
	SnapshotPath string
}

type Runner struct {
	self      peers.ID
	cfg       config.Config
	transport Transport
	ledger    Ledger
	metrics   *metrics.Metrics

	registry  *peers.Registry
	dedup     *dedup.Store
	tracker   *payments.Tracker
	relay     *relay.Coordinator
	balance   *balance.Coordinator
	announcer *gossip.Announcer

	snapPath string
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRunner(cfg config.Config, opts Options) (*Runner, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("missing node_id")
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("missing account")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("missing transport")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("missing ledger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	prober := opts.Prober
	if prober == nil {
		// No probe source: the node counts as offline and never relays.
		prober = gossip.ProberFunc(func() (bool, float64) { return false, proto.BatteryUnknown })
	}
	snapPath := opts.SnapshotPath
	if snapPath == "" {
		snapPath = cfg.Metrics.SnapshotPath
	}
	if snapPath == "" {
		snapPath = filepath.Join(cfg.DataDir, "metrics.json")
	}

	tracker, err := payments.NewTracker(filepath.Join(cfg.DataDir, "payments.jsonl"), payments.Options{
		MatchOldestPending: cfg.Payments.MatchOldestPending,
	})
	if err != nil {
		return nil, err
	}

	r := &Runner{
		self:      peers.ID(cfg.NodeID),
		cfg:       cfg,
		transport: opts.Transport,
		ledger:    opts.Ledger,
		metrics:   m,
		registry:  peers.NewRegistry(),
		dedup:     dedup.New(cfg.Dedup.Window.Std(), cfg.Dedup.Retention.Std()),
		tracker:   tracker,
		snapPath:  snapPath,
		stopCh:    make(chan struct{}),
	}
	r.announcer = gossip.New(cfg.Gossip.Interval.Std(), prober, r.broadcast, m)

	jitter := cfg.Relay.Jitter.Std()
	if jitter == 0 {
		jitter = -1
	}
	r.relay = relay.New(relay.Config{
		BaseDelay:     cfg.Relay.BaseDelay.Std(),
		Jitter:        jitter,
		SubmitTimeout: cfg.Relay.SubmitTimeout.Std(),
		RetryOnFailed: cfg.Relay.RetryOnFailed,
		FeeTable:      cfg.Fees.Table(),
	}, r.self, r.online, opts.Ledger, r.broadcast, r.onRelayOutcome, m)

	r.balance = balance.New(cfg.Account, cfg.Balance.RequestTimeout.Std(), r.online,
		opts.Ledger, r.registry.InternetCapable, r.unicast, m)

	return r, nil
}

func (r *Runner) online() bool { return r.announcer.HasInternet() }

// Start launches the status announcer, the dedup sweeper, and the metrics
// snapshot writer.
func (r *Runner) Start() {
	r.announcer.Start()

	sweep := r.cfg.Dedup.Window.Std() / 2
	if sweep <= 0 {
		sweep = 30 * time.Second
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.dedup.Sweep(time.Now()); n > 0 {
					debuglog.Debugf("daemon: swept %d dedup entries", n)
				}
			case <-r.stopCh:
				return
			}
		}
	}()

	snapInterval := r.cfg.Metrics.SnapshotInterval.Std()
	if snapInterval <= 0 {
		snapInterval = 30 * time.Second
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(snapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.metrics.SetPeerCount(uint64(r.registry.Len()))
				if err := r.metrics.WriteSnapshot(r.snapPath); err != nil {
					debuglog.Debugf("daemon: snapshot write failed: %v", err)
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.announcer.Stop()
	r.wg.Wait()
}

// OnReceive is the transport's inbound entry point: one encoded message
// from one directly connected peer.
func (r *Runner) OnReceive(from peers.ID, data []byte) {
	msg, err := proto.Decode(data)
	if err != nil {
		r.metrics.IncDropDecode()
		debuglog.RateLimitedf("recv-drop", time.Second, "daemon: drop from %s: %v", from, err)
		return
	}
	r.registry.Touch(from)
	switch m := msg.(type) {
	case proto.PaymentRequestMsg:
		r.handlePaymentRequest(m, from)
	case proto.PaymentConfirmationMsg:
		r.handleConfirmation(m, from)
	case proto.PeerInfoMsg:
		r.registry.ApplyStatus(from, m.HasInternet, m.BatteryLevel)
		r.metrics.SetPeerCount(uint64(r.registry.Len()))
	case proto.PingMsg:
		// Touch above is the whole effect.
	case proto.BalanceRequestMsg:
		r.balance.HandleRequest(m, from)
	case proto.BalanceUpdateMsg:
		r.balance.HandleReply(m)
	default:
		r.metrics.IncDropDecode()
	}
}

// OnPeerStateChange is the transport's connectivity entry point.
func (r *Runner) OnPeerStateChange(id peers.ID, state peers.ConnState) {
	r.registry.ApplyTransportState(id, state)
	r.metrics.SetPeerCount(uint64(r.registry.Len()))
	if state == peers.StateConnected {
		// A fresh link gets our status without waiting for the ticker.
		r.announcer.Announce()
	}
}

func (r *Runner) handlePaymentRequest(m proto.PaymentRequestMsg, from peers.ID) {
	payload, err := m.Payload()
	if err != nil {
		r.metrics.IncDropDecode()
		return
	}
	fp := proto.FingerprintOf(payload)
	now := time.Now()
	if r.dedup.Seen(fp, now) {
		r.metrics.IncDropDuplicate()
		return
	}
	r.dedup.Record(fp, now)
	r.metrics.IncRequestsReceived()
	r.relay.HandleRequest(m, payload, fp, from)
}

func (r *Runner) handleConfirmation(m proto.PaymentConfirmationMsg, from peers.ID) {
	fp, err := proto.ParseFingerprint(m.Fingerprint)
	if err != nil {
		r.metrics.IncDropDecode()
		return
	}
	key := proto.ConfirmationKey(fp, m.Status)
	now := time.Now()
	if r.dedup.Seen(key, now) {
		r.metrics.IncDropDuplicate()
		return
	}
	r.dedup.Record(key, now)

	r.relay.HandleConfirmation(fp, m.Status)
	if p, ok := r.tracker.Resolve(fp, m.LedgerID, m.Status == proto.StatusConfirmed); ok {
		debuglog.Logf("daemon: payment %s %s ledger_id=%s", p.LocalID, m.Status, m.LedgerID)
		if m.Status == proto.StatusConfirmed {
			r.refreshAfterSettlement()
		}
	}

	// Propagate toward the origin; the dedup key stops the echo.
	r.broadcast(m, from)
	r.metrics.IncConfirmationsRelayed()
}

// Originate records a local pending payment and floods its request. The
// broadcaster slot stays empty: it belongs to the first relay-incapable
// forwarder. If this node is itself online it also competes to relay.
func (r *Runner) Originate(recipient, grossAmount string, signedPayload []byte) (payments.Payment, error) {
	if recipient == "" {
		return payments.Payment{}, fmt.Errorf("missing recipient")
	}
	gross, err := proto.ParseAmount(grossAmount)
	if err != nil {
		return payments.Payment{}, fmt.Errorf("bad amount: %w", err)
	}
	if len(signedPayload) == 0 {
		return payments.Payment{}, fmt.Errorf("missing signed payload")
	}
	fp := proto.FingerprintOf(signedPayload)
	p, err := r.tracker.Create(fp, gross, recipient)
	if err != nil {
		return payments.Payment{}, err
	}
	msg := proto.PaymentRequestMsg{
		Recipient:     recipient,
		GrossAmount:   proto.FormatAmount(gross),
		SignedPayload: hex.EncodeToString(signedPayload),
		Originator:    string(r.self),
	}
	r.broadcast(msg, "")
	if r.online() {
		r.relay.Schedule(msg, signedPayload, fp)
	}
	return p, nil
}

// RequestBalance refreshes the cached balance: directly from the ledger
// when online, through the mesh otherwise. Reports whether a refresh is
// underway or done.
func (r *Runner) RequestBalance(ctx context.Context) bool {
	if r.online() {
		if err := r.balance.Refresh(ctx); err != nil {
			debuglog.Debugf("daemon: balance refresh failed: %v", err)
			return false
		}
		return true
	}
	return r.balance.Request()
}

func (r *Runner) onRelayOutcome(o relay.Outcome) {
	if p, ok := r.tracker.Resolve(o.Fingerprint, o.LedgerID, o.Confirmed); ok {
		debuglog.Logf("daemon: own submission resolved payment %s", p.LocalID)
		if o.Confirmed {
			r.refreshAfterSettlement()
		}
	}
}

// refreshAfterSettlement re-reads the account balance once a tracked
// payment settles, so the cached figure reflects the new ledger state
// without waiting for the next explicit query.
func (r *Runner) refreshAfterSettlement() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		r.RequestBalance(ctx)
	}()
}

// broadcast encodes msg once and sends it to every connected peer except
// one. Outbound requests and confirmations are recorded in the dedup
// filter so their echoes do not loop back through dispatch.
func (r *Runner) broadcast(msg proto.Message, except peers.ID) {
	data, err := proto.Encode(msg)
	if err != nil {
		debuglog.Logf("daemon: encode failed: %v", err)
		return
	}
	r.recordOutbound(msg)
	for _, id := range r.transport.ConnectedPeers() {
		if id == except {
			continue
		}
		r.send(id, data)
	}
}

func (r *Runner) unicast(to peers.ID, msg proto.Message) error {
	data, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return r.send(to, data)
}

func (r *Runner) send(to peers.ID, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := r.transport.Send(ctx, to, data); err != nil {
		debuglog.Debugf("daemon: send to %s failed: %v", to, err)
		return err
	}
	return nil
}

func (r *Runner) recordOutbound(msg proto.Message) {
	now := time.Now()
	switch m := msg.(type) {
	case proto.PaymentRequestMsg:
		if payload, err := m.Payload(); err == nil {
			r.dedup.Record(proto.FingerprintOf(payload), now)
		}
	case proto.PaymentConfirmationMsg:
		if fp, err := proto.ParseFingerprint(m.Fingerprint); err == nil {
			r.dedup.Record(proto.ConfirmationKey(fp, m.Status), now)
		}
	}
}

func (r *Runner) Self() peers.ID               { return r.self }
func (r *Runner) Registry() *peers.Registry    { return r.registry }
func (r *Runner) Tracker() *payments.Tracker   { return r.tracker }
func (r *Runner) Balance() *balance.Coordinator { return r.balance }
func (r *Runner) Relay() *relay.Coordinator    { return r.relay }
func (r *Runner) Status() (bool, float64)      { return r.announcer.Status() }
func (r *Runner) Metrics() *metrics.Metrics    { return r.metrics }
