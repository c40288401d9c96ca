// Package relay decides, per payment fingerprint, whether and when this node
// submits to the ledger. A base delay plus uniform jitter desynchronizes the
// online peers that saw the same flood, so the first confirmation back
// cancels everyone else's attempt.
package relay

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/fees"
	"meshpaymvp/internal/metrics"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
)

const (
	DefaultBaseDelay     = 3 * time.Second
	DefaultJitter        = time.Second
	DefaultSubmitTimeout = 30 * time.Second
)

// Submitter is the ledger seam. The payload is opaque, already signed
// upstream; the relay only carries it.
type Submitter interface {
	Submit(ctx context.Context, signedPayload []byte) (ledgerID string, err error)
}

type Config struct {
	BaseDelay time.Duration
	// Jitter is the upper bound of the uniform random delay added to
	// BaseDelay. Zero selects the default; negative disables jitter.
	Jitter        time.Duration
	SubmitTimeout time.Duration
	// RetryOnFailed keeps a scheduled relay alive when a failed
	// confirmation arrives, letting this node attempt its own submission.
	// Default off: a failed confirmation is terminal for the fingerprint.
	RetryOnFailed bool
	FeeTable      fees.Table
}

// Outcome reports a completed local submission attempt.
type Outcome struct {
	Fingerprint       proto.Fingerprint
	LedgerID          string
	Confirmed         bool
	Breakdown         fees.Breakdown
	FoldedBroadcaster bool
}

type pendingRelay struct {
	request     proto.PaymentRequestMsg
	payload     []byte
	scheduledAt time.Time
	fireAt      time.Time
	timer       *time.Timer
}

type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	self      peers.ID
	online    func() bool
	submitter Submitter
	broadcast func(msg proto.Message, except peers.ID)
	onOutcome func(Outcome)
	metrics   *metrics.Metrics
	pending   map[proto.Fingerprint]*pendingRelay
	rng       *rand.Rand
}

func New(cfg Config, self peers.ID, online func() bool, submitter Submitter, broadcast func(proto.Message, peers.ID), onOutcome func(Outcome), m *metrics.Metrics) *Coordinator {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = DefaultJitter
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.FeeTable == (fees.Table{}) {
		cfg.FeeTable = fees.DefaultTable()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Coordinator{
		cfg:       cfg,
		self:      self,
		online:    online,
		submitter: submitter,
		broadcast: broadcast,
		onOutcome: onOutcome,
		metrics:   m,
		pending:   make(map[proto.Fingerprint]*pendingRelay),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// HandleRequest processes a fresh, deduplicated payment request received
// from a peer. Offline nodes forward; online nodes schedule a submission.
func (c *Coordinator) HandleRequest(msg proto.PaymentRequestMsg, payload []byte, fp proto.Fingerprint, from peers.ID) {
	if !c.online() {
		if msg.Broadcaster == "" {
			msg.Broadcaster = string(c.self)
		}
		c.broadcast(msg, from)
		c.metrics.IncRequestsForwarded()
		debuglog.Debugf("relay: forwarded request fp=%s broadcaster=%s", fp.Hex(), msg.Broadcaster)
		return
	}
	c.Schedule(msg, payload, fp)
}

// Schedule arms the jittered submission timer for fp. At most one pending
// relay per fingerprint; a duplicate schedule is a no-op.
func (c *Coordinator) Schedule(msg proto.PaymentRequestMsg, payload []byte, fp proto.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[fp]; ok {
		return false
	}
	delay := c.cfg.BaseDelay
	if c.cfg.Jitter > 0 {
		delay += time.Duration(c.rng.Int63n(int64(c.cfg.Jitter) + 1))
	}
	now := time.Now()
	pr := &pendingRelay{
		request:     msg,
		payload:     payload,
		scheduledAt: now,
		fireAt:      now.Add(delay),
	}
	pr.timer = time.AfterFunc(delay, func() { c.fire(fp) })
	c.pending[fp] = pr
	c.metrics.IncRelaysScheduled()
	debuglog.Debugf("relay: scheduled fp=%s delay=%s", fp.Hex(), delay)
	return true
}

func (c *Coordinator) fire(fp proto.Fingerprint) {
	c.mu.Lock()
	pr, ok := c.pending[fp]
	if !ok {
		// Cancelled between the timer firing and this goroutine running.
		c.mu.Unlock()
		return
	}
	delete(c.pending, fp)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()
	ledgerID, err := c.submitter.Submit(ctx, pr.payload)

	status := proto.StatusConfirmed
	if err != nil {
		status = proto.StatusFailed
		ledgerID = ""
		c.metrics.IncSubmissionFailures()
		debuglog.Logf("relay: submission failed fp=%s err=%v", fp.Hex(), err)
	} else {
		c.metrics.IncSubmissions()
	}

	gross, _ := proto.ParseAmount(pr.request.GrossAmount)
	breakdown := fees.Split(gross, c.cfg.FeeTable)
	folded := pr.request.Broadcaster == "" || pr.request.Broadcaster == string(c.self)
	if err == nil {
		debuglog.Debugf("relay: submitted fp=%s ledger_id=%s net=%s folded_broadcaster=%v",
			fp.Hex(), ledgerID, proto.FormatAmount(breakdown.Net), folded)
	}
	c.metrics.Recent().Add(metrics.SubmissionRecord{
		Fingerprint: fp.Hex(),
		LedgerID:    ledgerID,
		Status:      status,
		NetAmount:   proto.FormatAmount(breakdown.Net),
		At:          time.Now().UTC(),
	})

	c.broadcast(proto.PaymentConfirmationMsg{
		Fingerprint: fp.Hex(),
		LedgerID:    ledgerID,
		Status:      status,
	}, "")

	if c.onOutcome != nil {
		c.onOutcome(Outcome{
			Fingerprint:       fp,
			LedgerID:          ledgerID,
			Confirmed:         err == nil,
			Breakdown:         breakdown,
			FoldedBroadcaster: folded,
		})
	}
}

// HandleConfirmation cancels the pending relay for fp: another node already
// settled it. Reports whether a pending relay was cancelled. Under the
// retry policy a failed confirmation is ignored and the local attempt
// stays armed.
func (c *Coordinator) HandleConfirmation(fp proto.Fingerprint, status string) bool {
	if status == proto.StatusFailed && c.cfg.RetryOnFailed {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[fp]
	if !ok {
		return false
	}
	pr.timer.Stop()
	delete(c.pending, fp)
	c.metrics.IncRelaysCancelled()
	debuglog.Debugf("relay: cancelled fp=%s status=%s", fp.Hex(), status)
	return true
}

func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) IsPending(fp proto.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[fp]
	return ok
}
