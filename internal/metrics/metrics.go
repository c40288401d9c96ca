package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// SubmissionRecord is one ledger submission attempt kept in the recent ring
// for the status CLI.
type SubmissionRecord struct {
	Fingerprint string    `json:"fingerprint"`
	LedgerID    string    `json:"ledger_id,omitempty"`
	Status      string    `json:"status"`
	NetAmount   string    `json:"net_amount,omitempty"`
	At          time.Time `json:"at"`
}

type Snapshot struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Relay       RelayMetrics       `json:"relay"`
	Balance     BalanceMetrics     `json:"balance"`
	Gossip      GossipMetrics      `json:"gossip"`
	PeerCount   uint64             `json:"peer_count"`
	Recent      []SubmissionRecord `json:"recent"`
}

type RelayMetrics struct {
	RequestsReceived     uint64 `json:"requests_received"`
	RequestsForwarded    uint64 `json:"requests_forwarded"`
	DropDuplicate        uint64 `json:"drop_duplicate"`
	DropDecode           uint64 `json:"drop_decode"`
	RelaysScheduled      uint64 `json:"relays_scheduled"`
	RelaysCancelled      uint64 `json:"relays_cancelled"`
	Submissions          uint64 `json:"submissions"`
	SubmissionFailures   uint64 `json:"submission_failures"`
	ConfirmationsRelayed uint64 `json:"confirmations_relayed"`
}

type BalanceMetrics struct {
	RequestsSent   uint64 `json:"requests_sent"`
	RepliesSent    uint64 `json:"replies_sent"`
	RepliesApplied uint64 `json:"replies_applied"`
	Timeouts       uint64 `json:"timeouts"`
}

type GossipMetrics struct {
	StatusSent uint64 `json:"status_sent"`
}

type Metrics struct {
	requestsReceived      atomic.Uint64
	requestsForwarded     atomic.Uint64
	dropDuplicate         atomic.Uint64
	dropDecode            atomic.Uint64
	relaysScheduled       atomic.Uint64
	relaysCancelled       atomic.Uint64
	submissions           atomic.Uint64
	submissionFailures    atomic.Uint64
	confirmationsRelayed  atomic.Uint64
	balanceRequestsSent   atomic.Uint64
	balanceRepliesSent    atomic.Uint64
	balanceRepliesApplied atomic.Uint64
	balanceTimeouts       atomic.Uint64
	statusSent            atomic.Uint64
	peerCount             atomic.Uint64
	recent                *SubmissionRecent
}

func New() *Metrics {
	return &Metrics{recent: NewSubmissionRecent(64)}
}

func (m *Metrics) Recent() *SubmissionRecent { return m.recent }

func (m *Metrics) IncRequestsReceived()      { m.requestsReceived.Add(1) }
func (m *Metrics) IncRequestsForwarded()     { m.requestsForwarded.Add(1) }
func (m *Metrics) IncDropDuplicate()         { m.dropDuplicate.Add(1) }
func (m *Metrics) IncDropDecode()            { m.dropDecode.Add(1) }
func (m *Metrics) IncRelaysScheduled()       { m.relaysScheduled.Add(1) }
func (m *Metrics) IncRelaysCancelled()       { m.relaysCancelled.Add(1) }
func (m *Metrics) IncSubmissions()           { m.submissions.Add(1) }
func (m *Metrics) IncSubmissionFailures()    { m.submissionFailures.Add(1) }
func (m *Metrics) IncConfirmationsRelayed()  { m.confirmationsRelayed.Add(1) }
func (m *Metrics) IncBalanceRequestsSent()   { m.balanceRequestsSent.Add(1) }
func (m *Metrics) IncBalanceRepliesSent()    { m.balanceRepliesSent.Add(1) }
func (m *Metrics) IncBalanceRepliesApplied() { m.balanceRepliesApplied.Add(1) }
func (m *Metrics) IncBalanceTimeouts()       { m.balanceTimeouts.Add(1) }
func (m *Metrics) IncStatusSent()            { m.statusSent.Add(1) }
func (m *Metrics) SetPeerCount(n uint64)     { m.peerCount.Store(n) }

func (m *Metrics) Snapshot() Snapshot {
	recent := []SubmissionRecord{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Relay: RelayMetrics{
			RequestsReceived:     m.requestsReceived.Load(),
			RequestsForwarded:    m.requestsForwarded.Load(),
			DropDuplicate:        m.dropDuplicate.Load(),
			DropDecode:           m.dropDecode.Load(),
			RelaysScheduled:      m.relaysScheduled.Load(),
			RelaysCancelled:      m.relaysCancelled.Load(),
			Submissions:          m.submissions.Load(),
			SubmissionFailures:   m.submissionFailures.Load(),
			ConfirmationsRelayed: m.confirmationsRelayed.Load(),
		},
		Balance: BalanceMetrics{
			RequestsSent:   m.balanceRequestsSent.Load(),
			RepliesSent:    m.balanceRepliesSent.Load(),
			RepliesApplied: m.balanceRepliesApplied.Load(),
			Timeouts:       m.balanceTimeouts.Load(),
		},
		Gossip: GossipMetrics{
			StatusSent: m.statusSent.Load(),
		},
		PeerCount: m.peerCount.Load(),
		Recent:    recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type SubmissionRecent struct {
	mu   sync.Mutex
	cap  int
	list []SubmissionRecord
}

func NewSubmissionRecent(capacity int) *SubmissionRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &SubmissionRecent{cap: capacity}
}

func (r *SubmissionRecent) Add(rec SubmissionRecord) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = rec
		return
	}
	r.list = append(r.list, rec)
}

func (r *SubmissionRecent) List() []SubmissionRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubmissionRecord, len(r.list))
	copy(out, r.list)
	return out
}
