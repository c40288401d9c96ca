package payments

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meshpaymvp/internal/proto"
	"meshpaymvp/internal/store"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Payment is one locally originated or locally queued payment. Records are
// history: they transition at most once and are never deleted.
type Payment struct {
	LocalID     string    `json:"local_id"`
	Fingerprint string    `json:"fingerprint"`
	Amount      int64     `json:"amount"`
	Destination string    `json:"destination"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	LedgerID    string    `json:"ledger_id,omitempty"`
}

type Options struct {
	// MatchOldestPending enables the legacy behavior of resolving a
	// confirmation against the oldest pending record when no fingerprint
	// matches. Off by default; it mismatches concurrent payments.
	MatchOldestPending bool
}

// Tracker maintains the pending/confirmed/failed lifecycle and persists every
// transition as an appended JSONL record; reload keeps the last record per
// local id.
type Tracker struct {
	mu          sync.Mutex
	path        string
	matchOldest bool
	byID        map[string]*Payment
	order       []string
}

func NewTracker(path string, opts Options) (*Tracker, error) {
	if path == "" {
		return nil, fmt.Errorf("missing path")
	}
	t := &Tracker{
		path:        path,
		matchOldest: opts.MatchOldestPending,
		byID:        make(map[string]*Payment),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) load() error {
	return store.ScanJSONL(t.path, func(line []byte) error {
		var p Payment
		if err := json.Unmarshal(line, &p); err != nil || p.LocalID == "" {
			return nil
		}
		if existing, ok := t.byID[p.LocalID]; ok {
			*existing = p
			return nil
		}
		cp := p
		t.byID[p.LocalID] = &cp
		t.order = append(t.order, p.LocalID)
		return nil
	})
}

// Create records a new pending payment.
func (t *Tracker) Create(fp proto.Fingerprint, amount int64, destination string) (Payment, error) {
	p := Payment{
		LocalID:     uuid.NewString(),
		Fingerprint: fp.Hex(),
		Amount:      amount,
		Destination: destination,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	t.mu.Lock()
	cp := p
	t.byID[p.LocalID] = &cp
	t.order = append(t.order, p.LocalID)
	t.mu.Unlock()
	if err := store.AppendJSONL(t.path, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// Resolve transitions the pending payment matching fp to confirmed or
// failed. When nothing matches and the legacy fallback is enabled, the
// oldest pending record absorbs the confirmation instead. Returns the
// resolved payment and whether a transition happened.
func (t *Tracker) Resolve(fp proto.Fingerprint, ledgerID string, confirmed bool) (Payment, bool) {
	want := fp.Hex()
	t.mu.Lock()
	var target *Payment
	for _, id := range t.order {
		p := t.byID[id]
		if p.Status == StatusPending && p.Fingerprint == want {
			target = p
			break
		}
	}
	if target == nil && t.matchOldest {
		target = t.oldestPendingLocked()
	}
	if target == nil {
		t.mu.Unlock()
		return Payment{}, false
	}
	if confirmed {
		target.Status = StatusConfirmed
	} else {
		target.Status = StatusFailed
	}
	target.LedgerID = ledgerID
	out := *target
	t.mu.Unlock()
	if err := store.AppendJSONL(t.path, out); err != nil {
		// History stays consistent in memory; the next transition rewrites.
		return out, true
	}
	return out, true
}

func (t *Tracker) oldestPendingLocked() *Payment {
	var oldest *Payment
	for _, id := range t.order {
		p := t.byID[id]
		if p.Status != StatusPending {
			continue
		}
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = p
		}
	}
	return oldest
}

// List returns history, newest first, capped at limit.
func (t *Tracker) List(limit int) []Payment {
	t.mu.Lock()
	out := make([]Payment, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Pending returns pending payments, oldest first.
func (t *Tracker) Pending() []Payment {
	t.mu.Lock()
	out := make([]Payment, 0, len(t.order))
	for _, id := range t.order {
		if p := t.byID[id]; p.Status == StatusPending {
			out = append(out, *p)
		}
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
