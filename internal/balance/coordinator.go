// Package balance answers "what is my ledger balance" for nodes that may
// not reach the ledger themselves. An offline node unicasts a balance
// request to its internet-capable peers and applies the freshest reply;
// an online node serves peers from a live fetch.
package balance

import (
	"context"
	"sync"
	"time"

	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/metrics"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
)

const (
	DefaultRequestTimeout = 8 * time.Second
	DefaultFetchTimeout   = 10 * time.Second
)

// Fetcher reads an account's balance from the ledger. Sequence is the
// account's ledger sequence number and orders replies.
type Fetcher interface {
	FetchBalance(ctx context.Context, accountID string) (balance int64, sequence int64, err error)
}

// Cached is the last balance this node accepted, from either a live fetch
// or a peer reply.
type Cached struct {
	Balance  int64
	Sequence int64
	At       time.Time
}

type Coordinator struct {
	mu         sync.Mutex
	account    string
	timeout    time.Duration
	online     func() bool
	fetcher    Fetcher
	capable    func() []peers.ID
	unicast    func(to peers.ID, msg proto.Message) error
	metrics    *metrics.Metrics
	refreshing bool
	timer      *time.Timer
	cached     Cached
	haveCache  bool
}

func New(account string, timeout time.Duration, online func() bool, fetcher Fetcher, capable func() []peers.ID, unicast func(peers.ID, proto.Message) error, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	return &Coordinator{
		account: account,
		timeout: timeout,
		online:  online,
		fetcher: fetcher,
		capable: capable,
		unicast: unicast,
		metrics: m,
	}
}

// Request asks the mesh for this node's balance. Returns false when no
// internet-capable peer is known, without arming a timeout. A request
// already in flight is left alone.
func (c *Coordinator) Request() bool {
	targets := c.capable()
	if len(targets) == 0 {
		return false
	}
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		return true
	}
	c.refreshing = true
	c.timer = time.AfterFunc(c.timeout, c.expire)
	c.mu.Unlock()

	msg := proto.BalanceRequestMsg{AccountID: c.account}
	for _, id := range targets {
		if err := c.unicast(id, msg); err != nil {
			debuglog.Debugf("balance: request to %s failed: %v", id, err)
			continue
		}
		c.metrics.IncBalanceRequestsSent()
	}
	return true
}

func (c *Coordinator) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.refreshing {
		return
	}
	c.refreshing = false
	c.metrics.IncBalanceTimeouts()
	debuglog.Debugf("balance: request timed out account=%s", c.account)
}

// HandleReply applies a balance update for this node's account. Replies
// are ordered by ledger sequence; a stale or duplicate sequence is dropped
// so late answers from slower peers cannot roll the cache back.
func (c *Coordinator) HandleReply(msg proto.BalanceUpdateMsg) bool {
	if msg.AccountID != c.account {
		return false
	}
	bal, err := proto.ParseAmount(msg.Balance)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveCache && msg.Sequence <= c.cached.Sequence {
		return false
	}
	c.cached = Cached{Balance: bal, Sequence: msg.Sequence, At: time.Now()}
	c.haveCache = true
	if c.refreshing {
		c.refreshing = false
		if c.timer != nil {
			c.timer.Stop()
		}
	}
	c.metrics.IncBalanceRepliesApplied()
	return true
}

// HandleRequest serves a peer's balance query with a single unicast reply.
// An online node fetches live; an offline node can still answer for an
// account it has cached. No reply is ever flooded.
func (c *Coordinator) HandleRequest(msg proto.BalanceRequestMsg, from peers.ID) {
	if c.online() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultFetchTimeout)
		defer cancel()
		bal, seq, err := c.fetcher.FetchBalance(ctx, msg.AccountID)
		if err != nil {
			debuglog.Debugf("balance: fetch for %s failed: %v", from, err)
			return
		}
		c.reply(from, msg.AccountID, bal, seq)
		return
	}
	c.mu.Lock()
	cached, ok := c.cached, c.haveCache && msg.AccountID == c.account
	c.mu.Unlock()
	if !ok {
		return
	}
	c.reply(from, msg.AccountID, cached.Balance, cached.Sequence)
}

func (c *Coordinator) reply(to peers.ID, accountID string, bal, seq int64) {
	msg := proto.BalanceUpdateMsg{
		AccountID: accountID,
		Balance:   proto.FormatAmount(bal),
		Sequence:  seq,
	}
	if err := c.unicast(to, msg); err != nil {
		debuglog.Debugf("balance: reply to %s failed: %v", to, err)
		return
	}
	c.metrics.IncBalanceRepliesSent()
}

// Refresh fetches this node's own balance directly from the ledger,
// bypassing the mesh. Used when the node itself is online.
func (c *Coordinator) Refresh(ctx context.Context) error {
	bal, seq, err := c.fetcher.FetchBalance(ctx, c.account)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveCache && seq <= c.cached.Sequence {
		return nil
	}
	c.cached = Cached{Balance: bal, Sequence: seq, At: time.Now()}
	c.haveCache = true
	return nil
}

func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// CachedBalance returns the last accepted balance, if any.
func (c *Coordinator) CachedBalance() (Cached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached, c.haveCache
}
