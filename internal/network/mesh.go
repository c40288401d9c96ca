// Package network is the QUIC transport adapter: a peer table of dial
// targets, one listener, and one length-prefixed frame per stream. Frames
// carry the sender's node ID so receipt attribution survives NAT and
// ephemeral source ports. Delivery is best effort.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"

	"meshpaymvp/internal/debuglog"
	"meshpaymvp/internal/peers"
	"meshpaymvp/internal/proto"
)

const (
	DefaultDialTimeout = 5 * time.Second
	defaultMaxConns    = 8
	defaultMaxStreams  = 64
)

// wireFrame is the envelope around every message on a stream.
type wireFrame struct {
	From string `json:"from"`
	Data []byte `json:"data"`
}

type Config struct {
	ListenAddr  string
	DialTimeout time.Duration
	// Per-host accept limits; zero selects defaults, negative disables.
	MaxConnsPerHost   int
	MaxStreamsPerHost int
	// Insecure skips certificate verification on dials.
	Insecure bool
}

// Mesh implements the daemon's Transport seam over QUIC.
type Mesh struct {
	mu       sync.Mutex
	self     peers.ID
	cfg      Config
	addrs    map[peers.ID]string
	conns    map[peers.ID]*quic.Conn
	listener *quic.Listener
	closed   bool

	onReceive func(from peers.ID, data []byte)
	onState   func(id peers.ID, state peers.ConnState)
	limiter   *hostLimiter
}

func NewMesh(self peers.ID, cfg Config, onReceive func(peers.ID, []byte), onState func(peers.ID, peers.ConnState)) *Mesh {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = defaultMaxConns
	}
	if cfg.MaxStreamsPerHost == 0 {
		cfg.MaxStreamsPerHost = defaultMaxStreams
	}
	return &Mesh{
		self:      self,
		cfg:       cfg,
		addrs:     make(map[peers.ID]string),
		conns:     make(map[peers.ID]*quic.Conn),
		onReceive: onReceive,
		onState:   onState,
		limiter:   newHostLimiter(cfg.MaxConnsPerHost, cfg.MaxStreamsPerHost),
	}
}

// Listen binds the QUIC listener and serves inbound streams until Close.
// It returns once the listener is bound; accepting runs in the background.
func (m *Mesh) Listen() error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(m.cfg.ListenAddr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("quic listen %s: %w", m.cfg.ListenAddr, err)
	}
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()
	debuglog.Logf("network: listening on %s", listener.Addr())
	go m.acceptLoop(listener)
	return nil
}

// Addr returns the bound listen address, nil before Listen.
func (m *Mesh) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Mesh) acceptLoop(listener *quic.Listener) {
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			// Closed listener ends the loop.
			return
		}
		host := remoteHost(conn)
		if !m.limiter.acquireConn(host) {
			_ = conn.CloseWithError(0, "too many connections")
			continue
		}
		go m.serveConn(conn, host)
	}
}

func (m *Mesh) serveConn(conn *quic.Conn, host string) {
	defer m.limiter.releaseConn(host)
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		if !m.limiter.acquireStream(host) {
			_ = stream.Close()
			continue
		}
		go func(s *quic.Stream) {
			defer m.limiter.releaseStream(host)
			defer s.Close()
			m.serveStream(s)
		}(stream)
	}
}

func (m *Mesh) serveStream(s *quic.Stream) {
	raw, err := proto.ReadFrame(s)
	if err != nil {
		debuglog.Debugf("network: bad frame: %v", err)
		return
	}
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.From == "" {
		debuglog.Debugf("network: bad envelope: %v", err)
		return
	}
	if m.onReceive != nil {
		m.onReceive(peers.ID(frame.From), frame.Data)
	}
}

// AddPeer registers a dial target and reports the link up.
func (m *Mesh) AddPeer(id peers.ID, addr string) {
	if id == "" || id == m.self || addr == "" {
		return
	}
	m.mu.Lock()
	prev, known := m.addrs[id]
	m.addrs[id] = addr
	if known && prev != addr {
		// Address moved; the cached connection points at the old one.
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !known && m.onState != nil {
		m.onState(id, peers.StateConnected)
	}
}

// RemovePeer drops the dial target and its cached connection.
func (m *Mesh) RemovePeer(id peers.ID) {
	m.mu.Lock()
	_, known := m.addrs[id]
	delete(m.addrs, id)
	conn := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if conn != nil {
		_ = conn.CloseWithError(0, "peer removed")
	}
	if known && m.onState != nil {
		m.onState(id, peers.StateDisconnected)
	}
}

func (m *Mesh) ConnectedPeers() []peers.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]peers.ID, 0, len(m.addrs))
	for id := range m.addrs {
		out = append(out, id)
	}
	return out
}

// Send delivers one encoded message to a known peer, reusing a cached
// connection and redialing once if it went stale.
func (m *Mesh) Send(ctx context.Context, to peers.ID, data []byte) error {
	m.mu.Lock()
	addr, ok := m.addrs[to]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %s", to)
	}
	frame, err := json.Marshal(wireFrame{From: string(m.self), Data: data})
	if err != nil {
		return err
	}
	if err := m.sendFrame(ctx, to, addr, frame); err == nil {
		return nil
	}
	// Stale cached connection is the common failure; one fresh dial.
	m.dropConn(to)
	return m.sendFrame(ctx, to, addr, frame)
}

func (m *Mesh) sendFrame(ctx context.Context, to peers.ID, addr string, frame []byte) error {
	conn, err := m.getConn(ctx, to, addr)
	if err != nil {
		return err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	return proto.WriteFrame(stream, frame)
}

func (m *Mesh) getConn(ctx context.Context, to peers.ID, addr string) (*quic.Conn, error) {
	m.mu.Lock()
	if conn, ok := m.conns[to]; ok {
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	tlsConf, err := clientTLSConfig(m.cfg.Insecure)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = conn.CloseWithError(0, "mesh closed")
		return nil, fmt.Errorf("mesh closed")
	}
	if existing, ok := m.conns[to]; ok {
		_ = conn.CloseWithError(0, "duplicate dial")
		return existing, nil
	}
	m.conns[to] = conn
	return conn, nil
}

func (m *Mesh) dropConn(to peers.ID) {
	m.mu.Lock()
	conn := m.conns[to]
	delete(m.conns, to)
	m.mu.Unlock()
	if conn != nil {
		_ = conn.CloseWithError(0, "stale")
	}
}

func (m *Mesh) Close() error {
	m.mu.Lock()
	m.closed = true
	listener := m.listener
	conns := m.conns
	m.conns = make(map[peers.ID]*quic.Conn)
	m.mu.Unlock()
	for _, conn := range conns {
		_ = conn.CloseWithError(0, "shutdown")
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

func remoteHost(conn *quic.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
