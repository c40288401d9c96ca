package network

import "sync"

// hostLimiter caps inbound connections and streams per remote host so one
// chatty peer cannot starve the accept loop.
type hostLimiter struct {
	mu           sync.Mutex
	maxConns     int
	maxStreams   int
	connCounts   map[string]int
	streamCounts map[string]int
}

func newHostLimiter(maxConns, maxStreams int) *hostLimiter {
	return &hostLimiter{
		maxConns:     maxConns,
		maxStreams:   maxStreams,
		connCounts:   make(map[string]int),
		streamCounts: make(map[string]int),
	}
}

func (l *hostLimiter) acquireConn(host string) bool {
	if l.maxConns <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[host] >= l.maxConns {
		return false
	}
	l.connCounts[host]++
	return true
}

func (l *hostLimiter) releaseConn(host string) {
	if l.maxConns <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connCounts[host] <= 1 {
		delete(l.connCounts, host)
		return
	}
	l.connCounts[host]--
}

func (l *hostLimiter) acquireStream(host string) bool {
	if l.maxStreams <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[host] >= l.maxStreams {
		return false
	}
	l.streamCounts[host]++
	return true
}

func (l *hostLimiter) releaseStream(host string) {
	if l.maxStreams <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.streamCounts[host] <= 1 {
		delete(l.streamCounts, host)
		return
	}
	l.streamCounts[host]--
}
