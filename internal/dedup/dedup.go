package dedup

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultWindow    = 60 * time.Second
	DefaultRetention = 120 * time.Second
)

type entry struct {
	key       [32]byte
	firstSeen time.Time
}

// Store is the bounded time-windowed duplicate filter. A fingerprint counts
// as seen while an entry younger than the window exists; entries older than
// the retention horizon are swept to bound memory. Recency order lives in a
// list so Sweep only ever inspects the tail.
type Store struct {
	mu        sync.Mutex
	window    time.Duration
	retention time.Duration
	items     map[[32]byte]*list.Element
	order     *list.List
}

func New(window, retention time.Duration) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if retention < window {
		retention = 2 * window
	}
	return &Store{
		window:    window,
		retention: retention,
		items:     make(map[[32]byte]*list.Element),
		order:     list.New(),
	}
}

// Seen reports whether key was recorded within the dedup window.
func (s *Store) Seen(key [32]byte, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return false
	}
	return now.Sub(el.Value.(*entry).firstSeen) < s.window
}

// Record marks key as seen at now. A key re-recorded after its window lapsed
// restarts the window; within the window the first sighting stands, so the
// age a duplicate is judged against never moves forward mid-flood.
func (s *Store) Record(key [32]byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		ent := el.Value.(*entry)
		if now.Sub(ent.firstSeen) >= s.window {
			ent.firstSeen = now
			s.order.MoveToFront(el)
		}
		return
	}
	el := s.order.PushFront(&entry{key: key, firstSeen: now})
	s.items[key] = el
}

// Sweep drops entries older than the retention horizon and reports how many
// were removed.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		back := s.order.Back()
		if back == nil {
			break
		}
		ent := back.Value.(*entry)
		if ent.firstSeen.After(cutoff) {
			break
		}
		delete(s.items, ent.key)
		s.order.Remove(back)
		removed++
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
