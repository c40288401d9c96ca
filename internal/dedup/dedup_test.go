package dedup

import (
	"testing"
	"time"
)

func key(b byte) [32]byte {
	var k [32]byte
	k[0] = b
	return k
}

func TestSeenWithinWindow(t *testing.T) {
	s := New(60*time.Second, 120*time.Second)
	now := time.Now()
	if s.Seen(key(1), now) {
		t.Fatalf("fresh store must not report seen")
	}
	s.Record(key(1), now)
	for i := 0; i < 5; i++ {
		if !s.Seen(key(1), now.Add(30*time.Second)) {
			t.Fatalf("repeat %d inside window not suppressed", i)
		}
	}
	if s.Seen(key(2), now) {
		t.Fatalf("distinct key reported seen")
	}
}

func TestWindowExpiry(t *testing.T) {
	s := New(60*time.Second, 120*time.Second)
	now := time.Now()
	s.Record(key(1), now)
	if s.Seen(key(1), now.Add(61*time.Second)) {
		t.Fatalf("entry past window still reported seen")
	}
	// Re-recording after the window restarts it.
	s.Record(key(1), now.Add(61*time.Second))
	if !s.Seen(key(1), now.Add(90*time.Second)) {
		t.Fatalf("restarted window not honored")
	}
}

func TestRecordKeepsFirstSighting(t *testing.T) {
	s := New(60*time.Second, 120*time.Second)
	now := time.Now()
	s.Record(key(1), now)
	s.Record(key(1), now.Add(30*time.Second))
	if s.Seen(key(1), now.Add(70*time.Second)) {
		t.Fatalf("in-window re-record must not extend the window")
	}
}

func TestSweepBoundsMemory(t *testing.T) {
	s := New(60*time.Second, 120*time.Second)
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.Record(key(byte(i)), now)
	}
	s.Record(key(200), now.Add(100*time.Second))
	if got := s.Sweep(now.Add(121 * time.Second)); got != 10 {
		t.Fatalf("Sweep removed %d, want 10", got)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d after sweep", s.Len())
	}
	if s.Sweep(now.Add(121*time.Second)) != 0 {
		t.Fatalf("second sweep removed entries")
	}
}

func TestDefaultsApplied(t *testing.T) {
	s := New(0, 0)
	if s.window != DefaultWindow {
		t.Fatalf("window default not applied")
	}
	if s.retention != 2*DefaultWindow {
		t.Fatalf("retention default not applied")
	}
}
