package executor

import (
	"testing"
	"time"
)

func TestDedupSuppressesRepeats(t *testing.T) {
	d := NewDedup(time.Minute)

	if d.IsDuplicate("sig-1") {
		t.Fatal("first sighting must pass")
	}
	if !d.IsDuplicate("sig-1") {
		t.Fatal("repeat within the window must be suppressed")
	}
	if d.IsDuplicate("sig-2") {
		t.Fatal("distinct ids are independent")
	}
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	d.IsDuplicate("sig-1")
	time.Sleep(20 * time.Millisecond)
	if d.IsDuplicate("sig-1") {
		t.Fatal("expired id must pass again")
	}
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	d.IsDuplicate("sig-1")
	d.IsDuplicate("sig-2")

	time.Sleep(20 * time.Millisecond)
	d.Cleanup()

	d.mu.Lock()
	n := len(d.seen)
	d.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d entries survived cleanup, want 0", n)
	}
}
