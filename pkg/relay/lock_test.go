package relay

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestConversationLockAcquireRelease(t *testing.T) {
	lock := NewConversationLock()

	if !lock.TryAcquire("conv-1") {
		t.Fatal("first acquire must succeed")
	}
	if lock.TryAcquire("conv-1") {
		t.Fatal("second acquire on held id must fail")
	}
	if !lock.TryAcquire("conv-2") {
		t.Fatal("unrelated id must be acquirable")
	}

	lock.Release("conv-1")
	if !lock.TryAcquire("conv-1") {
		t.Fatal("acquire after release must succeed")
	}

	// Releasing an unheld id is a no-op.
	lock.Release("never-held")
}

func TestConversationLockSingleWinner(t *testing.T) {
	lock := NewConversationLock()

	const goroutines = 64
	var wins int64
	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer done.Done()
			start.Wait()
			if lock.TryAcquire("contended") {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}

	start.Done()
	done.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
