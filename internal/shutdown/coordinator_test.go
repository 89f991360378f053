package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestInitiateShutdownIdempotent(t *testing.T) {
	c := New()
	if c.IsShutdownInitiated() {
		t.Fatalf("IsShutdownInitiated() = true before InitiateShutdown")
	}
	c.InitiateShutdown()
	c.InitiateShutdown() // must not panic or double-log meaningfully
	if !c.IsShutdownInitiated() {
		t.Fatalf("IsShutdownInitiated() = false after InitiateShutdown")
	}
}

func TestWaitForAllReturnsOnceStopped(t *testing.T) {
	c := New()
	id := c.Register("front-door-thread", KindStreamThread, 10)

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.UpdateState(id, StateStopped)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pending := c.WaitForAll(ctx, 2*time.Millisecond)
	if len(pending) != 0 {
		t.Fatalf("WaitForAll pending = %v, want none", pending)
	}
}

func TestWaitForAllTimesOutOnStuckComponent(t *testing.T) {
	c := New()
	id := c.Register("stuck-writer", KindHLSWriter, 90)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	pending := c.WaitForAll(ctx, 2*time.Millisecond)
	if len(pending) != 1 || pending[0] != id {
		t.Fatalf("WaitForAll pending = %v, want [%s]", pending, id)
	}
}

func TestWaitForAllReturnsAfterOutOfOrderStops(t *testing.T) {
	c := New()
	lowPriority := c.Register("thread", KindStreamThread, 10)
	highPriority := c.Register("hls-writer", KindHLSWriter, 90)

	var order []string
	done := make(chan struct{})
	go func() {
		c.WaitForAll(context.Background(), time.Millisecond)
		close(done)
	}()

	// Stop both quickly but in reverse priority order; WaitForAll still
	// visits tiers ascending, it doesn't reorder based on stop order.
	time.Sleep(5 * time.Millisecond)
	order = append(order, highPriority)
	c.UpdateState(highPriority, StateStopped)
	order = append(order, lowPriority)
	c.UpdateState(lowPriority, StateStopped)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForAll did not return after both components stopped")
	}
	if len(order) != 2 {
		t.Fatalf("test setup error: order = %v", order)
	}
}

func TestUpdateStateUnknownIDIgnored(t *testing.T) {
	c := New()
	c.UpdateState("no-such-id", StateStopped) // must not panic
}
