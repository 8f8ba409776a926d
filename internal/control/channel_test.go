package control

import (
	"testing"
	"time"
)

func TestSendAndWaitFIFO(t *testing.T) {
	c := NewChannel(10)
	defer c.Close()

	SendInterrupt(c, "user_spoke", "wait a moment")
	SendCancel(c, "barge-in")

	first, ok := c.WaitForSignal(time.Second)
	if !ok {
		t.Fatal("WaitForSignal returned no message")
	}
	if first.Signal != SignalInterrupt {
		t.Errorf("first signal = %v, want interrupt", first.Signal)
	}
	if first.Metadata["text"] != "wait a moment" {
		t.Errorf("interrupt text = %v", first.Metadata["text"])
	}

	second, ok := c.WaitForSignal(time.Second)
	if !ok || second.Signal != SignalCancel {
		t.Errorf("second signal = %v ok=%v, want cancel", second.Signal, ok)
	}
}

func TestSendDropsWhenFull(t *testing.T) {
	c := NewChannel(2)
	defer c.Close()

	if !c.SendSignal(SignalPause, nil) || !c.SendSignal(SignalResume, nil) {
		t.Fatal("sends within capacity rejected")
	}
	if c.SendSignal(SignalCancel, nil) {
		t.Error("send beyond capacity accepted")
	}
	if c.PendingCount() != 2 {
		t.Errorf("pending = %d, want 2", c.PendingCount())
	}
}

func TestSendAfterCloseLeavesPendingUnchanged(t *testing.T) {
	c := NewChannel(10)
	SendCancel(c, "one")
	c.Close()

	if SendEmergencyStop(c, "late") {
		t.Error("send after close accepted")
	}
	if c.PendingCount() != 1 {
		t.Errorf("pending after closed send = %d, want 1", c.PendingCount())
	}
}

func TestWaitTimesOut(t *testing.T) {
	c := NewChannel(10)
	defer c.Close()

	start := time.Now()
	_, ok := c.WaitForSignal(20 * time.Millisecond)
	if ok {
		t.Fatal("WaitForSignal returned a message on an empty channel")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, want >= 20ms", elapsed)
	}
}

func TestWaitReturnsImmediatelyWhenClosed(t *testing.T) {
	c := NewChannel(10)
	c.Close()

	start := time.Now()
	_, ok := c.WaitForSignal(time.Second)
	if ok {
		t.Fatal("WaitForSignal returned a message after close")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("WaitForSignal blocked after close")
	}
}

func TestCloseUnblocksWaiter(t *testing.T) {
	c := NewChannel(10)
	done := make(chan bool, 1)
	go func() {
		_, ok := c.WaitForSignal(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("waiter got a message, want closed notification")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after close")
	}
}

func TestClearDrainsPending(t *testing.T) {
	c := NewChannel(10)
	defer c.Close()

	SendCancel(c, "a")
	SendCancel(c, "b")
	c.Clear()
	if c.PendingCount() != 0 {
		t.Errorf("pending after clear = %d, want 0", c.PendingCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewChannel(10)
	c.Close()
	c.Close()
	if !c.Closed() {
		t.Error("Closed() = false after Close")
	}
}
