//go:build unix

package lifecycle

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestControllerHandleSignals(t *testing.T) {
	c := New(context.Background())
	c.Start()

	calls := make(chan struct{}, 4)
	c.HandleSignals(func() { calls <- struct{}{} })
	defer c.Stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	select {
	case <-c.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not cancel the session")
	}

	syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	time.Sleep(50 * time.Millisecond)
	if len(calls) != 1 {
		t.Errorf("onSignal ran %d times, want 1", len(calls))
	}
}
