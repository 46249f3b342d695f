package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestControllerTransitions(t *testing.T) {
	c := New(context.Background())
	if c.State() != Idle {
		t.Fatalf("State() = %s, want idle", c.State())
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if c.Finish(Running) {
		t.Error("Finish(Running) should be rejected")
	}

	if !c.Finish(Completed) {
		t.Fatal("first Finish() should win")
	}
	if c.Finish(Failed) {
		t.Error("second Finish() should lose")
	}
	if c.State() != Completed {
		t.Errorf("State() = %s, want completed", c.State())
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done() should be closed after Finish")
	}
	if c.Context().Err() == nil {
		t.Error("Context() should be released after Finish")
	}
}

func TestControllerCancel(t *testing.T) {
	c := New(context.Background())
	c.Start()
	c.Cancel()
	c.Cancel()

	select {
	case <-c.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Context() not cancelled")
	}
	if c.State() != Running {
		t.Errorf("Cancel() alone should not finish the session, state = %s", c.State())
	}
	c.Finish(Cancelled)
	if c.State() != Cancelled {
		t.Errorf("State() = %s, want cancelled", c.State())
	}
}

func TestControllerParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := New(parent)
	cancel()
	select {
	case <-c.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation not propagated")
	}
}
