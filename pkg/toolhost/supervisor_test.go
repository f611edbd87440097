package toolhost

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSupervisorStartIsIdempotent(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	defer sup.Close()
	if err := sup.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := sup.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
}

func TestSupervisorSubmitAndAwaitAcrossGoroutines(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	defer sup.Close()
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	handle, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Await from a goroutine other than the submitter.
	type outcome struct {
		value any
		err   error
	}
	results := make(chan outcome, 1)
	go func() {
		v, err := handle.Await(5 * time.Second)
		results <- outcome{v, err}
	}()

	res := <-results
	if res.err != nil {
		t.Fatalf("Await: %v", res.err)
	}
	if res.value != "done" {
		t.Fatalf("Await value = %v, expected done", res.value)
	}
}

func TestSupervisorTasksRunConcurrently(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	defer sup.Close()

	// Two tasks that each wait for the other: they only complete if the
	// supervisor lets submitted work interleave.
	ping := make(chan struct{})
	pong := make(chan struct{})

	h1, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		close(ping)
		<-pong
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	h2, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-ping
		close(pong)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	if _, err := h1.Await(5 * time.Second); err != nil {
		t.Fatalf("Await first: %v", err)
	}
	if _, err := h2.Await(5 * time.Second); err != nil {
		t.Fatalf("Await second: %v", err)
	}
}

func TestSupervisorAwaitTimeoutCancelsTask(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	defer sup.Close()

	cancelled := make(chan struct{})
	handle, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	start := time.Now()
	if _, err := handle.Await(100 * time.Millisecond); !errors.Is(err, errAwaitTimeout) {
		t.Fatalf("Await error = %v, expected await timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Await blocked for %s, expected bounded wait", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("task context was not cancelled after Await timeout")
	}
}

func TestSupervisorRecoverPanicAsError(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	defer sup.Close()

	handle, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = handle.Await(5 * time.Second)
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("Await error = %v, expected recovered panic", err)
	}
}

func TestSupervisorSubmitAfterClose(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(nil)
	if err := sup.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sup.Close()

	if _, err := sup.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}); !errors.Is(err, ErrSupervisorClosed) {
		t.Fatalf("Submit after Close = %v, expected ErrSupervisorClosed", err)
	}
}
