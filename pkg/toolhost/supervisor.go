package toolhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of asynchronous work executed within the supervisor's
// execution context.
type Task func(ctx context.Context) (any, error)

// Handle is the cross-goroutine future for a submitted task. It is safe
// to Await from any goroutine, including ones other than the submitter.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	value any
	err   error
}

func newHandle(cancel context.CancelFunc) *Handle {
	if cancel == nil {
		cancel = func() {}
	}
	return &Handle{done: make(chan struct{}), cancel: cancel}
}

func (h *Handle) complete(value any, err error) {
	h.once.Do(func() {
		h.value = value
		h.err = err
		close(h.done)
	})
}

// Await blocks until the task completes or timeout elapses. On timeout
// the task's context is cancelled and errAwaitTimeout is returned; the
// underlying operation may still run to completion, in which case its
// result is discarded.
func (h *Handle) Await(timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.value, h.err
	case <-timer.C:
		h.cancel()
		return nil, errAwaitTimeout
	}
}

// SupervisorOptions configure a Supervisor.
type SupervisorOptions struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// StartTimeout bounds how long Start waits for the worker to become
	// ready. Defaults to 5s.
	StartTimeout time.Duration
}

func (o *SupervisorOptions) withDefaults() SupervisorOptions {
	if o == nil {
		o = &SupervisorOptions{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	return opts
}

// Supervisor owns the execution context in which all tool protocol I/O
// happens. Work is submitted from arbitrary caller goroutines; the
// supervisor's worker accepts each task and launches it inside the
// context it owns, so tasks interleave while callers only ever block on
// a Handle. Once started, a Supervisor runs until process exit.
type Supervisor struct {
	opts SupervisorOptions

	startOnce sync.Once
	startErr  error
	ready     chan struct{}
	tasks     chan *submission
	quit      chan struct{}

	closeOnce sync.Once
}

type submission struct {
	ctx    context.Context
	run    Task
	handle *Handle
}

// NewSupervisor constructs a Supervisor. It does no work until Start.
func NewSupervisor(opts *SupervisorOptions) *Supervisor {
	return &Supervisor{
		opts:  opts.withDefaults(),
		ready: make(chan struct{}),
		tasks: make(chan *submission),
		quit:  make(chan struct{}),
	}
}

// Start launches the supervisor's worker. The first call spawns the
// worker and waits for it to become ready; later calls are no-ops
// returning the first call's outcome.
func (s *Supervisor) Start() error {
	s.startOnce.Do(func() {
		go s.run()
		timer := time.NewTimer(s.opts.StartTimeout)
		defer timer.Stop()
		select {
		case <-s.ready:
		case <-timer.C:
			s.startErr = ErrStartTimeout
		}
	})
	return s.startErr
}

func (s *Supervisor) run() {
	close(s.ready)
	for {
		select {
		case sub := <-s.tasks:
			go s.execute(sub)
		case <-s.quit:
			return
		}
	}
}

func (s *Supervisor) execute(sub *submission) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Error("task panicked", "panic", r)
			sub.handle.complete(nil, fmt.Errorf("toolhost: task panicked: %v", r))
		}
	}()
	value, err := sub.run(sub.ctx)
	sub.handle.complete(value, err)
}

// Submit enqueues a task and returns its Handle. The task receives a
// context cancelled when the returned Handle's Await times out or when
// ctx is cancelled. Submit fails with ErrSupervisorClosed after Close.
func (s *Supervisor) Submit(ctx context.Context, run Task) (*Handle, error) {
	if err := s.Start(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	handle := newHandle(cancel)
	sub := &submission{ctx: taskCtx, run: run, handle: handle}
	select {
	case s.tasks <- sub:
		return handle, nil
	case <-s.quit:
		cancel()
		return nil, ErrSupervisorClosed
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// Close stops accepting work. In-flight tasks keep their contexts and
// finish on their own. Intended only for process teardown and tests; no
// Running→Stopped transition happens during normal operation.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
}
