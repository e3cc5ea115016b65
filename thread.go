package reactor

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync"

	"go.uber.org/atomic"
)

// EventLoopThread owns a goroutine running one EventLoop.
type EventLoopThread struct {
	init    ThreadInitCallback
	loop    *EventLoop
	err     error
	cond    *sync.Cond
	done    chan struct{}
	name    string
	opts    []LoopOption
	mu      sync.Mutex
	started atomic.Bool
	ready   bool
}

// NewEventLoopThread prepares a loop thread. init, if not nil, runs on the
// new goroutine after its loop is created and before it starts dispatching.
// The name is attached to the goroutine as the "reactor.thread" pprof label.
func NewEventLoopThread(init ThreadInitCallback, name string, opts ...LoopOption) *EventLoopThread {
	t := &EventLoopThread{
		init: init,
		name: name,
		opts: opts,
		done: make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Name returns the name the thread was created with.
func (t *EventLoopThread) Name() string { return t.name }

// StartLoop starts the goroutine and blocks until its loop exists, returning
// it. The loop stays valid until Stop. A second call panics.
func (t *EventLoopThread) StartLoop() (*EventLoop, error) {
	if !t.started.CAS(false, true) {
		panic(&FatalError{Op: "start loop", Err: ErrThreadAlreadyStarted})
	}

	go pprof.Do(context.Background(), pprof.Labels("reactor.thread", t.name), func(ctx context.Context) {
		t.threadFunc(ctx)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.ready {
		t.cond.Wait()
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.loop, nil
}

func (t *EventLoopThread) threadFunc(ctx context.Context) {
	defer close(t.done)

	loop, err := New(t.opts...)
	if err != nil {
		t.mu.Lock()
		t.err = err
		t.ready = true
		t.cond.Broadcast()
		t.mu.Unlock()
		return
	}

	if t.init != nil {
		t.init(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.ready = true
	t.cond.Broadcast()
	t.mu.Unlock()

	runErr := loop.Run(ctx)
	closeErr := loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.err = errors.Join(runErr, closeErr)
	t.mu.Unlock()
}

// Stop quits the loop and waits for its goroutine to exit, returning any
// error from running or closing the loop. It's a no-op if the thread never
// started.
func (t *EventLoopThread) Stop() error {
	if !t.started.Load() {
		return nil
	}

	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop != nil {
		loop.Quit()
	}

	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
