package reactor

import (
	"errors"
	"fmt"
	"slices"
)

// EventLoopThreadPool distributes work across a fixed set of loop threads,
// falling back to the base loop when it has none. Every method other than
// Name must be called on the base loop's goroutine.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	cfg      *poolOptions
	name     string
	threads  []*EventLoopThread
	loops    []*EventLoop
	next     int
	started  bool
}

// NewEventLoopThreadPool creates a pool around baseLoop. No threads start
// until Start.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string, opts ...PoolOption) (*EventLoopThreadPool, error) {
	if baseLoop == nil {
		return nil, fmt.Errorf("%w: nil base loop", ErrInvalidOption)
	}
	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}
	return &EventLoopThreadPool{
		baseLoop: baseLoop,
		cfg:      cfg,
		name:     name,
	}, nil
}

// Name returns the pool name, which prefixes each thread name.
func (p *EventLoopThreadPool) Name() string { return p.name }

// Started reports whether Start has succeeded.
func (p *EventLoopThreadPool) Started() bool { return p.started }

// SetThreadNum sets the number of worker loops, overriding WithThreadNum.
// It has no effect once started.
func (p *EventLoopThreadPool) SetThreadNum(n int) {
	if n < 0 {
		n = 0
	}
	p.cfg.numThreads = n
}

// Start starts every worker loop, blocking until all exist. init, or the
// WithThreadInit callback if init is nil, runs on each worker. With zero
// workers it runs once, on the base loop.
func (p *EventLoopThreadPool) Start(init ThreadInitCallback) error {
	p.baseLoop.AssertInLoopThread()
	if p.started {
		return ErrPoolAlreadyStarted
	}
	if init == nil {
		init = p.cfg.threadInit
	}

	for i := 0; i < p.cfg.numThreads; i++ {
		t := NewEventLoopThread(init, fmt.Sprintf("%s%d", p.name, i), p.cfg.loopOptions...)
		loop, err := t.StartLoop()
		if err != nil {
			err = fmt.Errorf("reactor: start loop thread %q: %w", t.Name(), err)
			err = errors.Join(err, p.stopThreads(p.threads))
			p.threads, p.loops = nil, nil
			return err
		}
		p.threads = append(p.threads, t)
		p.loops = append(p.loops, loop)
	}

	p.started = true

	p.baseLoop.logger.Debug().
		Uint64("loop", p.baseLoop.id).
		Str("pool", p.name).
		Int("count", len(p.loops)).
		Log("event loop thread pool started")

	if len(p.loops) == 0 && init != nil {
		init(p.baseLoop)
	}
	return nil
}

// GetNextLoop returns worker loops round-robin, or the base loop if there
// are none.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.checkStarted("get next loop")
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next++
	if p.next >= len(p.loops) {
		p.next = 0
	}
	return loop
}

// GetLoopForHash returns the same loop for the same hash, or the base loop if
// there are no workers.
func (p *EventLoopThreadPool) GetLoopForHash(hash uint64) *EventLoop {
	p.checkStarted("get loop for hash")
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[hash%uint64(len(p.loops))]
}

// GetAllLoops returns every worker loop, or just the base loop if there are
// none.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	p.checkStarted("get all loops")
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return slices.Clone(p.loops)
}

// Stop quits every worker loop and waits for them to exit. The pool can't be
// restarted.
func (p *EventLoopThreadPool) Stop() error {
	p.baseLoop.AssertInLoopThread()
	err := p.stopThreads(p.threads)
	p.threads = nil
	p.loops = nil
	p.next = 0
	return err
}

func (p *EventLoopThreadPool) stopThreads(threads []*EventLoopThread) error {
	errs := make([]error, 0, len(threads))
	for _, t := range threads {
		if err := t.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("reactor: stop loop thread %q: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *EventLoopThreadPool) checkStarted(op string) {
	p.baseLoop.AssertInLoopThread()
	if !p.started {
		p.baseLoop.fatal(op, ErrPoolNotStarted)
	}
}
