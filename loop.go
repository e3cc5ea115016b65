package reactor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// loopTestHooks provides injection points for deterministic testing.
type loopTestHooks struct {
	PrePoll  func() // Called before each readiness wait
	PostPoll func() // Called after each readiness wait returns
}

// loopSeq issues EventLoop ids, starting at 1.
var loopSeq atomic.Uint64

// EventLoop is a reactor confined to the goroutine that created it. Each
// iteration waits for readiness, dispatches ready channels, then runs the
// tasks queued by other goroutines.
//
// Only RunInLoop, QueueInLoop, Quit, the timer methods, and the read-only
// accessors documented as such may be called from other goroutines.
type EventLoop struct {
	// Prevent copying
	_ [0]func()

	logger           *logiface.Logger[logiface.Event]
	poller           Poller
	timerQueue       *timerQueue
	wakeupChannel    *Channel
	pollErrorLimiter *catrate.Limiter
	metrics          *loopMetrics
	testHooks        *loopTestHooks

	// pending is the only state shared between goroutines, guarded by
	// pendingMu. spare is swapped in while pending is drained.
	pending   *queue.Queue
	spare     *queue.Queue
	pendingMu sync.Mutex

	// wakeMu guards wakeupFd against Close.
	wakeMu   sync.RWMutex
	wakeupFd int

	activeChannels       []*Channel
	currentActiveChannel *Channel
	pollReturnTime       time.Time
	pollTimeout          time.Duration

	id   uint64
	goid uint64

	state               loopState
	iteration           atomic.Uint64
	callingPendingTasks atomic.Bool
	ran                 atomic.Bool
	closed              atomic.Bool

	looping       bool
	eventHandling bool
}

// New creates an EventLoop confined to the calling goroutine. A goroutine
// may own at most one loop at a time, a second call fails with
// ErrLoopExists until the first is closed.
func New(opts ...LoopOption) (*EventLoop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newPollErrorLimiter(cfg.pollErrorLogRates)
	if err != nil {
		return nil, err
	}

	l := &EventLoop{
		logger:           cfg.logger,
		pollErrorLimiter: limiter,
		pending:          queue.New(),
		spare:            queue.New(),
		pollTimeout:      cfg.pollTimeout,
		wakeupFd:         -1,
		id:               loopSeq.Inc(),
		goid:             getGoroutineID(),
	}
	if cfg.metricsEnabled {
		l.metrics = &loopMetrics{}
	}

	if err := registerLoop(l.goid, l); err != nil {
		return nil, err
	}

	if err := l.initResources(cfg.pollerKind); err != nil {
		unregisterLoop(l.goid, l)
		return nil, err
	}

	l.logger.Debug().
		Uint64("loop", l.id).
		Uint64("goroutine", l.goid).
		Stringer("poller", cfg.pollerKind).
		Log("event loop created")

	return l, nil
}

// initResources acquires the poller, the wakeup eventfd and the timer queue,
// releasing whatever it already acquired on failure.
func (l *EventLoop) initResources(kind PollerKind) (err error) {
	if l.poller, err = newPoller(kind, l); err != nil {
		return err
	}

	if l.wakeupFd, err = createWakeFd(); err != nil {
		_ = l.poller.Close()
		return err
	}
	l.wakeupChannel = NewChannel(l, l.wakeupFd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()

	if l.timerQueue, err = newTimerQueue(l); err != nil {
		l.wakeupChannel.DisableAll()
		l.wakeupChannel.Remove()
		_ = closeFD(l.wakeupFd)
		_ = l.poller.Close()
		return err
	}

	return nil
}

// Run dispatches until Quit is called or ctx is canceled. It must be called
// on the loop's goroutine, and at most once. The goroutine is locked to its
// OS thread for the duration.
//
// If Quit was called before Run, Run returns immediately. If ctx was
// canceled, Run returns ctx.Err(). If the readiness wait failed
// unrecoverably, the error wraps ErrPollerFailed.
func (l *EventLoop) Run(ctx context.Context) error {
	l.AssertInLoopThread()
	if l.looping {
		l.fatal("run", ErrLoopReentrant)
	}
	if l.closed.Load() {
		return ErrLoopClosed
	}
	if !l.ran.CAS(false, true) {
		l.fatal("run", ErrLoopAlreadyRan)
	}

	if !l.state.TryTransition(StateIdle, StateRunning) {
		// quit was requested before running
		l.state.Store(StateStopped)
		return nil
	}
	defer l.state.Store(StateStopped)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// wake the loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Quit()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	l.looping = true
	defer func() { l.looping = false }()

	l.logger.Debug().
		Uint64("loop", l.id).
		Log("event loop start looping")

	var runErr error
	for l.state.Load() == StateRunning {
		if runErr = l.iterate(); runErr != nil {
			break
		}
	}

	l.logger.Debug().
		Uint64("loop", l.id).
		Uint64("iterations", l.iteration.Load()).
		Log("event loop stop looping")

	if runErr == nil {
		runErr = ctx.Err()
	}
	return runErr
}

// iterate performs one wait, dispatch and drain cycle.
func (l *EventLoop) iterate() error {
	clear(l.activeChannels)
	l.activeChannels = l.activeChannels[:0]

	if l.testHooks != nil && l.testHooks.PrePoll != nil {
		l.testHooks.PrePoll()
	}

	now, err := l.poller.Poll(l.pollTimeout, &l.activeChannels)
	l.pollReturnTime = now
	l.iteration.Inc()

	if l.testHooks != nil && l.testHooks.PostPoll != nil {
		l.testHooks.PostPoll()
	}

	if err != nil && l.handlePollError(err) {
		l.state.Store(StateQuitting)
		return fmt.Errorf("%w: %w", ErrPollerFailed, err)
	}

	l.logger.Trace().
		Uint64("loop", l.id).
		Int("count", len(l.activeChannels)).
		Log("event loop poll returned")

	l.eventHandling = true
	for _, c := range l.activeChannels {
		l.currentActiveChannel = c
		l.safeExecute("channel", func() { c.HandleEvent(now) })
		l.metrics.channelDispatched()
	}
	l.currentActiveChannel = nil
	l.eventHandling = false

	l.doPendingTasks()
	return nil
}

// handlePollError reports whether err must stop the loop.
func (l *EventLoop) handlePollError(err error) bool {
	if errors.Is(err, unix.EINTR) {
		return false
	}
	l.metrics.pollError()
	if isFatalPollError(err) {
		l.logCritical("poll", err)
		return true
	}
	l.logPollError(err)
	return false
}

// Quit asks the loop to stop. It's safe from any goroutine, and takes effect
// after the current iteration, at most one poll timeout later.
func (l *EventLoop) Quit() {
	if _, ok := l.state.TransitionAny([]LoopState{StateIdle, StateRunning}, StateQuitting); !ok {
		return
	}
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop runs task immediately if called on the loop goroutine, otherwise
// queues it.
func (l *EventLoop) RunInLoop(task Task) {
	if l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop queues task to run on the loop goroutine, after the current
// dispatch. Tasks queued by one goroutine run in the order queued. Tasks
// queued after Close are dropped.
func (l *EventLoop) QueueInLoop(task Task) {
	l.pendingMu.Lock()
	// Close sets closed before it discards the queue under pendingMu
	if l.closed.Load() {
		l.pendingMu.Unlock()
		l.logger.Debug().
			Uint64("loop", l.id).
			Log("event loop closed: task dropped")
		return
	}
	l.pending.Add(task)
	l.pendingMu.Unlock()

	// a task queued by a task runs in the next drain, so the next wait must
	// not block
	if !l.IsInLoopThread() || l.callingPendingTasks.Load() {
		l.wakeup()
	}
}

// QueueSize returns the number of tasks waiting to run. Safe from any
// goroutine.
func (l *EventLoop) QueueSize() int {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	return l.pending.Length()
}

// RunAt schedules cb to run once at when. A when without a monotonic clock
// reading is resolved against the wall clock once, at scheduling.
func (l *EventLoop) RunAt(when time.Time, cb TimerCallback) TimerID {
	return l.timerQueue.addTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb TimerCallback) TimerID {
	return l.RunAt(time.Now().Add(delay), cb)
}

// RunEvery schedules cb to run every interval, starting one interval from
// now. The interval must be positive.
func (l *EventLoop) RunEvery(interval time.Duration, cb TimerCallback) TimerID {
	if interval <= 0 {
		l.fatal("run every", ErrInvalidInterval)
	}
	return l.timerQueue.addTimer(cb, time.Now().Add(interval), interval)
}

// Cancel stops the timer identified by id. Canceling a timer that already
// fired for the last time, or the zero TimerID, is a no-op.
func (l *EventLoop) Cancel(id TimerID) {
	l.timerQueue.cancel(id)
}

// UpdateChannel applies c's interest mask to the poller.
func (l *EventLoop) UpdateChannel(c *Channel) {
	l.checkChannel("update channel", c)
	l.poller.UpdateChannel(c)
}

// RemoveChannel drops c's registration. During dispatch, only the channel
// being handled, or a channel not ready in this iteration, may be removed.
func (l *EventLoop) RemoveChannel(c *Channel) {
	l.checkChannel("remove channel", c)
	if l.eventHandling && c != l.currentActiveChannel && slices.Contains(l.activeChannels, c) {
		l.fatal("remove channel", fmt.Errorf("%w: fd %d removed while pending dispatch", ErrChannelState, c.fd))
	}
	l.poller.RemoveChannel(c)
}

// HasChannel reports whether c is registered with this loop's poller.
func (l *EventLoop) HasChannel(c *Channel) bool {
	l.checkChannel("has channel", c)
	return l.poller.HasChannel(c)
}

func (l *EventLoop) checkChannel(op string, c *Channel) {
	if c.OwnerLoop() != l {
		l.fatal(op, ErrChannelForeignLoop)
	}
	l.AssertInLoopThread()
	if l.closed.Load() {
		l.fatal(op, ErrLoopClosed)
	}
}

// IsInLoopThread reports whether the caller is the loop's goroutine.
func (l *EventLoop) IsInLoopThread() bool {
	return getGoroutineID() == l.goid
}

// AssertInLoopThread panics with a *FatalError wrapping ErrNotInLoopThread
// unless called on the loop's goroutine.
func (l *EventLoop) AssertInLoopThread() {
	if goid := getGoroutineID(); goid != l.goid {
		l.fatal("assert in loop thread", fmt.Errorf("%w: loop %d owned by goroutine %d, called from goroutine %d",
			ErrNotInLoopThread, l.id, l.goid, goid))
	}
}

// ID returns the process-unique loop id. Safe from any goroutine.
func (l *EventLoop) ID() uint64 { return l.id }

// State returns the current lifecycle state. Safe from any goroutine.
func (l *EventLoop) State() LoopState { return l.state.Load() }

// Iteration returns the number of completed readiness waits. Safe from any
// goroutine.
func (l *EventLoop) Iteration() uint64 { return l.iteration.Load() }

// PollReturnTime returns when the latest readiness wait returned. Loop
// goroutine only.
func (l *EventLoop) PollReturnTime() time.Time { return l.pollReturnTime }

// EventHandling reports whether the loop is dispatching ready channels. Loop
// goroutine only.
func (l *EventLoop) EventHandling() bool { return l.eventHandling }

// Close releases the timer queue, the wakeup eventfd and the poller, and
// frees the calling goroutine to create another loop. It must be called on
// the loop's goroutine, and not while Run is executing. Pending tasks and
// timers are discarded.
func (l *EventLoop) Close() error {
	l.AssertInLoopThread()
	if l.looping {
		return ErrLoopRunning
	}
	if l.closed.Load() {
		return ErrLoopClosed
	}
	l.ran.Store(true)
	l.state.Store(StateStopped)

	errs := []error{l.timerQueue.close()}

	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()

	l.wakeMu.Lock()
	l.closed.Store(true)
	errs = append(errs, closeFD(l.wakeupFd))
	l.wakeupFd = -1
	l.wakeMu.Unlock()

	errs = append(errs, l.poller.Close())
	unregisterLoop(l.goid, l)

	l.pendingMu.Lock()
	discarded := l.pending.Length()
	l.pending = queue.New()
	l.pendingMu.Unlock()

	l.logger.Debug().
		Uint64("loop", l.id).
		Int("discarded", discarded).
		Log("event loop closed")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reactor: close: %w", err)
	}
	return nil
}

// wakeup interrupts a blocked wait.
func (l *EventLoop) wakeup() {
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.closed.Load() {
		return
	}
	if err := signalWakeFd(l.wakeupFd); err != nil {
		l.logError("wakeup", err)
	}
}

func (l *EventLoop) handleWakeup(time.Time) {
	if err := drainWakeFd(l.wakeupFd); err != nil {
		l.logError("wakeup drain", err)
	}
	l.metrics.wakeup()
}

// doPendingTasks runs every task queued before the drain began. Tasks queued
// while draining are left for the next iteration.
func (l *EventLoop) doPendingTasks() {
	l.callingPendingTasks.Store(true)
	defer l.callingPendingTasks.Store(false)

	l.pendingMu.Lock()
	l.pending, l.spare = l.spare, l.pending
	l.pendingMu.Unlock()

	for l.spare.Length() > 0 {
		task := l.spare.Remove().(Task)
		l.safeExecute("task", task)
		l.metrics.taskExecuted()
	}
}

// safeExecute runs fn, recovering and logging panics. A *FatalError is
// propagated.
func (l *EventLoop) safeExecute(op string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if isFatal(r) {
				panic(r)
			}
			l.logPanic(op, r)
		}
	}()
	fn()
}
