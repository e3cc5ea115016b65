package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNotInLoopThread indicates loop-owned state was touched from a
	// goroutine other than the one the loop is confined to.
	ErrNotInLoopThread = errors.New("reactor: not in loop thread")

	// ErrLoopExists is returned by New when the calling goroutine already
	// owns an event loop.
	ErrLoopExists = errors.New("reactor: another event loop exists in this goroutine")

	// ErrLoopReentrant indicates Run was called from within the running loop.
	ErrLoopReentrant = errors.New("reactor: cannot call Run from within the loop")

	// ErrLoopAlreadyRan indicates Run was called on a loop that already ran.
	ErrLoopAlreadyRan = errors.New("reactor: loop has already run")

	// ErrLoopRunning indicates an operation that requires a stopped loop.
	ErrLoopRunning = errors.New("reactor: loop is running")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("reactor: loop has been closed")

	// ErrChannelForeignLoop indicates a channel was passed to a loop that
	// doesn't own it.
	ErrChannelForeignLoop = errors.New("reactor: channel belongs to another loop")

	// ErrChannelInCallback indicates a channel was destroyed while its own
	// callbacks were executing.
	ErrChannelInCallback = errors.New("reactor: channel destroyed while handling events")

	// ErrChannelRegistered indicates a channel was destroyed while still
	// registered with its loop.
	ErrChannelRegistered = errors.New("reactor: channel destroyed while registered")

	// ErrChannelHasInterest indicates a channel was removed without first
	// disabling all interest.
	ErrChannelHasInterest = errors.New("reactor: channel removed with interest enabled")

	// ErrChannelState indicates the poller's bookkeeping for a channel is
	// inconsistent with the channel itself.
	ErrChannelState = errors.New("reactor: inconsistent channel registration")

	// ErrTimerIndex indicates the timer queue's ordered set and identity
	// index diverged.
	ErrTimerIndex = errors.New("reactor: timer indexes out of sync")

	// ErrInvalidInterval indicates a repeating timer without a positive
	// interval.
	ErrInvalidInterval = errors.New("reactor: repeating timer interval must be positive")

	// ErrThreadAlreadyStarted indicates StartLoop was called twice.
	ErrThreadAlreadyStarted = errors.New("reactor: loop thread already started")

	// ErrPoolAlreadyStarted indicates Start was called twice on a pool.
	ErrPoolAlreadyStarted = errors.New("reactor: loop thread pool already started")

	// ErrPoolNotStarted indicates a loop was requested from a pool that
	// hasn't been started.
	ErrPoolNotStarted = errors.New("reactor: loop thread pool not started")

	// ErrPollerFailed wraps an unrecoverable error from the readiness wait.
	ErrPollerFailed = errors.New("reactor: poller failed")

	// ErrInvalidOption is returned for option values that can't be applied.
	ErrInvalidOption = errors.New("reactor: invalid option")
)

// FatalError is the panic value used for programming errors, such as
// thread-confinement violations, destroying a channel mid-callback, or
// starting a loop twice. Callback panic recovery never swallows it.
type FatalError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("reactor: fatal: %v", e.Err)
	}
	return fmt.Sprintf("reactor: fatal: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *FatalError) Unwrap() error {
	return e.Err
}

// fatal logs at critical level, then panics with a *FatalError.
func (l *EventLoop) fatal(op string, err error) {
	l.logCritical(op, err)
	panic(&FatalError{Op: op, Err: err})
}

// isFatal reports whether a recovered panic value must be propagated.
func isFatal(r any) bool {
	err, ok := r.(error)
	if !ok {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}
