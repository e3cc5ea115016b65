package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// PollerKind selects a readiness backend.
type PollerKind int

const (
	// PollerEpoll keeps the interest set in the kernel, O(ready) per wait.
	PollerEpoll PollerKind = iota
	// PollerPoll scans a flat pollfd table, O(n) per wait.
	PollerPoll
)

// String returns the backend name.
func (k PollerKind) String() string {
	switch k {
	case PollerEpoll:
		return "epoll"
	case PollerPoll:
		return "poll"
	default:
		return fmt.Sprintf("PollerKind(%d)", int(k))
	}
}

// Poller is a readiness backend. Every method must be called on the owning
// loop's goroutine.
//
// The poller holds back-references to the channels it watches, it never owns
// them. It only ever reports channels that are currently registered.
type Poller interface {
	// Poll blocks until at least one registered channel is ready or timeout
	// elapses, appending ready channels to active. It returns the time the
	// wait returned.
	Poll(timeout time.Duration, active *[]*Channel) (time.Time, error)
	// UpdateChannel adds or modifies the registration for c.
	UpdateChannel(c *Channel)
	// RemoveChannel drops the registration for c, which must have no
	// interest enabled.
	RemoveChannel(c *Channel)
	// HasChannel reports whether c is the channel registered for its fd.
	HasChannel(c *Channel) bool
	// Close releases backend resources.
	Close() error
}

// newPoller constructs the backend selected for loop.
func newPoller(kind PollerKind, loop *EventLoop) (Poller, error) {
	switch kind {
	case PollerPoll:
		return newPollPoller(loop), nil
	case PollerEpoll:
		return newEpollPoller(loop)
	default:
		return nil, fmt.Errorf("%w: unknown poller kind %d", ErrInvalidOption, kind)
	}
}

// timeoutMillis converts a wait timeout, rounding sub-millisecond values up.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout > 0 && timeout < time.Millisecond {
		return 1
	}
	return int(timeout.Milliseconds())
}

// isFatalPollError reports whether a wait error means the backend can't
// continue, as opposed to a transient condition.
func isFatalPollError(err error) bool {
	return errors.Is(err, unix.EBADF) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.EFAULT)
}
