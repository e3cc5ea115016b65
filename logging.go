package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/sys/unix"
)

// logCritical is logged immediately before a fatal panic or a fatal poll
// failure.
func (l *EventLoop) logCritical(op string, err error) {
	l.logger.Crit().
		Uint64("loop", l.id).
		Str("op", op).
		Err(err).
		Log("event loop fatal error")
}

func (l *EventLoop) logError(op string, err error) {
	l.logger.Err().
		Uint64("loop", l.id).
		Str("op", op).
		Err(err).
		Log("event loop error")
}

// logPanic records a recovered callback panic.
func (l *EventLoop) logPanic(op string, r any) {
	l.logger.Err().
		Uint64("loop", l.id).
		Str("op", op).
		Str("panic", fmt.Sprint(r)).
		Log("event loop callback panicked")
}

// newPollErrorLimiter returns nil when throttling is disabled. Rates that
// catrate rejects, such as a longer window allowing fewer events, are
// reported as ErrInvalidOption.
func newPollErrorLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf("%w: poll error log rates: %v", ErrInvalidOption, r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// logPollError logs a transient poll failure, throttled per errno.
func (l *EventLoop) logPollError(err error) {
	var category any = "unknown"
	var errno unix.Errno
	if errors.As(err, &errno) {
		category = errno
	}
	if l.pollErrorLimiter != nil {
		if _, ok := l.pollErrorLimiter.Allow(category); !ok {
			return
		}
	}
	l.logger.Err().
		Uint64("loop", l.id).
		Str("op", "poll").
		Err(err).
		Log("event loop poll failed")
}
