package reactor

import (
	"time"

	"go.uber.org/atomic"
)

// timerSeq issues process-wide timer sequence numbers, starting at 1.
var timerSeq atomic.Uint64

// timer is a scheduled callback, owned by the timer queue that holds it.
// expiration is only modified while the timer is outside the ordered set.
type timer struct {
	expiration time.Time
	callback   TimerCallback
	interval   time.Duration
	seq        uint64
}

func newTimer(cb TimerCallback, when time.Time, interval time.Duration) *timer {
	return &timer{
		expiration: monotonic(when),
		callback:   cb,
		interval:   interval,
		seq:        timerSeq.Inc(),
	}
}

func (t *timer) repeat() bool { return t.interval > 0 }

// restart advances a repeating timer by one interval from its previous
// expiration, so firing latency never accumulates.
func (t *timer) restart() {
	t.expiration = t.expiration.Add(t.interval)
}

// monotonic rebases when onto the monotonic clock, so every expiration in
// the queue compares on the same clock even if the wall clock steps.
func monotonic(when time.Time) time.Time {
	now := time.Now()
	return now.Add(when.Sub(now))
}

// timerLess orders by expiration, then sequence, so timers sharing an
// expiration stay distinct.
func timerLess(a, b *timer) bool {
	if a.expiration.Equal(b.expiration) {
		return a.seq < b.seq
	}
	return a.expiration.Before(b.expiration)
}

// TimerID identifies a scheduled timer for cancellation. The zero value
// identifies nothing, and canceling it is a no-op.
type TimerID struct {
	seq uint64
}

// Sequence returns the process-unique sequence number of the timer.
func (id TimerID) Sequence() uint64 { return id.seq }

// Valid reports whether id was returned by a scheduling call.
func (id TimerID) Valid() bool { return id.seq != 0 }
