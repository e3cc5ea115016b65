package reactor

import (
	"fmt"
	"math"
	"time"

	"github.com/google/btree"
)

const timerTreeDegree = 16

// timerQueue schedules timers on one loop, multiplexed onto a single
// timerfd. All state is confined to the loop goroutine.
//
// timers is ordered by (expiration, seq), and active indexes the same timers
// by seq. The two always hold the same set.
type timerQueue struct {
	loop    *EventLoop
	channel *Channel
	timers  *btree.BTreeG[*timer]
	active  map[uint64]*timer
	// canceling collects cancellations of timers in the batch being run
	canceling      map[uint64]struct{}
	expired        []*timer
	timerfd        int
	callingExpired bool
}

func newTimerQueue(loop *EventLoop) (*timerQueue, error) {
	fd, err := createTimerfd()
	if err != nil {
		return nil, err
	}
	q := &timerQueue{
		loop:      loop,
		timers:    btree.NewG[*timer](timerTreeDegree, timerLess),
		active:    make(map[uint64]*timer),
		canceling: make(map[uint64]struct{}),
		timerfd:   fd,
	}
	q.channel = NewChannel(loop, fd)
	q.channel.DoNotLogHup()
	q.channel.SetReadCallback(q.handleRead)
	q.channel.EnableReading()
	return q, nil
}

// addTimer schedules cb and returns its id immediately. The insertion itself
// runs on the loop goroutine.
func (q *timerQueue) addTimer(cb TimerCallback, when time.Time, interval time.Duration) TimerID {
	t := newTimer(cb, when, interval)
	q.loop.RunInLoop(func() { q.addTimerInLoop(t) })
	return TimerID{seq: t.seq}
}

// cancel removes the timer identified by id, if it hasn't already fired for
// the last time.
func (q *timerQueue) cancel(id TimerID) {
	if !id.Valid() {
		return
	}
	q.loop.RunInLoop(func() { q.cancelInLoop(id) })
}

func (q *timerQueue) addTimerInLoop(t *timer) {
	q.loop.AssertInLoopThread()
	if q.insert(t) {
		q.arm(t.expiration)
	}
}

func (q *timerQueue) cancelInLoop(id TimerID) {
	q.loop.AssertInLoopThread()
	q.checkIndexes()
	if t, ok := q.active[id.seq]; ok {
		q.timers.Delete(t)
		delete(q.active, id.seq)
		q.loop.logger.Trace().
			Uint64("loop", q.loop.id).
			Uint64("timer", id.seq).
			Log("timer canceled")
	} else if q.callingExpired {
		q.canceling[id.seq] = struct{}{}
	}
	q.checkIndexes()
}

// handleRead runs every timer due at or before now.
func (q *timerQueue) handleRead(time.Time) {
	q.loop.AssertInLoopThread()
	if _, err := drainTimerfd(q.timerfd); err != nil {
		q.loop.logError("timerfd read", err)
	}

	now := time.Now()
	expired := q.getExpired(now)

	q.callingExpired = true
	clear(q.canceling)
	for _, t := range expired {
		q.loop.safeExecute("timer", t.callback)
		q.loop.metrics.timerFired()
	}
	q.callingExpired = false

	q.reset(expired)
	clear(expired)
	q.expired = expired[:0]
}

// getExpired removes and returns every timer with expiration <= now, in
// order.
func (q *timerQueue) getExpired(now time.Time) []*timer {
	q.checkIndexes()
	expired := q.expired[:0]
	sentinel := &timer{expiration: now, seq: math.MaxUint64}
	q.timers.AscendLessThan(sentinel, func(t *timer) bool {
		expired = append(expired, t)
		return true
	})
	for _, t := range expired {
		q.timers.Delete(t)
		delete(q.active, t.seq)
	}
	q.checkIndexes()
	return expired
}

// reset reinserts repeating timers that weren't canceled while the batch
// ran, then rearms the timerfd for the earliest remaining timer.
func (q *timerQueue) reset(expired []*timer) {
	for _, t := range expired {
		if !t.repeat() {
			continue
		}
		if _, ok := q.canceling[t.seq]; ok {
			continue
		}
		t.restart()
		q.insert(t)
	}
	if next, ok := q.timers.Min(); ok {
		q.arm(next.expiration)
	}
}

// insert adds t to both indexes, reporting whether it's the new earliest.
func (q *timerQueue) insert(t *timer) bool {
	q.checkIndexes()
	earliest := true
	if first, ok := q.timers.Min(); ok && !t.expiration.Before(first.expiration) {
		earliest = false
	}
	q.timers.ReplaceOrInsert(t)
	q.active[t.seq] = t
	q.checkIndexes()
	return earliest
}

func (q *timerQueue) arm(expiration time.Time) {
	if err := armTimerfd(q.timerfd, expiration); err != nil {
		q.loop.logError("timerfd arm", err)
	}
}

func (q *timerQueue) checkIndexes() {
	if q.timers.Len() != len(q.active) {
		q.loop.fatal("timer queue", fmt.Errorf("%w: %d ordered, %d active", ErrTimerIndex, q.timers.Len(), len(q.active)))
	}
}

// len returns the number of pending timers.
func (q *timerQueue) len() int { return len(q.active) }

// close disarms and releases the timerfd. Pending timers are discarded.
func (q *timerQueue) close() error {
	q.channel.DisableAll()
	q.channel.Remove()
	q.timers.Clear(false)
	clear(q.active)
	clear(q.canceling)
	return closeFD(q.timerfd)
}
