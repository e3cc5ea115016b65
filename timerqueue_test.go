package reactor

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestTimerQueue_IndexesStayInSync(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue
	rng := rand.New(rand.NewPCG(1, 2))
	now := time.Now()

	live := make(map[uint64]TimerID)
	var ids []TimerID
	for i := 0; i < 2000; i++ {
		if len(ids) == 0 || rng.IntN(3) != 0 {
			// far enough out that nothing fires
			when := now.Add(time.Hour + time.Duration(rng.IntN(1000))*time.Millisecond)
			var interval time.Duration
			if rng.IntN(2) == 0 {
				interval = time.Minute
			}
			id := q.addTimer(func() {}, when, interval)
			ids = append(ids, id)
			live[id.Sequence()] = id
		} else {
			id := ids[rng.IntN(len(ids))]
			l.Cancel(id)
			delete(live, id.Sequence())
		}
		require.Equal(t, len(live), q.timers.Len())
		require.Equal(t, len(live), len(q.active))
	}
	for seq := range live {
		require.Contains(t, q.active, seq)
	}
}

func TestTimerQueue_SameExpirationFiresInSequenceOrder(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue
	when := time.Now().Add(-time.Millisecond)

	var calls []int
	for i := 0; i < 5; i++ {
		l.RunAt(when, func() { calls = append(calls, i) })
	}
	require.Equal(t, 5, q.len())

	q.handleRead(time.Now())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls)
	assert.Zero(t, q.len())
}

func TestTimerQueue_OnlyDueTimersFire(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue

	var fired []string
	l.RunAt(time.Now().Add(-time.Millisecond), func() { fired = append(fired, "due") })
	later := l.RunAfter(time.Hour, func() { fired = append(fired, "later") })

	q.handleRead(time.Now())
	assert.Equal(t, []string{"due"}, fired)
	require.Equal(t, 1, q.len())
	assert.Contains(t, q.active, later.Sequence())
}

func TestTimerQueue_RepeatingRestartsFromExpiration(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue

	expiration := time.Now().Add(-50 * time.Millisecond)
	var count int
	id := q.addTimer(func() { count++ }, expiration, time.Hour)

	q.handleRead(time.Now())
	require.Equal(t, 1, count)
	tm, ok := q.active[id.Sequence()]
	require.True(t, ok, "repeating timer is rescheduled")
	assert.True(t, tm.expiration.Equal(expiration.Add(time.Hour)),
		"next expiration is previous expiration plus interval")
	first, ok := q.timers.Min()
	require.True(t, ok)
	assert.Same(t, tm, first)
}

func TestTimerQueue_CancelDuringBatchSuppressesReschedule(t *testing.T) {
	for _, cancelFirst := range []bool{true, false} {
		name := "canceler fires first"
		if !cancelFirst {
			name = "canceler fires second"
		}
		t.Run(name, func(t *testing.T) {
			l := newTestLoop(t)
			q := l.timerQueue
			now := time.Now()

			var calls []string
			var victim TimerID
			cancelAt, victimAt := now.Add(-2*time.Millisecond), now.Add(-time.Millisecond)
			if !cancelFirst {
				cancelAt, victimAt = victimAt, cancelAt
			}
			q.addTimer(func() {
				calls = append(calls, "cancel")
				l.Cancel(victim)
			}, cancelAt, 0)
			victim = q.addTimer(func() { calls = append(calls, "victim") }, victimAt, time.Hour)

			q.handleRead(time.Now())
			if cancelFirst {
				assert.Equal(t, []string{"cancel", "victim"}, calls)
			} else {
				assert.Equal(t, []string{"victim", "cancel"}, calls)
			}
			assert.Zero(t, q.len(), "canceled repeating timer is not rescheduled")
			assert.Empty(t, q.active)
		})
	}
}

func TestTimerQueue_CancelSelfFromCallback(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue

	var id TimerID
	var count int
	id = q.addTimer(func() {
		count++
		l.Cancel(id)
	}, time.Now().Add(-time.Millisecond), time.Millisecond)

	q.handleRead(time.Now())
	assert.Equal(t, 1, count)
	assert.Zero(t, q.len())

	// the canceling set is scoped to one batch
	other := q.addTimer(func() {}, time.Now().Add(-time.Millisecond), time.Hour)
	q.handleRead(time.Now())
	assert.Contains(t, q.active, other.Sequence())
}

func TestEventLoop_RunAfterFiresOnceNotEarly(t *testing.T) {
	loop := startLoopThread(t)

	const delay = 50 * time.Millisecond
	var count atomic.Int32
	fired := make(chan time.Time, 2)
	start := time.Now()
	loop.RunAfter(delay, func() {
		count.Inc()
		fired <- time.Now()
	})

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(start), delay)
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
	var pending int
	runSync(t, loop, func() { pending = loop.timerQueue.len() })
	assert.Zero(t, pending)
}

func TestEventLoop_RunAfterThenCancelNeverFires(t *testing.T) {
	loop := startLoopThread(t)

	var fired atomic.Bool
	id := loop.RunAfter(500*time.Millisecond, func() { fired.Store(true) })
	require.True(t, id.Valid())
	loop.Cancel(id)

	time.Sleep(700 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestEventLoop_RunEvery(t *testing.T) {
	loop := startLoopThread(t)

	var mu sync.Mutex
	var times []time.Time
	var id TimerID
	done := make(chan struct{})
	// id is written and read on the loop goroutine only
	runSync(t, loop, func() {
		id = loop.RunEvery(10*time.Millisecond, func() {
			mu.Lock()
			defer mu.Unlock()
			times = append(times, time.Now())
			if len(times) == 3 {
				assert.True(t, id.Valid())
				loop.Cancel(id)
				close(done)
			}
		})
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("repeating timer did not fire three times")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, times, 3)
}

func TestTimer_ExpirationUsesMonotonicClock(t *testing.T) {
	now := time.Now()
	wall := now.Add(time.Hour).Round(0)
	a := newTimer(func() {}, wall, 0)
	assert.Contains(t, a.expiration.String(), " m=")
	assert.WithinDuration(t, wall, a.expiration, time.Second)

	b := newTimer(func() {}, now.Add(2*time.Hour), 0)
	assert.True(t, timerLess(a, b))
	assert.False(t, timerLess(b, a))
}

func TestEventLoop_RunAtWallClockTime(t *testing.T) {
	loop := startLoopThread(t)
	fired := make(chan struct{})
	loop.RunAt(time.Now().Add(20*time.Millisecond).Round(0), func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestEventLoop_RunEveryRequiresPositiveInterval(t *testing.T) {
	l := newTestLoop(t)
	requireFatal(t, ErrInvalidInterval, func() { l.RunEvery(0, func() {}) })
	requireFatal(t, ErrInvalidInterval, func() { l.RunEvery(-time.Second, func() {}) })
}

func TestTimerID_Zero(t *testing.T) {
	l := newTestLoop(t)
	var id TimerID
	assert.False(t, id.Valid())
	assert.Zero(t, id.Sequence())
	assert.NotPanics(t, func() { l.Cancel(id) })
}

func TestTimerID_SequenceIncreases(t *testing.T) {
	l := newTestLoop(t)
	a := l.RunAfter(time.Hour, func() {})
	b := l.RunAfter(time.Hour, func() {})
	assert.Greater(t, b.Sequence(), a.Sequence())
}

func TestTimerQueue_TimerPanicRecovered(t *testing.T) {
	l := newTestLoop(t)
	q := l.timerQueue
	var ran bool
	l.RunAt(time.Now().Add(-2*time.Millisecond), func() { panic("boom") })
	l.RunAt(time.Now().Add(-time.Millisecond), func() { ran = true })
	assert.NotPanics(t, func() { q.handleRead(time.Now()) })
	assert.True(t, ran)
}
