package reactor

import (
	"go.uber.org/atomic"
)

// Metrics is a point-in-time snapshot of an EventLoop's counters.
//
// Example:
//
//	loop, _ := New(WithMetrics(true))
//	...
//	m := loop.Metrics()
//	fmt.Printf("iterations=%d tasks=%d\n", m.Iterations, m.TasksExecuted)
type Metrics struct {
	// Iterations counts completed readiness waits.
	Iterations uint64
	// ChannelsDispatched counts channels handed to HandleEvent.
	ChannelsDispatched uint64
	// TasksExecuted counts pending tasks run by the loop.
	TasksExecuted uint64
	// TimersFired counts timer callbacks run.
	TimersFired uint64
	// PollErrors counts failed waits, excluding EINTR.
	PollErrors uint64
	// Wakeups counts drained eventfd notifications.
	Wakeups uint64
}

// loopMetrics is nil unless metrics are enabled. Every method is safe to
// call on a nil receiver.
type loopMetrics struct {
	channelsDispatched atomic.Uint64
	tasksExecuted      atomic.Uint64
	timersFired        atomic.Uint64
	pollErrors         atomic.Uint64
	wakeups            atomic.Uint64
}

func (m *loopMetrics) channelDispatched() {
	if m != nil {
		m.channelsDispatched.Inc()
	}
}

func (m *loopMetrics) taskExecuted() {
	if m != nil {
		m.tasksExecuted.Inc()
	}
}

func (m *loopMetrics) timerFired() {
	if m != nil {
		m.timersFired.Inc()
	}
}

func (m *loopMetrics) pollError() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

func (m *loopMetrics) wakeup() {
	if m != nil {
		m.wakeups.Inc()
	}
}

// Metrics returns a snapshot of the loop's counters. Iterations is always
// populated, the rest are zero unless the loop was created WithMetrics.
func (l *EventLoop) Metrics() Metrics {
	s := Metrics{Iterations: l.iteration.Load()}
	if m := l.metrics; m != nil {
		s.ChannelsDispatched = m.channelsDispatched.Load()
		s.TasksExecuted = m.tasksExecuted.Load()
		s.TimersFired = m.timersFired.Load()
		s.PollErrors = m.pollErrors.Load()
		s.Wakeups = m.wakeups.Load()
	}
	return s
}
