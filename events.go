package reactor

import (
	"strings"
	"time"
)

// IOEvents is a backend-independent mask of interest and readiness bits.
// Interest only ever uses EventRead, EventPriority and EventWrite, the rest
// are readiness conditions reported by the poller.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is readable.
	EventRead IOEvents = 1 << iota
	// EventPriority indicates urgent data is readable.
	EventPriority
	// EventWrite indicates the descriptor is writable.
	EventWrite
	// EventReadHangup indicates the peer shut down its writing half.
	EventReadHangup
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the descriptor was hung up.
	EventHangup
	// EventInvalid indicates the descriptor isn't open.
	EventInvalid
)

const (
	// EventNone is the empty interest mask.
	EventNone IOEvents = 0
	// readInterest is the interest mask enabled by Channel.EnableReading.
	readInterest = EventRead | EventPriority
	// writeInterest is the interest mask enabled by Channel.EnableWriting.
	writeInterest = EventWrite
)

var eventNames = [...]struct {
	name string
	ev   IOEvents
}{
	{"IN", EventRead},
	{"PRI", EventPriority},
	{"OUT", EventWrite},
	{"RDHUP", EventReadHangup},
	{"ERR", EventError},
	{"HUP", EventHangup},
	{"NVAL", EventInvalid},
}

// String renders the mask as space separated condition names, e.g. "IN PRI".
func (e IOEvents) String() string {
	var b strings.Builder
	for _, n := range eventNames {
		if e&n.ev == 0 {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n.name)
	}
	return b.String()
}

type (
	// Task is deferred work, executed on a loop's goroutine.
	Task func()

	// TimerCallback is invoked on the loop goroutine when a timer expires.
	TimerCallback func()

	// EventCallback handles write, close and error conditions on a Channel.
	EventCallback func()

	// ReadEventCallback handles readability on a Channel. receiveTime is the
	// time the readiness wait returned.
	ReadEventCallback func(receiveTime time.Time)

	// ThreadInitCallback runs on a new loop's goroutine before it dispatches.
	ThreadInitCallback func(loop *EventLoop)
)
