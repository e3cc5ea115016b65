package reactor

import (
	"strconv"
	"time"
)

// indexNew is the registration index of a channel no poller knows about.
const indexNew = -1

// Channel binds one file descriptor to one EventLoop, and dispatches its
// readiness to the configured callbacks. A Channel never owns its fd, and the
// loop never owns the Channel.
//
// All methods other than the accessors must be called on the owning loop's
// goroutine.
type Channel struct {
	loop          *EventLoop
	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
	fd            int
	// index is owned by the poller that holds the registration
	index         int
	events        IOEvents
	revents       IOEvents
	logHup        bool
	eventHandling bool
	addedToLoop   bool
}

// NewChannel creates a channel for fd, owned by loop. Nothing is registered
// until interest is enabled.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:   loop,
		fd:     fd,
		index:  indexNew,
		logHup: true,
	}
}

// SetReadCallback sets the callback for readable (and priority/rdhup) events.
func (c *Channel) SetReadCallback(cb ReadEventCallback) { c.readCallback = cb }

// SetWriteCallback sets the callback for writable events.
func (c *Channel) SetWriteCallback(cb EventCallback) { c.writeCallback = cb }

// SetCloseCallback sets the callback for hangup without pending input.
func (c *Channel) SetCloseCallback(cb EventCallback) { c.closeCallback = cb }

// SetErrorCallback sets the callback for error or invalid descriptor events.
func (c *Channel) SetErrorCallback(cb EventCallback) { c.errorCallback = cb }

// Fd returns the file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() IOEvents { return c.events }

// Revents returns the readiness mask recorded by the last poll.
func (c *Channel) Revents() IOEvents { return c.revents }

// OwnerLoop returns the loop this channel is bound to.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// IsNoneEvent reports whether all interest is disabled.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// IsReading reports whether read interest is enabled.
func (c *Channel) IsReading() bool { return c.events&readInterest != 0 }

// IsWriting reports whether write interest is enabled.
func (c *Channel) IsWriting() bool { return c.events&writeInterest != 0 }

// DoNotLogHup suppresses the warning logged on hangup.
func (c *Channel) DoNotLogHup() { c.logHup = false }

// EnableReading adds read interest and updates the registration.
func (c *Channel) EnableReading() {
	c.events |= readInterest
	c.update()
}

// DisableReading removes read interest and updates the registration.
func (c *Channel) DisableReading() {
	c.events &^= readInterest
	c.update()
}

// EnableWriting adds write interest and updates the registration.
func (c *Channel) EnableWriting() {
	c.events |= writeInterest
	c.update()
}

// DisableWriting removes write interest and updates the registration.
func (c *Channel) DisableWriting() {
	c.events &^= writeInterest
	c.update()
}

// DisableAll zeroes the interest mask and updates the registration.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

// Remove unregisters the channel from its loop. All interest must already be
// disabled.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		c.loop.fatal("channel remove", ErrChannelHasInterest)
	}
	c.addedToLoop = false
	c.loop.RemoveChannel(c)
}

// Destroy asserts the channel may be discarded: it must be removed from its
// loop and must not be dispatching. Callbacks that want to discard their own
// channel must defer it via EventLoop.QueueInLoop.
func (c *Channel) Destroy() {
	if c.eventHandling {
		c.loop.fatal("channel destroy", ErrChannelInCallback)
	}
	if c.addedToLoop || (!c.loop.closed.Load() && c.loop.IsInLoopThread() && c.loop.HasChannel(c)) {
		c.loop.fatal("channel destroy", ErrChannelRegistered)
	}
}

// HandleEvent dispatches the last readiness mask, in priority order:
// invalid descriptor, error, hangup without input, readable, writable.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	r := c.revents

	if r&EventInvalid != 0 {
		c.loop.logger.Warning().
			Uint64("loop", c.loop.id).
			Int("fd", c.fd).
			Log("channel handle event: invalid descriptor")
	}

	if r&(EventError|EventInvalid) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if r&EventHangup != 0 && r&EventRead == 0 {
		if c.logHup {
			c.loop.logger.Warning().
				Uint64("loop", c.loop.id).
				Int("fd", c.fd).
				Log("channel handle event: hangup")
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}

	if r&(EventRead|EventPriority|EventReadHangup) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}

	if r&EventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

// String renders the fd and readiness, e.g. "7: IN HUP".
func (c *Channel) String() string {
	return strconv.Itoa(c.fd) + ": " + c.revents.String()
}

// EventsString renders the fd and interest, e.g. "7: IN PRI".
func (c *Channel) EventsString() string {
	return strconv.Itoa(c.fd) + ": " + c.events.String()
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.UpdateChannel(c)
}

func (c *Channel) setRevents(revents IOEvents) { c.revents = revents }
