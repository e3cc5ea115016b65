//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the flat-table backend. Each registered channel owns one
// slot of pollfds, and Channel.index records that slot.
type pollPoller struct {
	loop     *EventLoop
	channels map[int]*Channel
	pollfds  []unix.PollFd
}

func newPollPoller(loop *EventLoop) *pollPoller {
	return &pollPoller{
		loop:     loop,
		channels: make(map[int]*Channel),
	}
}

func (p *pollPoller) Poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.Poll(p.pollfds, timeoutMillis(timeout))
	now := time.Now()
	if err != nil {
		return now, err
	}
	if n > 0 {
		p.fillActiveChannels(n, active)
	}
	return now, nil
}

func (p *pollPoller) fillActiveChannels(n int, active *[]*Channel) {
	for i := range p.pollfds {
		if n <= 0 {
			break
		}
		pfd := &p.pollfds[i]
		if pfd.Revents == 0 {
			continue
		}
		n--
		c, ok := p.channels[int(pfd.Fd)]
		if !ok {
			p.loop.fatal("poll fill active", ErrChannelState)
		}
		c.setRevents(pollToEvents(pfd.Revents))
		*active = append(*active, c)
	}
}

func (p *pollPoller) UpdateChannel(c *Channel) {
	if c.index < 0 {
		if _, ok := p.channels[c.fd]; ok {
			p.loop.fatal("poll update channel", ErrChannelState)
		}
		pfd := unix.PollFd{Fd: int32(c.fd), Events: eventsToPoll(c.events)}
		if c.IsNoneEvent() {
			pfd.Fd = ignoredFd(c.fd)
		}
		p.pollfds = append(p.pollfds, pfd)
		c.index = len(p.pollfds) - 1
		p.channels[c.fd] = c
		return
	}

	if p.channels[c.fd] != c || c.index >= len(p.pollfds) {
		p.loop.fatal("poll update channel", ErrChannelState)
	}
	pfd := &p.pollfds[c.index]
	if pfd.Fd != int32(c.fd) && pfd.Fd != ignoredFd(c.fd) {
		p.loop.fatal("poll update channel", ErrChannelState)
	}
	pfd.Events = eventsToPoll(c.events)
	pfd.Revents = 0
	if c.IsNoneEvent() {
		// poll skips negative descriptors
		pfd.Fd = ignoredFd(c.fd)
	} else {
		pfd.Fd = int32(c.fd)
	}
}

func (p *pollPoller) RemoveChannel(c *Channel) {
	if p.channels[c.fd] != c || !c.IsNoneEvent() {
		p.loop.fatal("poll remove channel", ErrChannelState)
	}
	idx := c.index
	if idx < 0 || idx >= len(p.pollfds) {
		p.loop.fatal("poll remove channel", ErrChannelState)
	}
	delete(p.channels, c.fd)

	last := len(p.pollfds) - 1
	if idx != last {
		moved := p.pollfds[last].Fd
		if moved < 0 {
			moved = ignoredFd(int(moved))
		}
		p.pollfds[idx] = p.pollfds[last]
		p.channels[int(moved)].index = idx
	}
	p.pollfds = p.pollfds[:last]
	c.index = indexNew
}

func (p *pollPoller) HasChannel(c *Channel) bool {
	return p.channels[c.fd] == c
}

func (p *pollPoller) Close() error {
	p.channels = nil
	p.pollfds = nil
	return nil
}

// ignoredFd maps fd to and from the negative form poll ignores. Applying it
// twice is the identity.
func ignoredFd(fd int) int32 {
	return int32(-fd - 1)
}

func eventsToPoll(events IOEvents) int16 {
	var v int16
	if events&EventRead != 0 {
		v |= unix.POLLIN
	}
	if events&EventPriority != 0 {
		v |= unix.POLLPRI
	}
	if events&EventWrite != 0 {
		v |= unix.POLLOUT
	}
	return v
}

func pollToEvents(revents int16) IOEvents {
	var events IOEvents
	if revents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.POLLPRI != 0 {
		events |= EventPriority
	}
	if revents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if revents&unix.POLLRDHUP != 0 {
		events |= EventReadHangup
	}
	if revents&unix.POLLERR != 0 {
		events |= EventError
	}
	if revents&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	if revents&unix.POLLNVAL != 0 {
		events |= EventInvalid
	}
	return events
}
