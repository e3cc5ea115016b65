//go:build linux

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Channel.index values used by the epoll backend. A channel tagged
// indexDeleted is still known to the poller but not to the kernel, so
// enabling interest again is an ADD rather than a MOD.
const (
	indexAdded   = 1
	indexDeleted = 2
)

const initialEventListSize = 16

// epollPoller is the kernel-set backend.
type epollPoller struct {
	loop     *EventLoop
	channels map[int]*Channel
	// ctl issues epoll_ctl, replaced in tests to observe operations
	ctl    func(epfd, op, fd int, event *unix.EpollEvent) error
	events []unix.EpollEvent
	epfd   int
}

func newEpollPoller(loop *EventLoop) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollPoller{
		loop:     loop,
		channels: make(map[int]*Channel),
		ctl:      unix.EpollCtl,
		events:   make([]unix.EpollEvent, initialEventListSize),
		epfd:     epfd,
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active *[]*Channel) (time.Time, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis(timeout))
	now := time.Now()
	if err != nil {
		return now, err
	}
	if n > 0 {
		p.fillActiveChannels(n, active)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	}
	return now, nil
}

func (p *epollPoller) fillActiveChannels(n int, active *[]*Channel) {
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		c, ok := p.channels[int(ev.Fd)]
		if !ok || c.index != indexAdded {
			p.loop.fatal("epoll fill active", ErrChannelState)
		}
		c.setRevents(epollToEvents(ev.Events))
		*active = append(*active, c)
	}
}

func (p *epollPoller) UpdateChannel(c *Channel) {
	switch c.index {
	case indexNew, indexDeleted:
		if c.index == indexNew {
			if _, ok := p.channels[c.fd]; ok {
				p.loop.fatal("epoll update channel", ErrChannelState)
			}
			p.channels[c.fd] = c
		} else if p.channels[c.fd] != c {
			p.loop.fatal("epoll update channel", ErrChannelState)
		}
		if c.IsNoneEvent() {
			// nothing for the kernel to watch yet
			c.index = indexDeleted
			return
		}
		c.index = indexAdded
		p.update(unix.EPOLL_CTL_ADD, c)

	case indexAdded:
		if p.channels[c.fd] != c {
			p.loop.fatal("epoll update channel", ErrChannelState)
		}
		if c.IsNoneEvent() {
			p.update(unix.EPOLL_CTL_DEL, c)
			c.index = indexDeleted
			return
		}
		p.update(unix.EPOLL_CTL_MOD, c)

	default:
		p.loop.fatal("epoll update channel", ErrChannelState)
	}
}

func (p *epollPoller) RemoveChannel(c *Channel) {
	if p.channels[c.fd] != c || !c.IsNoneEvent() {
		p.loop.fatal("epoll remove channel", ErrChannelState)
	}
	if c.index != indexAdded && c.index != indexDeleted {
		p.loop.fatal("epoll remove channel", ErrChannelState)
	}
	delete(p.channels, c.fd)
	if c.index == indexAdded {
		p.update(unix.EPOLL_CTL_DEL, c)
	}
	c.index = indexNew
}

func (p *epollPoller) HasChannel(c *Channel) bool {
	return p.channels[c.fd] == c
}

func (p *epollPoller) Close() error {
	p.channels = nil
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// update issues one epoll_ctl. DEL failures are logged, anything else means
// the registration table no longer matches the kernel.
func (p *epollPoller) update(op int, c *Channel) {
	ev := unix.EpollEvent{Events: eventsToEpoll(c.events), Fd: int32(c.fd)}
	if err := p.ctl(p.epfd, op, c.fd, &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			p.loop.logger.Err().
				Uint64("loop", p.loop.id).
				Int("fd", c.fd).
				Str("op", epollOpString(op)).
				Err(err).
				Log("epoll ctl failed")
			return
		}
		p.loop.fatal("epoll ctl "+epollOpString(op), fmt.Errorf("%w: fd %d: %w", ErrChannelState, c.fd, err))
	}
	p.loop.logger.Trace().
		Uint64("loop", p.loop.id).
		Int("fd", c.fd).
		Str("op", epollOpString(op)).
		Stringer("events", c.events).
		Log("epoll ctl")
}

func epollOpString(op int) string {
	switch op {
	case unix.EPOLL_CTL_ADD:
		return "ADD"
	case unix.EPOLL_CTL_MOD:
		return "MOD"
	case unix.EPOLL_CTL_DEL:
		return "DEL"
	default:
		return "Unknown"
	}
}

func eventsToEpoll(events IOEvents) uint32 {
	var v uint32
	if events&EventRead != 0 {
		v |= unix.EPOLLIN
	}
	if events&EventPriority != 0 {
		v |= unix.EPOLLPRI
	}
	if events&EventWrite != 0 {
		v |= unix.EPOLLOUT
	}
	return v
}

func epollToEvents(revents uint32) IOEvents {
	var events IOEvents
	if revents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if revents&unix.EPOLLPRI != 0 {
		events |= EventPriority
	}
	if revents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if revents&unix.EPOLLRDHUP != 0 {
		events |= EventReadHangup
	}
	if revents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if revents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
