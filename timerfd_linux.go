package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// minTimerfdDelay keeps the kernel timer from being armed with zero, which
// would disarm it.
const minTimerfdDelay = 100 * time.Microsecond

func createTimerfd() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("reactor: timerfd_create: %w", err)
	}
	return fd, nil
}

// armTimerfd arms fd as a one-shot timer firing at expiration.
func armTimerfd(fd int, expiration time.Time) error {
	d := time.Until(expiration)
	if d < minTimerfdDelay {
		d = minTimerfdDelay
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("reactor: timerfd_settime: %w", err)
	}
	return nil
}

// drainTimerfd reads the expiry counter, returning the number of expirations
// since the last read. EAGAIN yields zero.
func drainTimerfd(fd int) (uint64, error) {
	var buf [8]byte
	n, err := readFD(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: timerfd read: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("reactor: timerfd read: %d bytes instead of %d", n, len(buf))
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}
