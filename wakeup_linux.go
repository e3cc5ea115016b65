package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// createWakeFd creates the eventfd used to interrupt a blocked poll.
func createWakeFd() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("reactor: eventfd: %w", err)
	}
	return fd, nil
}

// signalWakeFd increments the eventfd counter. A saturated counter (EAGAIN)
// already guarantees a pending wakeup.
func signalWakeFd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	n, err := writeFD(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("reactor: eventfd write: %d bytes instead of %d", n, len(buf))
	}
	return nil
}

// drainWakeFd resets the eventfd counter.
func drainWakeFd(fd int) error {
	var buf [8]byte
	n, err := readFD(fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("reactor: eventfd read: %d bytes instead of %d", n, len(buf))
	}
	return nil
}
