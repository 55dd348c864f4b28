//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// The wake channel is an eventfd registered with the multiplexer like any
// socket handle; writing to it interrupts a blocked Wait so the reactor can
// run submitted tasks or notice cancellation. Any non-zero counter value
// wakes the loop, so the token bytes need no particular order.
var wakeToken = []byte{1, 0, 0, 0, 0, 0, 0, 0}

func newWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
}

func signalWake(fd int) error {
	for {
		_, err := unix.Write(fd, wakeToken)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			// Counter saturated: the loop is already due to wake.
			return nil
		}
		return err
	}
}

func drainWake(fd int) {
	var buffer [8]byte
	unix.Read(fd, buffer[:])
}

func closeWakeFD(fd int) error {
	return unix.Close(fd)
}
