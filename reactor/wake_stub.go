//go:build !linux

package reactor

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"
)

func newWakeFD() (int, error) {
	return -1, E.New("reactor: no wake channel implementation for this platform")
}

func signalWake(fd int) error {
	return E.New("reactor: no wake channel implementation for this platform")
}

func drainWake(fd int) {}

func closeWakeFD(fd int) error {
	return nil
}
