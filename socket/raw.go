package socket

import (
	"net/netip"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

func sockaddrFromAddrPort(addr netip.AddrPort) (*unix.SockaddrInet4, error) {
	if !addr.Addr().Is4() && !addr.Addr().Is4In6() {
		return nil, E.New("socket: only IPv4 addresses are supported: ", addr)
	}
	sa := &unix.SockaddrInet4{Port: int(addr.Port())}
	addr4 := addr.Addr().Unmap().As4()
	copy(sa.Addr[:], addr4[:])
	return sa, nil
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	if sa4, isInet4 := sa.(*unix.SockaddrInet4); isInet4 {
		return netip.AddrPortFrom(netip.AddrFrom4(sa4.Addr), uint16(sa4.Port))
	}
	return netip.AddrPort{}
}

// writeAll writes every byte of data, waiting for writability when the
// handle is non-blocking.
func writeAll(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, pollErr := unix.Poll(pollFds, -1); pollErr != nil && pollErr != unix.EINTR {
				return E.Cause(pollErr, "wait for writability")
			}
			continue
		}
		if err != nil {
			return E.Cause(err, "write")
		}
		data = data[n:]
	}
	return nil
}
