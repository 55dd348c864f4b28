package socket

import (
	"net/netip"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

var _ Socket = (*Datagram)(nil)

// Datagram is a connectionless socket. It can send iff a remote endpoint
// is configured and receive iff a local endpoint is bound; at least one of
// the two must be present.
type Datagram struct {
	base
	remote netip.AddrPort
	bound  netip.AddrPort
}

func NewDatagram(remote netip.AddrPort, bound netip.AddrPort, name string, options ...Option) (*Datagram, error) {
	if !remote.IsValid() && !bound.IsValid() {
		return nil, E.New("socket: the local or remote address must be specified")
	}
	datagram := &Datagram{
		base:   newBase(name, remote.IsValid(), bound.IsValid(), false),
		remote: remote,
		bound:  bound,
	}
	datagram.self = datagram
	for _, option := range options {
		option(&datagram.base)
	}
	return datagram, nil
}

func (d *Datagram) RemoteAddr() netip.AddrPort {
	return d.remote
}

func (d *Datagram) BoundAddr() netip.AddrPort {
	return d.bound
}

// Open creates the datagram handle, binds it when a local endpoint is
// configured and fixes the default destination when a remote one is.
func (d *Datagram) Open() error {
	if err := d.createHandle(unix.SOCK_DGRAM); err != nil {
		return err
	}
	d.logger.Debug("opening socket")
	if d.bound.IsValid() {
		boundSa, err := sockaddrFromAddrPort(d.bound)
		if err != nil {
			d.discardHandle()
			return err
		}
		if err = unix.SetsockoptInt(d.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			d.discardHandle()
			return E.Cause(err, "set SO_REUSEADDR")
		}
		if err = unix.Bind(d.fd, boundSa); err != nil {
			d.discardHandle()
			return E.Cause(err, "bind ", d.bound)
		}
		if actualSa, err := unix.Getsockname(d.fd); err == nil {
			if actual := addrPortFromSockaddr(actualSa); actual.IsValid() {
				d.bound = actual
			}
		}
	}
	if d.remote.IsValid() {
		remoteSa, err := sockaddrFromAddrPort(d.remote)
		if err != nil {
			d.discardHandle()
			return err
		}
		if err = unix.Connect(d.fd, remoteSa); err != nil {
			d.discardHandle()
			return E.Cause(err, "connect ", d.remote)
		}
	}
	d.handleConnect()
	return nil
}

// Receive reads one datagram, truncated to the receive length.
func (d *Datagram) Receive() ([]byte, error) {
	if !d.canReceive {
		return nil, E.Cause(ErrInvalidOperation, "socket does not support receiving")
	}
	if !d.hasFD {
		return nil, E.Cause(ErrInvalidOperation, "socket is not open")
	}
	buffer := make([]byte, d.maxReceive)
	for {
		n, _, err := unix.Recvfrom(d.fd, buffer, 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil, ErrWouldBlock
		}
		if err != nil {
			return nil, err
		}
		return buffer[:n], nil
	}
}
