package socket

import (
	"net/netip"

	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

var _ Socket = (*Outbound)(nil)

// Outbound is a stream socket that connects to a remote endpoint. A zero
// bound address means the kernel picks the local endpoint.
type Outbound struct {
	base
	remote netip.AddrPort
	bound  netip.AddrPort
}

func NewOutbound(remote netip.AddrPort, bound netip.AddrPort, name string, options ...Option) *Outbound {
	outbound := &Outbound{
		base:   newBase(name, true, true, false),
		remote: remote,
		bound:  bound,
	}
	outbound.self = outbound
	for _, option := range options {
		option(&outbound.base)
	}
	return outbound
}

func (o *Outbound) RemoteAddr() netip.AddrPort {
	return o.remote
}

func (o *Outbound) BoundAddr() netip.AddrPort {
	return o.bound
}

// Open creates the handle, optionally binds it and connects to the remote
// endpoint. A connect failure is returned and the connected event set does
// not fire; it is not retried here.
func (o *Outbound) Open() error {
	remoteSa, err := sockaddrFromAddrPort(o.remote)
	if err != nil {
		return err
	}
	if err = o.createHandle(unix.SOCK_STREAM); err != nil {
		return err
	}
	o.logger.Debug("opening socket")
	if o.bound.IsValid() {
		boundSa, saErr := sockaddrFromAddrPort(o.bound)
		if saErr != nil {
			o.discardHandle()
			return saErr
		}
		if err = unix.Bind(o.fd, boundSa); err != nil {
			o.discardHandle()
			return E.Cause(err, "bind ", o.bound)
		}
	}
	if err = unix.Connect(o.fd, remoteSa); err != nil {
		o.discardHandle()
		return E.Cause(err, "connect ", o.remote)
	}
	o.handleConnect()
	return nil
}
