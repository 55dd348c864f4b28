package socket

import (
	"net/netip"

	"github.com/sagernet/sing-reactor/common"
	E "github.com/sagernet/sing-reactor/common/exceptions"

	"golang.org/x/sys/unix"
)

var (
	_ Socket = (*Listener)(nil)
	_ Socket = (*Conn)(nil)
)

// Listener is a stream socket that accepts inbound connections. It owns
// every Conn it accepts: a connection appears in its client list from the
// moment Accept succeeds until the connection's Close completes, and
// closing the listener closes all still-open clients.
type Listener struct {
	base
	bound   netip.AddrPort
	clients []*Conn
}

func NewListener(bound netip.AddrPort, name string, options ...Option) *Listener {
	listener := &Listener{
		base:  newBase(name, false, false, true),
		bound: bound,
	}
	listener.self = listener
	for _, option := range options {
		option(&listener.base)
	}
	return listener
}

// BoundAddr returns the listen endpoint. After Open it reflects the actual
// bound address, so binding port 0 yields the kernel-assigned port.
func (l *Listener) BoundAddr() netip.AddrPort {
	return l.bound
}

// Open creates the handle, binds it and begins listening. The connected
// event set fires once the socket is accepting.
func (l *Listener) Open() error {
	sa, err := sockaddrFromAddrPort(l.bound)
	if err != nil {
		return err
	}
	if err = l.createHandle(unix.SOCK_STREAM); err != nil {
		return err
	}
	l.logger.Debug("opening socket")
	if err = unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		l.discardHandle()
		return E.Cause(err, "set SO_REUSEADDR")
	}
	if err = unix.Bind(l.fd, sa); err != nil {
		l.discardHandle()
		return E.Cause(err, "bind ", l.bound)
	}
	if err = unix.Listen(l.fd, unix.SOMAXCONN); err != nil {
		l.discardHandle()
		return E.Cause(err, "listen")
	}
	if boundSa, saErr := unix.Getsockname(l.fd); saErr == nil {
		if actual := addrPortFromSockaddr(boundSa); actual.IsValid() {
			l.bound = actual
		}
	}
	l.handleConnect()
	return nil
}

// Accept takes one pending connection, marks it non-blocking, registers it
// with the multiplexer and appends it to the client list.
func (l *Listener) Accept(mux Multiplexer) (*Conn, error) {
	if !l.hasFD {
		return nil, E.Cause(ErrInvalidOperation, "socket is not open")
	}
	nfd, sa, err := unix.Accept(l.fd)
	if err == unix.EAGAIN {
		return nil, ErrWouldBlock
	}
	if err != nil {
		return nil, E.Cause(err, "accept")
	}
	if err = unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, E.Cause(err, "set non-blocking")
	}
	remote := addrPortFromSockaddr(sa)
	conn := newConn(l, nfd, remote)
	if mux != nil {
		if err = conn.RegisterTo(mux); err != nil {
			conn.discardHandle()
			return nil, err
		}
	}
	l.clients = append(l.clients, conn)
	l.logger.Debug("accepted connection from ", remote)
	conn.handleConnect()
	// The accepting side observes the peer through its own connected event
	// set, carrying the new connection as the originating socket.
	l.connectedEvents.Fire(conn)
	return conn, nil
}

// Clients returns a copy of the current client list.
func (l *Listener) Clients() []*Conn {
	return append([]*Conn(nil), l.clients...)
}

func (l *Listener) removeClient(conn *Conn) {
	l.clients = common.Remove(l.clients, conn)
}

// Close closes every still-open accepted connection, then the listener
// handle itself.
func (l *Listener) Close(mux Multiplexer) error {
	for _, conn := range l.Clients() {
		if err := conn.Close(mux); err != nil {
			l.logger.Warn("close client ", conn.Name(), ": ", err)
		}
	}
	return l.base.Close(mux)
}

// Conn is a connection produced by a Listener's Accept. The owner reference
// exists only so Close can remove the connection from the owner's client
// list; the listener does not reach back into the connection.
type Conn struct {
	base
	owner  *Listener
	remote netip.AddrPort
}

func newConn(owner *Listener, fd int, remote netip.AddrPort) *Conn {
	conn := &Conn{
		base:   newBase(owner.name+"/"+remote.String(), true, true, false),
		owner:  owner,
		remote: remote,
	}
	conn.self = conn
	conn.fd = fd
	conn.hasFD = true
	conn.codec = owner.codec
	conn.maxReceive = owner.maxReceive
	return conn
}

func (c *Conn) RemoteAddr() netip.AddrPort {
	return c.remote
}

func (c *Conn) Owner() *Listener {
	return c.owner
}

func (c *Conn) Close(mux Multiplexer) error {
	if c.hasFD {
		c.owner.removeClient(c)
	}
	return c.base.Close(mux)
}
