// Package socket implements a capability-tagged socket model over raw IPv4
// handles: listening sockets, outbound stream sockets, datagram sockets and
// accepted connections share one polymorphic contract and are driven by a
// readiness multiplexer instead of one goroutine per connection.
package socket

import (
	"github.com/sagernet/sing-reactor/common/eventset"
	E "github.com/sagernet/sing-reactor/common/exceptions"
)

var (
	// ErrInvalidOperation marks usage errors: an operation called on a
	// socket in the wrong state or without the required capability.
	ErrInvalidOperation = E.New("socket: invalid operation")

	// ErrWouldBlock reports a spurious readiness notification; the caller
	// should simply wait for the next one.
	ErrWouldBlock = E.New("socket: operation would block")
)

// DefaultReceiveLength is the receive buffer capacity used for one bounded
// read. Reads larger than this are delivered as partial payloads; no
// reassembly happens at this layer.
const DefaultReceiveLength = 1024

// Event is one readiness notification reported by a Multiplexer.
type Event struct {
	FD    int
	Error bool
}

// Multiplexer is the OS readiness-notification primitive. Handles are
// registered for read readiness only; one Wait call may report any number
// of ready handles.
type Multiplexer interface {
	Register(fd int) error
	Unregister(fd int) error
	Wait(events []Event) (int, error)
	Close() error
}

// Payload is one delivery on the data event set. Raw always holds the bytes
// as read; Text holds the decoded form, or Err a DecodeError when the
// configured codec rejected the bytes.
type Payload struct {
	Source Socket
	Raw    []byte
	Text   string
	Err    error
}

// Socket is the common contract of all socket variants. A socket owns its
// OS handle exclusively; the handle is present if and only if the socket is
// registered with a multiplexer, and it is never registered twice.
type Socket interface {
	Name() string
	FD() (int, bool)
	CanSend() bool
	CanReceive() bool
	CanAccept() bool
	IsConnected() bool

	// Open allocates the handle and performs the variant-specific setup
	// (bind/listen/connect). It fails with ErrInvalidOperation when a
	// handle already exists.
	Open() error

	// Accept performs an OS-level accept and returns the new connection,
	// registered with the given multiplexer. Only accept-capable sockets
	// implement it; everything else fails with ErrInvalidOperation.
	Accept(mux Multiplexer) (*Conn, error)

	// SendRaw writes all bytes, blocking until fully sent.
	SendRaw(data []byte) error
	// Send encodes text with the socket codec and delegates to SendRaw.
	Send(text string) error

	// Receive performs one bounded read. A zero-length result means the
	// peer closed its write side.
	Receive() ([]byte, error)
	// Deliver decodes data and fans it out on the data event set.
	Deliver(data []byte)

	RegisterTo(mux Multiplexer) error
	// Close is idempotent: it unregisters from the multiplexer when one is
	// given, closes the handle and fires the disconnected event set.
	Close(mux Multiplexer) error

	Connected() *eventset.Set[Socket]
	Disconnected() *eventset.Set[Socket]
	Data() *eventset.Set[Payload]
}
