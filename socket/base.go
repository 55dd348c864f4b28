package socket

import (
	"github.com/sagernet/sing-reactor/common/eventset"
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/common/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Option adjusts the shared socket configuration at construction time.
type Option func(*base)

// WithEncoding sets the text codec, named by IANA charset identifier.
func WithEncoding(name string) Option {
	return func(s *base) {
		s.codec = NewCodec(name)
	}
}

// WithReceiveLength sets the bounded per-read buffer capacity.
func WithReceiveLength(length int) Option {
	return func(s *base) {
		s.maxReceive = length
	}
}

// base carries the state shared by every socket variant. The capability
// flags are fixed at construction; the handle is present iff hasFD.
type base struct {
	self   Socket
	name   string
	logger *logrus.Entry

	fd    int
	hasFD bool

	canSend    bool
	canReceive bool
	canAccept  bool
	connected  bool

	codec      *Codec
	maxReceive int

	connectedEvents    *eventset.Set[Socket]
	disconnectedEvents *eventset.Set[Socket]
	dataEvents         *eventset.Set[Payload]
}

func newBase(name string, canSend, canReceive, canAccept bool) base {
	return base{
		name:               name,
		logger:             log.NewLogger(name),
		fd:                 -1,
		canSend:            canSend,
		canReceive:         canReceive,
		canAccept:          canAccept,
		codec:              NewCodec(DefaultEncoding),
		maxReceive:         DefaultReceiveLength,
		connectedEvents:    eventset.New[Socket](),
		disconnectedEvents: eventset.New[Socket](),
		dataEvents:         eventset.New[Payload](),
	}
}

func (s *base) Name() string {
	return s.name
}

func (s *base) FD() (int, bool) {
	return s.fd, s.hasFD
}

func (s *base) CanSend() bool {
	return s.canSend
}

func (s *base) CanReceive() bool {
	return s.canReceive
}

func (s *base) CanAccept() bool {
	return s.canAccept
}

func (s *base) IsConnected() bool {
	return s.connected
}

func (s *base) Connected() *eventset.Set[Socket] {
	return s.connectedEvents
}

func (s *base) Disconnected() *eventset.Set[Socket] {
	return s.disconnectedEvents
}

func (s *base) Data() *eventset.Set[Payload] {
	return s.dataEvents
}

func (s *base) Codec() *Codec {
	return s.codec
}

func (s *base) Open() error {
	return E.Cause(ErrInvalidOperation, "open is not supported on this socket")
}

func (s *base) Accept(mux Multiplexer) (*Conn, error) {
	return nil, E.Cause(ErrInvalidOperation, "this socket does not accept connections")
}

// createHandle allocates a new IPv4 handle of the given transport kind.
func (s *base) createHandle(sotype int) error {
	if s.hasFD {
		return E.Cause(ErrInvalidOperation, "socket already exists and must be closed before creating a new one")
	}
	s.logger.Debug("creating socket")
	fd, err := unix.Socket(unix.AF_INET, sotype|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return E.Cause(err, "create socket")
	}
	s.fd = fd
	s.hasFD = true
	return nil
}

// discardHandle releases a handle that never finished opening.
func (s *base) discardHandle() {
	if s.hasFD {
		unix.Close(s.fd)
		s.fd = -1
		s.hasFD = false
	}
}

func (s *base) handleConnect() {
	s.connected = true
	s.logger.Debug("socket connected")
	s.connectedEvents.Fire(s.self)
}

func (s *base) SendRaw(data []byte) error {
	if !s.canSend {
		return E.Cause(ErrInvalidOperation, "socket does not support sending")
	}
	if !s.hasFD {
		return E.Cause(ErrInvalidOperation, "socket is not open")
	}
	s.logger.Debug("sending ", len(data), " bytes")
	return writeAll(s.fd, data)
}

func (s *base) Send(text string) error {
	data, err := s.codec.Encode(text)
	if err != nil {
		return err
	}
	return s.SendRaw(data)
}

func (s *base) Receive() ([]byte, error) {
	if !s.canReceive {
		return nil, E.Cause(ErrInvalidOperation, "socket does not support receiving")
	}
	if !s.hasFD {
		return nil, E.Cause(ErrInvalidOperation, "socket is not open")
	}
	buffer := make([]byte, s.maxReceive)
	for {
		n, err := unix.Read(s.fd, buffer)
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

func (s *base) Deliver(data []byte) {
	text, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("received ", len(data), " undecodable bytes: ", err)
		s.dataEvents.Fire(Payload{Source: s.self, Raw: data, Err: err})
		return
	}
	s.logger.Debug("received ", len(data), " bytes")
	s.dataEvents.Fire(Payload{Source: s.self, Raw: data, Text: text})
}

func (s *base) RegisterTo(mux Multiplexer) error {
	if !s.hasFD {
		return E.Cause(ErrInvalidOperation, "socket cannot be registered as it does not exist")
	}
	return mux.Register(s.fd)
}

func (s *base) Close(mux Multiplexer) error {
	if !s.hasFD {
		s.logger.Debug("close called on an already closed socket")
		return nil
	}
	s.logger.Debug("closing socket")
	if mux != nil {
		if err := mux.Unregister(s.fd); err != nil {
			s.logger.Warn("unregister from multiplexer: ", err)
		}
	}
	err := unix.Close(s.fd)
	s.fd = -1
	s.hasFD = false
	s.connected = false
	s.disconnectedEvents.Fire(s.self)
	return err
}
