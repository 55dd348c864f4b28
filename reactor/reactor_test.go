//go:build linux

package reactor_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/sagernet/sing-reactor/common/eventset"
	"github.com/sagernet/sing-reactor/reactor"
	"github.com/sagernet/sing-reactor/socket"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func loopback() netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0)
}

func TestRegisterRequiresOpenSocket(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	listener := socket.NewListener(loopback(), "test-listener")
	require.ErrorIs(t, r.RegisterSocket(listener), socket.ErrInvalidOperation)

	require.NoError(t, listener.Open())
	require.NoError(t, r.RegisterSocket(listener))

	fd, _ := listener.FD()
	owner, conn, found := r.ResolveOwner(fd)
	require.True(t, found)
	require.Nil(t, conn)
	require.Same(t, socket.Socket(listener), owner)
}

func TestStreamPingAndPeerClose(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	listener := socket.NewListener(loopback(), "test-listener")
	var accepted []*socket.Conn
	listener.Connected().Subscribe(eventset.Func(func(event socket.Socket) {
		if conn, isConn := event.(*socket.Conn); isConn {
			accepted = append(accepted, conn)
		}
	}))
	require.NoError(t, listener.Open())
	require.NoError(t, r.RegisterSocket(listener))

	outbound := socket.NewOutbound(listener.BoundAddr(), netip.AddrPort{}, "test-outbound")
	var outboundConnected int
	outbound.Connected().Subscribe(eventset.Func(func(event socket.Socket) {
		outboundConnected++
	}))
	require.NoError(t, outbound.Open())
	require.NoError(t, r.RegisterSocket(outbound))
	require.Equal(t, 1, outboundConnected)

	// The pending connection makes the listener handle ready.
	require.NoError(t, r.RunOnce())
	clients := listener.Clients()
	require.Len(t, clients, 1)
	conn := clients[0]
	require.True(t, conn.IsConnected())
	require.Equal(t, []*socket.Conn{conn}, accepted)

	connFD, _ := conn.FD()
	owner, resolvedConn, found := r.ResolveOwner(connFD)
	require.True(t, found)
	require.Same(t, socket.Socket(listener), owner)
	require.Same(t, conn, resolvedConn)

	var received []string
	conn.Data().Subscribe(eventset.Func(func(event socket.Payload) {
		require.NoError(t, event.Err)
		received = append(received, event.Text)
	}))

	require.NoError(t, outbound.Send("ping"))
	require.NoError(t, r.RunOnce())
	require.Equal(t, []string{"ping"}, received)

	// Abrupt close on the outbound side: the accepted connection observes a
	// zero-length read, fires disconnected exactly once and leaves the
	// listener's client list.
	var disconnected int
	conn.Disconnected().Subscribe(eventset.Func(func(event socket.Socket) {
		disconnected++
	}))
	require.NoError(t, r.CloseSocket(outbound))
	require.NoError(t, r.RunOnce())
	require.Equal(t, 1, disconnected)
	require.Empty(t, listener.Clients())
	_, _, found = r.ResolveOwner(connFD)
	require.False(t, found)
}

func TestConnReadFailureDropsPermanently(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	listener := socket.NewListener(loopback(), "test-listener")
	require.NoError(t, listener.Open())
	require.NoError(t, r.RegisterSocket(listener))

	outbound := socket.NewOutbound(listener.BoundAddr(), netip.AddrPort{}, "test-outbound")
	require.NoError(t, outbound.Open())

	require.NoError(t, r.RunOnce())
	clients := listener.Clients()
	require.Len(t, clients, 1)
	conn := clients[0]

	var disconnected, reconnected int
	conn.Disconnected().Subscribe(eventset.Func(func(event socket.Socket) {
		disconnected++
	}))
	conn.Connected().Subscribe(eventset.Func(func(event socket.Socket) {
		reconnected++
	}))

	// Reset the connection instead of closing it gracefully: SO_LINGER with
	// a zero timeout makes close send RST, which surfaces as a read error on
	// the accepted side.
	outboundFD, _ := outbound.FD()
	require.NoError(t, unix.SetsockoptLinger(outboundFD, unix.SOL_SOCKET, unix.SO_LINGER,
		&unix.Linger{Onoff: 1, Linger: 0}))
	require.NoError(t, outbound.Close(nil))

	require.NoError(t, r.RunOnce())
	require.Equal(t, 1, disconnected)
	require.Zero(t, reconnected)
	require.Empty(t, listener.Clients())
	_, opened := conn.FD()
	require.False(t, opened)
}

func TestDatagramDelivery(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	receiver, err := socket.NewDatagram(netip.AddrPort{}, loopback(), "test-receiver")
	require.NoError(t, err)
	require.NoError(t, receiver.Open())
	require.NoError(t, r.RegisterSocket(receiver))

	sender, err := socket.NewDatagram(receiver.BoundAddr(), netip.AddrPort{}, "test-sender")
	require.NoError(t, err)
	require.NoError(t, sender.Open())
	defer sender.Close(nil)

	var received []string
	receiver.Data().Subscribe(eventset.Func(func(event socket.Payload) {
		require.NoError(t, event.Err)
		received = append(received, event.Text)
	}))

	require.NoError(t, sender.Send("hello"))
	require.NoError(t, r.RunOnce())
	require.Equal(t, []string{"hello"}, received)
}

func TestOwnedSocketReadFailureRecycles(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	// Grab a datagram port and release it so nothing is listening there:
	// sending to it produces an ICMP port-unreachable, which a connected
	// datagram socket observes as a read error.
	probe, err := socket.NewDatagram(netip.AddrPort{}, loopback(), "test-probe")
	require.NoError(t, err)
	require.NoError(t, probe.Open())
	target := probe.BoundAddr()
	require.NoError(t, probe.Close(nil))

	datagram, err := socket.NewDatagram(target, loopback(), "test-datagram")
	require.NoError(t, err)
	require.NoError(t, datagram.Open())
	require.NoError(t, r.RegisterSocket(datagram))

	var disconnected, connected int
	datagram.Disconnected().Subscribe(eventset.Func(func(event socket.Socket) {
		disconnected++
	}))
	datagram.Connected().Subscribe(eventset.Func(func(event socket.Socket) {
		connected++
	}))

	require.NoError(t, datagram.Send("ping"))
	require.NoError(t, r.RunOnce())

	// Closed, recreated and reopened: disconnected then connected, with a
	// live handle tracked again afterwards.
	require.Equal(t, 1, disconnected)
	require.Equal(t, 1, connected)
	fd, opened := datagram.FD()
	require.True(t, opened)
	_, _, found := r.ResolveOwner(fd)
	require.True(t, found)
}

func TestUnresolvedHandleIsIgnored(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	// A handle registered with the multiplexer behind the reactor's back is
	// a bookkeeping bug: the event is logged and skipped, never fatal.
	var pipeFds [2]int
	require.NoError(t, unix.Pipe(pipeFds[:]))
	defer unix.Close(pipeFds[0])
	defer unix.Close(pipeFds[1])
	require.NoError(t, r.Multiplexer().Register(pipeFds[0]))

	_, err = unix.Write(pipeFds[1], []byte("x"))
	require.NoError(t, err)
	require.NoError(t, r.RunOnce())
}

func TestSubmitAndCancellation(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)
	defer r.Shutdown()

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		done <- r.Run(ctx)
	}()

	ran := make(chan struct{})
	r.Submit(func() {
		close(ran)
	})
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("submitted task did not run")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not observe cancellation")
	}
}

func TestShutdownClosesEverything(t *testing.T) {
	t.Parallel()
	r, err := reactor.New(t.Name())
	require.NoError(t, err)

	listener := socket.NewListener(loopback(), "test-listener")
	require.NoError(t, listener.Open())
	require.NoError(t, r.RegisterSocket(listener))

	outbound := socket.NewOutbound(listener.BoundAddr(), netip.AddrPort{}, "test-outbound")
	require.NoError(t, outbound.Open())
	require.NoError(t, r.RegisterSocket(outbound))

	require.NoError(t, r.RunOnce())
	require.Len(t, listener.Clients(), 1)
	conn := listener.Clients()[0]

	require.NoError(t, r.Shutdown())
	require.Empty(t, r.Sockets())
	for _, s := range []socket.Socket{listener, outbound, conn} {
		_, opened := s.FD()
		require.False(t, opened, s.Name())
	}
}
