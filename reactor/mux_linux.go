//go:build linux

package reactor

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/socket"

	"golang.org/x/sys/unix"
)

// epollMultiplexer implements socket.Multiplexer over epoll(7),
// level-triggered, read readiness only.
type epollMultiplexer struct {
	epfd int
}

// NewMultiplexer returns the platform readiness multiplexer.
func NewMultiplexer() (socket.Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, E.Cause(err, "epoll create")
	}
	return &epollMultiplexer{epfd: epfd}, nil
}

func (m *epollMultiplexer) Register(fd int) error {
	event := &unix.EpollEvent{
		Fd:     int32(fd),
		Events: unix.EPOLLIN,
	}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, event); err != nil {
		return E.Cause(err, "epoll ctl add")
	}
	return nil
}

func (m *epollMultiplexer) Unregister(fd int) error {
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		return E.Cause(err, "epoll ctl del")
	}
	return nil
}

func (m *epollMultiplexer) Wait(events []socket.Event) (int, error) {
	rawEvents := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(m.epfd, rawEvents, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, E.Cause(err, "epoll wait")
	}
	for i := 0; i < n; i++ {
		events[i] = socket.Event{
			FD:    int(rawEvents[i].Fd),
			Error: rawEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		}
	}
	return n, nil
}

func (m *epollMultiplexer) Close() error {
	return unix.Close(m.epfd)
}
