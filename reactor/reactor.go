// Package reactor runs the single-threaded readiness loop: it owns the
// multiplexer and every registered top-level socket, resolves ready handles
// back to their owning sockets and dispatches accept or data handling with
// the matching failure-recovery policy.
package reactor

import (
	"context"
	"errors"
	"sync"

	"github.com/sagernet/sing-reactor/common"
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/common/log"
	"github.com/sagernet/sing-reactor/socket"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
)

const eventBufferSize = 128

// entry resolves one registered handle. conn is non-nil when the handle
// belongs to an accepted connection; owner is then its listener.
type entry struct {
	owner socket.Socket
	conn  *socket.Conn
}

// Reactor multiplexes readiness notifications across all registered
// sockets. All socket state is owned by the goroutine driving RunOnce/Run;
// only Submit is safe to call from other goroutines.
type Reactor struct {
	logger  *logrus.Entry
	mux     socket.Multiplexer
	sockets []socket.Socket
	handles map[int]entry
	wakeFD  int

	taskAccess sync.Mutex
	tasks      *queue.Queue
}

// New creates a reactor with its multiplexer and wake channel. The name is
// only used to tag diagnostics and may be empty.
func New(name string) (*Reactor, error) {
	mux, err := NewMultiplexer()
	if err != nil {
		return nil, err
	}
	wakeFD, err := newWakeFD()
	if err != nil {
		mux.Close()
		return nil, E.Cause(err, "create wake channel")
	}
	if err = mux.Register(wakeFD); err != nil {
		closeWakeFD(wakeFD)
		mux.Close()
		return nil, err
	}
	loggerName := "reactor"
	if name != "" {
		loggerName = "reactor." + name
	}
	return &Reactor{
		logger:  log.NewLogger(loggerName),
		mux:     mux,
		handles: make(map[int]entry),
		wakeFD:  wakeFD,
		tasks:   queue.New(),
	}, nil
}

// Multiplexer exposes the owned multiplexer for direct socket operations.
func (r *Reactor) Multiplexer() socket.Multiplexer {
	return r.mux
}

// RegisterSocket adds an opened top-level socket to the managed set and
// registers its handle for read readiness. The socket must be opened first.
func (r *Reactor) RegisterSocket(s socket.Socket) error {
	fd, opened := s.FD()
	if !opened {
		return E.Cause(socket.ErrInvalidOperation, "socket must be opened before it can be registered")
	}
	if _, tracked := r.handles[fd]; tracked {
		return E.Cause(socket.ErrInvalidOperation, "handle is already registered")
	}
	if err := s.RegisterTo(r.mux); err != nil {
		return err
	}
	if !r.contains(s) {
		r.sockets = append(r.sockets, s)
	}
	r.handles[fd] = entry{owner: s}
	r.logger.Debug("registered socket ", s.Name())
	return nil
}

// CloseSocket closes a managed socket, unregisters its handles and removes
// it from the managed set.
func (r *Reactor) CloseSocket(s socket.Socket) error {
	err := r.drop(s)
	r.sockets = common.Filter(r.sockets, func(it socket.Socket) bool {
		return it != s
	})
	return err
}

// ResolveOwner maps a ready handle to its owning top-level socket. conn is
// non-nil when the handle belongs to an accepted connection of that owner.
func (r *Reactor) ResolveOwner(fd int) (owner socket.Socket, conn *socket.Conn, found bool) {
	ent, found := r.handles[fd]
	return ent.owner, ent.conn, found
}

// Sockets returns a copy of the managed top-level socket list.
func (r *Reactor) Sockets() []socket.Socket {
	return append([]socket.Socket(nil), r.sockets...)
}

// RunOnce blocks until at least one handle is ready and dispatches every
// reported event in order. Unresolved handles indicate a bookkeeping bug
// and are logged and skipped.
func (r *Reactor) RunOnce() error {
	events := make([]socket.Event, eventBufferSize)
	n, err := r.mux.Wait(events)
	if err != nil {
		return err
	}
	for _, event := range events[:n] {
		if event.FD == r.wakeFD {
			drainWake(r.wakeFD)
			r.runTasks()
			continue
		}
		ent, found := r.handles[event.FD]
		if !found {
			r.logger.Warn("unable to locate a socket to associate with event, handle ", event.FD)
			continue
		}
		switch {
		case ent.conn != nil:
			r.handleData(ent.conn, true)
		case ent.owner.CanAccept():
			r.handleAccept(ent.owner)
		default:
			r.handleData(ent.owner, false)
		}
	}
	return nil
}

// Run drives RunOnce until the context is done. Cancellation is delivered
// through the wake channel, so a blocked Wait returns promptly.
func (r *Reactor) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			signalWake(r.wakeFD)
		case <-stop:
		}
	}()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.RunOnce(); err != nil {
			return err
		}
	}
}

// Submit schedules a task on the reactor goroutine and wakes the loop. It
// is the only operation safe to call from other goroutines.
func (r *Reactor) Submit(task func()) {
	r.taskAccess.Lock()
	r.tasks.Add(task)
	r.taskAccess.Unlock()
	if err := signalWake(r.wakeFD); err != nil {
		r.logger.Warn("wake reactor: ", err)
	}
}

// Shutdown closes every managed socket and its accepted connections, then
// the wake channel and the multiplexer.
func (r *Reactor) Shutdown() error {
	r.logger.Debug("shutting down")
	for _, s := range r.Sockets() {
		if err := r.CloseSocket(s); err != nil {
			r.logger.Warn("close ", s.Name(), ": ", err)
		}
	}
	closeWakeFD(r.wakeFD)
	return r.mux.Close()
}

func (r *Reactor) contains(s socket.Socket) bool {
	return common.Any(r.sockets, func(it socket.Socket) bool {
		return it == s
	})
}

func (r *Reactor) untrack(s socket.Socket) {
	if fd, opened := s.FD(); opened {
		delete(r.handles, fd)
	}
}

// drop closes a socket permanently: handles are untracked (including a
// listener's accepted connections) before the socket closes them.
func (r *Reactor) drop(s socket.Socket) error {
	if listener, isListener := s.(*socket.Listener); isListener {
		for _, conn := range listener.Clients() {
			r.untrack(conn)
		}
	}
	r.untrack(s)
	return s.Close(r.mux)
}

// recycle applies the self-healing policy for owned top-level sockets:
// close, recreate and reopen. Reopen failures are not retried here; callers
// watch the connected/disconnected events to notice repeated failure.
func (r *Reactor) recycle(s socket.Socket) {
	if err := r.drop(s); err != nil {
		r.logger.Warn("close ", s.Name(), ": ", err)
	}
	if err := s.Open(); err != nil {
		r.logger.Warn("reopen ", s.Name(), ": ", err)
		return
	}
	if err := s.RegisterTo(r.mux); err != nil {
		r.logger.Warn("re-register ", s.Name(), ": ", err)
		return
	}
	fd, _ := s.FD()
	r.handles[fd] = entry{owner: s}
	r.logger.Debug("reopened socket ", s.Name())
}

func (r *Reactor) handleAccept(listener socket.Socket) {
	conn, err := listener.Accept(r.mux)
	if err != nil {
		if errors.Is(err, socket.ErrWouldBlock) {
			return
		}
		r.logger.Warn("accept on ", listener.Name(), ": ", err)
		r.recycle(listener)
		return
	}
	fd, _ := conn.FD()
	r.handles[fd] = entry{owner: listener, conn: conn}
}

// handleData performs one bounded read on the ready entity and applies the
// recovery policy: accepted connections are dropped on failure, owned
// top-level sockets are recycled; a zero-length read closes either kind.
func (r *Reactor) handleData(s socket.Socket, isConn bool) {
	data, err := s.Receive()
	if err != nil {
		if errors.Is(err, socket.ErrWouldBlock) {
			return
		}
		r.logger.Warn("read on ", s.Name(), ": ", err)
		if isConn {
			if dropErr := r.drop(s); dropErr != nil {
				r.logger.Warn("close ", s.Name(), ": ", dropErr)
			}
		} else {
			r.recycle(s)
		}
		return
	}
	if len(data) == 0 {
		r.logger.Debug("remote closed ", s.Name())
		if dropErr := r.drop(s); dropErr != nil {
			r.logger.Warn("close ", s.Name(), ": ", dropErr)
		}
		return
	}
	s.Deliver(data)
}

func (r *Reactor) runTasks() {
	for {
		r.taskAccess.Lock()
		if r.tasks.Length() == 0 {
			r.taskAccess.Unlock()
			return
		}
		task := r.tasks.Remove().(func())
		r.taskAccess.Unlock()
		task()
	}
}
