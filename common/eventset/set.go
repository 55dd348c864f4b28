// Package eventset provides an ordered set of event subscribers with
// idempotent subscription and in-order fan-out. Sets carry no locking: all
// subscription and dispatch is expected to happen on the reactor goroutine.
package eventset

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"
)

var ErrNotFound = E.New("eventset: handler not found")

// Handler consumes one event. Handlers are compared by interface equality,
// so the same handler value subscribes at most once.
type Handler[T any] interface {
	Handle(event T)
}

type funcHandler[T any] struct {
	fn func(event T)
}

func (h *funcHandler[T]) Handle(event T) {
	h.fn(event)
}

// Func adapts a plain function into a Handler. Each call returns a distinct
// handler identity: keep the returned value if you intend to unsubscribe.
func Func[T any](fn func(event T)) Handler[T] {
	return &funcHandler[T]{fn}
}

// Set is an ordered collection of handlers for one event type.
type Set[T any] struct {
	handlers []Handler[T]
}

func New[T any]() *Set[T] {
	return &Set[T]{}
}

// Subscribe appends the handler unless it is already present and reports
// whether it was newly added.
func (s *Set[T]) Subscribe(handler Handler[T]) bool {
	for _, existing := range s.handlers {
		if existing == handler {
			return false
		}
	}
	s.handlers = append(s.handlers, handler)
	return true
}

// Unsubscribe removes the first matching handler.
func (s *Set[T]) Unsubscribe(handler Handler[T]) error {
	for index, existing := range s.handlers {
		if existing == handler {
			s.handlers = append(s.handlers[:index], s.handlers[index+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Fire invokes every current subscriber in subscription order. Panics from
// subscribers are not recovered here; propagation policy belongs to the
// caller.
func (s *Set[T]) Fire(event T) {
	for _, handler := range s.handlers {
		handler.Handle(event)
	}
}

func (s *Set[T]) Len() int {
	return len(s.handlers)
}
