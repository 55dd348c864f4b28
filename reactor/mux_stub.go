//go:build !linux

package reactor

import (
	E "github.com/sagernet/sing-reactor/common/exceptions"
	"github.com/sagernet/sing-reactor/socket"
)

func NewMultiplexer() (socket.Multiplexer, error) {
	return nil, E.New("reactor: no multiplexer implementation for this platform")
}
