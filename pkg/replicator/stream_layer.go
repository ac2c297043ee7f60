package replicator

import (
	"net"
	"time"

	"github.com/hashicorp/raft"
)

// streamLayer adapts a net.Listener, typically one half of a cmux split
// shared with the HTTP control API on the same bind address, into the
// raft.StreamLayer interface raft.NewNetworkTransport expects.
//
// Accept/Close/Addr come straight from the wrapped listener; Dial opens
// a plain TCP connection to the peer, since cmux only needs to matched
// on the accepting side, not the dialing side.
type streamLayer struct {
	net.Listener
	advertise string
}

func newStreamLayer(ln net.Listener, advertise string) *streamLayer {
	return &streamLayer{Listener: ln, advertise: advertise}
}

// Dial implements raft.StreamLayer.
func (s *streamLayer) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", string(address), timeout)
}

// Addr implements raft.StreamLayer, returning the advertised address
// rather than the listener's own (which may be a cmux-internal pipe).
func (s *streamLayer) Addr() net.Addr {
	return raftAddr(s.advertise)
}

type raftAddr string

func (a raftAddr) Network() string { return "tcp" }
func (a raftAddr) String() string  { return string(a) }
