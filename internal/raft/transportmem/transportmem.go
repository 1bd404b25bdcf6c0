// Package transportmem is an in-process transport.Transport for running
// several nodes inside one process. Every message is encoded and decoded
// through the protocol package on its way, so nodes see exactly what they
// would see on the wire.
package transportmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var ErrUnreachable = errors.New("transportmem: peer unreachable")

const (
	inboundBuffer = 64
	replyBuffer   = 16
)

// Network connects endpoints by node name.
type Network struct {
	mu        sync.RWMutex
	endpoints map[types.NodeID]*Endpoint
	isolated  map[types.NodeID]bool
	connSeq   atomic.Uint64
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[types.NodeID]*Endpoint),
		isolated:  make(map[types.NodeID]bool),
	}
}

// Endpoint returns the endpoint registered under id, creating it on first use.
func (n *Network) Endpoint(id types.NodeID) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.endpoints[id]; ok {
		return e
	}
	e := &Endpoint{
		id:      id,
		network: n,
		inbound: make(chan transport.Inbound, inboundBuffer),
	}
	n.endpoints[id] = e
	return e
}

// Isolate cuts id off from every other endpoint. Dials to or from it fail
// and messages on existing connections are silently lost.
func (n *Network) Isolate(id types.NodeID, isolated bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[id] = isolated
}

func (n *Network) cut(a, b types.NodeID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isolated[a] || n.isolated[b]
}

func (n *Network) lookup(id types.NodeID) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.endpoints[id]
	return e, ok
}

// Endpoint is one node's attachment to the network. It implements
// transport.Transport.
type Endpoint struct {
	id      types.NodeID
	network *Network
	inbound chan transport.Inbound
}

func (e *Endpoint) Inbound() <-chan transport.Inbound {
	return e.inbound
}

func (e *Endpoint) Dial(ctx context.Context, peer types.PeerConfig) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := e.network.lookup(peer.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownPeer, peer.Name)
	}
	if e.network.cut(e.id, peer.Name) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrUnreachable, e.id, peer.Name)
	}
	return &conn{
		id:      fmt.Sprintf("%s->%s#%d", e.id, peer.Name, e.network.connSeq.Add(1)),
		from:    e,
		to:      target,
		replies: make(chan protocol.Message, replyBuffer),
		done:    make(chan struct{}),
	}, nil
}

type conn struct {
	id      string
	from    *Endpoint
	to      *Endpoint
	replies chan protocol.Message
	done    chan struct{}
	once    sync.Once
}

func (c *conn) lost() bool {
	return c.from.network.cut(c.from.id, c.to.id)
}

func (c *conn) Send(ctx context.Context, m protocol.Message) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	msg, err := roundTrip(m)
	if err != nil {
		return err
	}
	if c.lost() {
		return nil
	}

	in := transport.NewInbound(c.id, msg, c.deliverReply)
	select {
	case c.to.inbound <- in:
		return nil
	case <-c.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) deliverReply(m protocol.Message) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	msg, err := roundTrip(m)
	if err != nil {
		return err
	}
	if c.lost() {
		return nil
	}
	select {
	case c.replies <- msg:
		return nil
	case <-c.done:
		return transport.ErrClosed
	}
}

func (c *conn) Recv(ctx context.Context) (protocol.Message, error) {
	select {
	case m := <-c.replies:
		return m, nil
	case <-c.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func roundTrip(m protocol.Message) (protocol.Message, error) {
	data, err := protocol.Encode(m)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}
