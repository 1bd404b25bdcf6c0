// Package transport defines what the consensus engine needs from the network:
// a stream of inbound requests that can be answered on the connection they
// arrived on, and outbound connections to peers.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
)

// Inbound is a request received from a peer.
type Inbound struct {
	// From identifies the connection the request arrived on.
	From  string
	Msg   protocol.Message
	reply func(protocol.Message) error
}

// NewInbound pairs a request with the function that writes the reply back on
// the originating connection.
func NewInbound(from string, msg protocol.Message, reply func(protocol.Message) error) Inbound {
	return Inbound{From: from, Msg: msg, reply: reply}
}

// Reply sends m on the connection the request arrived on.
func (in Inbound) Reply(m protocol.Message) error {
	if in.reply == nil {
		return ErrClosed
	}
	return in.reply(m)
}

// Conn is an outbound connection to one peer. Replies arrive in the order the
// peer sends them.
type Conn interface {
	Send(ctx context.Context, m protocol.Message) error
	// Recv blocks until the next well-formed message arrives, ctx is done or
	// the connection fails. Malformed frames are skipped.
	Recv(ctx context.Context) (protocol.Message, error)
	Close() error
}

// Transport is the interface the raft node uses for all peer communication.
type Transport interface {
	// Inbound delivers requests from every accepted connection. Requests from
	// one connection are delivered in arrival order.
	Inbound() <-chan Inbound
	Dial(ctx context.Context, peer types.PeerConfig) (Conn, error)
}

// --- PeerResolver ---

// PeerResolver maps NodeID to its roster entry.
type PeerResolver struct {
	peers map[types.NodeID]types.PeerConfig
}

func NewPeerResolver(peers ...types.PeerConfig) *PeerResolver {
	m := make(map[types.NodeID]types.PeerConfig, len(peers))
	for _, p := range peers {
		m[p.Name] = p
	}
	return &PeerResolver{peers: m}
}

func (r *PeerResolver) Resolve(id types.NodeID) (types.PeerConfig, error) {
	p, ok := r.peers[id]
	if !ok {
		return types.PeerConfig{}, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return p, nil
}
