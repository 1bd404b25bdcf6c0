package raft

import (
	"context"

	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// follower answers peers until no valid call has arrived for a whole
// heartbeat window, then hands over to the candidate role. A call is valid
// when its term is not older than the node's own, whether or not it
// succeeds.
func (n *Node) follower(ctx context.Context, st NodeState) NodeState {
	inbound := n.tp.Inbound()
	deadline := newResolver(n.cfg.Timing.HeartbeatTimeout)
	defer func() { deadline.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return st
		case <-deadline.Done():
			n.logger.Info("no heartbeat from leader, standing for election",
				zap.Int("term", st.CurrentTerm),
				zap.Duration("timeout", n.cfg.Timing.HeartbeatTimeout),
			)
			n.clearLeader()
			st.Role = types.RoleCandidate
			return st
		case in := <-inbound:
			var ev inboundEvent
			st, ev = n.handleInbound(st, in)
			if ev.current() {
				deadline.Stop()
				deadline = newResolver(n.cfg.Timing.HeartbeatTimeout)
			}
		case p := <-n.proposals:
			n.rejectProposal(p)
		}
	}
}
