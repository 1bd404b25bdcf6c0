package raft

import (
	"context"

	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// candidateTimeout waits out a random backoff after a failed election. An
// AppendEntries from a current leader during the wait makes the node a
// follower; otherwise it moves to the next term and stands again.
func (n *Node) candidateTimeout(ctx context.Context, st NodeState) NodeState {
	backoff := n.randomBackoff()
	n.logger.Debug("election backoff", zap.Int("term", st.CurrentTerm), zap.Duration("backoff", backoff))

	res := newResolver(backoff)
	defer res.Stop()

	inbound := n.tp.Inbound()
	for {
		select {
		case <-ctx.Done():
			return st
		case why := <-res.Done():
			return n.endBackoff(st, why)
		case in := <-inbound:
			var ev inboundEvent
			st, ev = n.handleInbound(st, in)
			if ev.appendEntries() && ev.current() {
				res.resolve(reasonRecognisedLeader)
			}
		case p := <-n.proposals:
			n.rejectProposal(p)
		}

		select {
		case why := <-res.Done():
			return n.endBackoff(st, why)
		default:
		}
	}
}

func (n *Node) endBackoff(st NodeState, why reason) NodeState {
	if why == reasonRecognisedLeader {
		st.Role = types.RoleFollower
		return st
	}
	st.CurrentTerm++
	st.VotedFor = ""
	st.Role = types.RoleCandidate
	return st
}
