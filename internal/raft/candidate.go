package raft

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// candidate runs one election in the current term. The term was already
// advanced by candidateTimeout; the very first election of a node runs in
// the term it started with.
//
// The election ends with the first of: a majority of votes (leader), a
// reply from every peer without a majority (split vote), an AppendEntries
// from a leader of this term or later, a RequestVote or reply carrying a
// later term, or the election deadline. Only a majority makes the node
// leader and only a recognised leader makes it a follower; everything else
// leads to a backoff.
func (n *Node) candidate(ctx context.Context, st NodeState) NodeState {
	electionTerm := st.CurrentTerm
	self := n.cfg.Self.Name
	logger := n.logger.With(zap.Int("term", electionTerm))

	if st.VotedFor != "" && st.VotedFor != self {
		logger.Info("already voted in this term, backing off", zap.String("voted_for", string(st.VotedFor)))
		st.Role = types.RoleCandidateTimeout
		return st
	}
	st.VotedFor = self
	n.publish(st)

	peers := n.cfg.Peers
	required := VotesRequired(len(peers))
	votes, responses := 1, 0
	logger.Info("starting election", zap.Int("required_votes", required))

	res := newResolver(n.cfg.Timing.ElectionDeadline)
	defer res.Stop()
	if votes >= required {
		res.resolve(reasonRequiredVotes)
	}

	lastIndex, lastTerm := st.lastLogIndexAndTerm()
	req := protocol.RequestVoteRequest{
		CandidateTerm: electionTerm,
		CandidateID:   self,
		LastLogIndex:  protocol.NewOptional(lastIndex),
		LastLogTerm:   protocol.NewOptional(lastTerm),
	}

	ectx, cancel := context.WithCancel(ctx)
	replies := make(chan protocol.RequestVoteReply, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(peer types.PeerConfig) {
			defer wg.Done()
			n.requestVote(ectx, peer, req, replies)
		}(p)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	inbound := n.tp.Inbound()
	for {
		select {
		case <-ctx.Done():
			return st
		case why := <-res.Done():
			return n.endElection(st, why, votes)
		case reply := <-replies:
			responses++
			st = ApplyIncomingTerm(st, reply.CurrentTerm)
			switch {
			case st.CurrentTerm > electionTerm:
				res.resolve(reasonHigherTerm)
			case reply.VoteGranted && reply.CurrentTerm == electionTerm:
				votes++
				logger.Debug("vote received", zap.Int("votes", votes))
			}
			if votes >= required {
				res.resolve(reasonRequiredVotes)
			} else if responses == len(peers) {
				res.resolve(reasonSplitVote)
			}
			n.publish(st)
		case in := <-inbound:
			var ev inboundEvent
			st, ev = n.handleInbound(st, in)
			switch {
			case ev.appendEntries() && ev.msgTerm >= electionTerm:
				res.resolve(reasonRecognisedLeader)
			case ev.requestVote() && ev.msgTerm > electionTerm:
				res.resolve(reasonHigherTerm)
			}
		case p := <-n.proposals:
			n.rejectProposal(p)
		}

		// Whatever settled the election above must win over anything still
		// queued.
		select {
		case why := <-res.Done():
			return n.endElection(st, why, votes)
		default:
		}
	}
}

func (n *Node) endElection(st NodeState, why reason, votes int) NodeState {
	switch why {
	case reasonRequiredVotes:
		st.Role = types.RoleLeader
	case reasonRecognisedLeader:
		st.Role = types.RoleFollower
	default:
		st.Role = types.RoleCandidateTimeout
	}
	n.logger.Info("election finished",
		zap.Int("term", st.CurrentTerm),
		zap.Stringer("reason", why),
		zap.Int("votes", votes),
	)
	return st
}

// requestVote asks one peer for its vote and forwards the reply. Dial and
// send failures simply mean no vote from that peer.
func (n *Node) requestVote(ctx context.Context, peer types.PeerConfig, req protocol.RequestVoteRequest, out chan<- protocol.RequestVoteReply) {
	conn, err := n.tp.Dial(ctx, peer)
	if err != nil {
		n.logger.Debug("dial failed", zap.String("peer", string(peer.Name)), zap.Error(err))
		return
	}
	defer conn.Close()

	if err := conn.Send(ctx, req); err != nil {
		n.logger.Debug("request vote send failed", zap.String("peer", string(peer.Name)), zap.Error(err))
		return
	}
	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			return
		}
		if reply, ok := msg.(protocol.RequestVoteReply); ok {
			select {
			case out <- reply:
			case <-ctx.Done():
			}
			return
		}
	}
}
