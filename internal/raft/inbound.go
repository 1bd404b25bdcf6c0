package raft

import (
	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transport"
)

// processMessage runs one inbound request through term adoption and then the
// vote ledger or the replication engine, and builds the reply. ok is false
// for messages that are not requests; those get no reply.
func processMessage(s NodeState, msg protocol.Message) (next NodeState, reply protocol.Message, ok bool) {
	switch m := msg.(type) {
	case protocol.RequestVoteRequest:
		s = ApplyIncomingTerm(s, m.CandidateTerm)
		var granted bool
		granted, s = DecideVote(s, m)
		return s, protocol.RequestVoteReply{CurrentTerm: s.CurrentTerm, VoteGranted: granted}, true
	case protocol.AppendEntriesRequest:
		s = ApplyIncomingTerm(s, m.LeaderTerm)
		var success bool
		success, s = ProcessAppendEntries(s, m)
		return s, protocol.AppendEntriesReply{CurrentTerm: s.CurrentTerm, Success: success}, true
	default:
		return s, nil, false
	}
}

// inboundEvent summarises a processed request for the role handlers.
type inboundEvent struct {
	handled  bool
	kind     protocol.Kind
	prevTerm int // term held before the request was seen
	msgTerm  int
	accepted bool // vote granted or entries accepted
}

func (e inboundEvent) appendEntries() bool {
	return e.handled && e.kind == protocol.KindAppendEntriesRequest
}

func (e inboundEvent) requestVote() bool {
	return e.handled && e.kind == protocol.KindRequestVoteRequest
}

// current reports whether the sender's term was at least the node's own.
func (e inboundEvent) current() bool {
	return e.handled && e.msgTerm >= e.prevTerm
}

// handleInbound processes in, answers it and publishes the resulting state.
func (n *Node) handleInbound(st NodeState, in transport.Inbound) (NodeState, inboundEvent) {
	ev := inboundEvent{kind: in.Msg.Kind(), prevTerm: st.CurrentTerm}
	next, reply, ok := processMessage(st, in.Msg)
	if !ok {
		n.logger.Debug("dropping unexpected inbound message",
			zap.String("from", in.From),
			zap.Stringer("type", ev.kind),
		)
		return st, ev
	}
	ev.handled = true

	switch m := in.Msg.(type) {
	case protocol.RequestVoteRequest:
		ev.msgTerm = m.CandidateTerm
		ev.accepted = reply.(protocol.RequestVoteReply).VoteGranted
		if ev.accepted {
			n.logger.Info("vote granted",
				zap.String("candidate", string(m.CandidateID)),
				zap.Int("term", next.CurrentTerm),
			)
		}
	case protocol.AppendEntriesRequest:
		ev.msgTerm = m.LeaderTerm
		ev.accepted = reply.(protocol.AppendEntriesReply).Success
		if ev.accepted {
			n.setLeader(m.LeaderID)
			if len(m.Entries) > 0 || next.CommitIndex != st.CommitIndex {
				n.logger.Debug("append entries accepted",
					zap.String("leader", string(m.LeaderID)),
					zap.Int("entries", len(m.Entries)),
					zap.Int("commit_index", next.CommitIndex),
				)
			}
		}
	}
	if next.CurrentTerm > st.CurrentTerm {
		n.logger.Info("adopted newer term", zap.Int("from", st.CurrentTerm), zap.Int("to", next.CurrentTerm))
	}

	if err := in.Reply(reply); err != nil {
		n.logger.Debug("reply failed", zap.String("from", in.From), zap.Error(err))
	}
	n.publish(next)
	return next, ev
}
