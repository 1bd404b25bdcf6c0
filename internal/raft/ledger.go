package raft

import (
	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
)

// ApplyIncomingTerm adopts messageTerm when it is newer than the node's term.
// Adopting a term always clears the vote, since the vote belonged to the old
// term. It runs before the content of every inbound request and every reply
// the node observes, whether or not the call itself succeeds.
func ApplyIncomingTerm(s NodeState, messageTerm int) NodeState {
	if messageTerm <= s.CurrentTerm {
		return s
	}
	s.CurrentTerm = messageTerm
	s.VotedFor = ""
	return s
}

// DecideVote answers a RequestVote. The caller must have run
// ApplyIncomingTerm with the candidate's term first. A granted vote is
// recorded in the returned state; a refusal returns s unchanged.
func DecideVote(s NodeState, req protocol.RequestVoteRequest) (bool, NodeState) {
	if req.CandidateTerm < s.CurrentTerm {
		return false, s
	}
	if s.VotedFor != "" && s.VotedFor != req.CandidateID {
		return false, s
	}
	if !candidateLogUpToDate(s, req) {
		return false, s
	}
	s.VotedFor = req.CandidateID
	return true, s
}

// candidateLogUpToDate compares the last entries of both logs: a later last
// term wins, and with equal last terms the longer log wins.
func candidateLogUpToDate(s NodeState, req protocol.RequestVoteRequest) bool {
	lastIndex, lastTerm := s.lastLogIndexAndTerm()
	if lastIndex < 0 {
		return true
	}
	candTerm := protocol.OptionalValue(req.LastLogTerm)
	if lastTerm < candTerm {
		return true
	}
	return lastTerm == candTerm && lastIndex <= protocol.OptionalValue(req.LastLogIndex)
}
