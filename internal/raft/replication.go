package raft

import (
	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// ProcessAppendEntries applies an AppendEntries call to s. The caller must
// have run ApplyIncomingTerm with the leader's term first.
//
// The call is refused when the leader is stale or when the local log does not
// hold an entry at PrevLogIndex with PrevLogTerm. Otherwise the entries are
// written right after PrevLogIndex, replacing any conflicting suffix, and the
// commit index follows the leader's, bounded by the last entry the leader
// just vouched for. A call with no entries is a heartbeat and leaves the log
// alone.
func ProcessAppendEntries(s NodeState, req protocol.AppendEntriesRequest) (bool, NodeState) {
	if req.LeaderTerm < s.CurrentTerm {
		return false, s
	}
	if req.PrevLogIndex != nil {
		term, ok := s.Log.TermAt(*req.PrevLogIndex)
		if !ok || term != protocol.OptionalValue(req.PrevLogTerm) {
			return false, s
		}
	}

	at := protocol.OptionalValue(req.PrevLogIndex) + 1
	entries := stampEntries(req.Entries, req.LeaderTerm)
	log, err := s.Log.Merge(at, entries)
	if err != nil {
		return false, s
	}

	next := s
	next.Log = log
	if req.LeaderCommit != nil && *req.LeaderCommit > s.CommitIndex {
		lastNew := at + len(entries) - 1
		next.CommitIndex = max(s.CommitIndex, min(*req.LeaderCommit, lastNew))
	}
	if next.CommitIndex != s.CommitIndex {
		next = ApplyCommitted(next)
	}
	return true, next
}

// stampEntries converts wire entries to log entries. Entries that arrive
// without a term get the leader's term.
func stampEntries(entries []protocol.Entry, leaderTerm int) []types.LogEntry {
	out := make([]types.LogEntry, len(entries))
	for i, e := range entries {
		term := leaderTerm
		if e.Term != nil {
			term = *e.Term
		}
		out[i] = types.LogEntry{Key: e.Key, Value: e.Value, Term: term}
	}
	return out
}

// wireEntries is the leader-side inverse of stampEntries. The term always
// travels so that entries from earlier terms keep it on the follower.
func wireEntries(entries []types.LogEntry) []protocol.Entry {
	out := make([]protocol.Entry, len(entries))
	for i, e := range entries {
		out[i] = protocol.Entry{Key: e.Key, Value: e.Value, Term: protocol.NewOptional(e.Term)}
	}
	return out
}
