package raft

import "github.com/isparth/Distributed-Systems/raftkv/internal/types"

// VotesRequired returns the number of votes, the candidate's own included,
// that form a strict majority of a cluster in which the candidate has peers
// other members.
func VotesRequired(peers int) int {
	return (peers+1)/2 + 1
}

// LeaderCommitIndex returns the highest index the leader may mark committed:
// an entry of the current term stored on a strict majority of the cluster.
// matchIndex holds one entry per peer; the leader itself always counts.
// Entries from earlier terms are only ever committed indirectly, by a later
// current-term entry.
func LeaderCommitIndex(s NodeState, matchIndex map[types.NodeID]int) int {
	required := VotesRequired(len(matchIndex))
	for idx := s.Log.LastIndex(); idx > s.CommitIndex; idx-- {
		term, _ := s.Log.TermAt(idx)
		if term < s.CurrentTerm {
			// Terms never decrease along the log.
			break
		}
		if term != s.CurrentTerm {
			continue
		}
		replicas := 1
		for _, m := range matchIndex {
			if m >= idx {
				replicas++
			}
		}
		if replicas >= required {
			return idx
		}
	}
	return s.CommitIndex
}
