package raft

// ApplyCommitted folds every committed but not yet applied entry into the
// store and moves LastApplied up to CommitIndex. Calling it again without a
// new commit is a no-op.
func ApplyCommitted(s NodeState) NodeState {
	if s.CommitIndex < 0 || s.LastApplied >= s.CommitIndex {
		return s
	}
	entries, err := s.Log.ReadRange(s.LastApplied+1, s.CommitIndex)
	if err != nil {
		return s
	}
	s.Store = s.Store.Apply(entries...)
	s.LastApplied = s.CommitIndex
	return s
}
