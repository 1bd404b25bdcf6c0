package raft

import (
	"github.com/isparth/Distributed-Systems/raftkv/internal/kvsm"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/storage"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// NodeState is the complete consensus state of one node.
//
// It is a value: Log and Store are immutable, so copying a NodeState and
// changing fields on the copy never affects the original. The role loop
// hands the current value to one role handler at a time and replaces it
// with whatever the handler returns.
//
// CommitIndex and LastApplied are -1 until something has been committed.
// VotedFor is empty when no vote was cast in CurrentTerm.
type NodeState struct {
	CurrentTerm int
	VotedFor    types.NodeID
	Log         storage.Log
	CommitIndex int
	LastApplied int
	Role        types.Role
	Store       kvsm.Store
}

// InitialState is the state every node starts from.
func InitialState() NodeState {
	return NodeState{
		CommitIndex: -1,
		LastApplied: -1,
		Role:        types.RoleFollower,
		Store:       kvsm.New(),
	}
}

// lastLogIndexAndTerm returns -1, -1 for an empty log.
func (s NodeState) lastLogIndexAndTerm() (index, term int) {
	term, ok := s.Log.LastTerm()
	if !ok {
		return -1, -1
	}
	return s.Log.LastIndex(), term
}
