package raft

import (
	"testing"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

func TestVotesRequired(t *testing.T) {
	cases := map[int]int{
		0: 1, // single node
		1: 2,
		2: 2,
		3: 3,
		4: 3,
		5: 4,
		7: 5,
	}
	for peers, want := range cases {
		if got := VotesRequired(peers); got != want {
			t.Errorf("VotesRequired(%d): expected %d, got %d", peers, want, got)
		}
	}
}

func TestLeaderCommitIndex(t *testing.T) {
	st := stateWithLog(3,
		types.LogEntry{Key: "a", Value: "1", Term: 2},
		types.LogEntry{Key: "b", Value: "2", Term: 3},
		types.LogEntry{Key: "c", Value: "3", Term: 3},
	)

	// Only the leader has anything.
	if got := LeaderCommitIndex(st, map[types.NodeID]int{"n2": -1, "n3": -1}); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
	// One peer has everything: majority of three.
	if got := LeaderCommitIndex(st, map[types.NodeID]int{"n2": 2, "n3": -1}); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	// Majority only on the earlier-term entry: not committable directly.
	if got := LeaderCommitIndex(st, map[types.NodeID]int{"n2": 0, "n3": 0}); got != -1 {
		t.Fatalf("expected previous-term entry to stay uncommitted, got %d", got)
	}
	// Four peers need two of them.
	five := map[types.NodeID]int{"n2": 1, "n3": 2, "n4": -1, "n5": -1}
	if got := LeaderCommitIndex(st, five); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	// Single node commits its own entries.
	if got := LeaderCommitIndex(st, map[types.NodeID]int{}); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
