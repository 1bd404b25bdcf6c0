package raft

import (
	"testing"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

func aeRequest(term, prevIndex, prevTerm, commit int, entries ...protocol.Entry) protocol.AppendEntriesRequest {
	return protocol.AppendEntriesRequest{
		LeaderTerm:   term,
		LeaderID:     "leader",
		PrevLogIndex: protocol.NewOptional(prevIndex),
		PrevLogTerm:  protocol.NewOptional(prevTerm),
		Entries:      entries,
		LeaderCommit: protocol.NewOptional(commit),
	}
}

func TestProcessAppendEntries_AppendsStampsAndCommits(t *testing.T) {
	st := stateWithLog(2,
		types.LogEntry{Key: "a", Value: "1", Term: 1},
		types.LogEntry{Key: "b", Value: "2", Term: 2},
	)
	req := aeRequest(3, 1, 2, 2, protocol.Entry{Key: "c", Value: "3"})

	st = ApplyIncomingTerm(st, req.LeaderTerm)
	ok, next := ProcessAppendEntries(st, req)
	if !ok {
		t.Fatal("expected success")
	}
	if next.Log.Len() != 3 {
		t.Fatalf("expected log length 3, got %d", next.Log.Len())
	}
	if term, _ := next.Log.TermAt(2); term != 3 {
		t.Fatalf("expected new entry stamped with term 3, got %d", term)
	}
	if next.CommitIndex != 2 || next.LastApplied != 2 {
		t.Fatalf("expected commit=2 applied=2, got commit=%d applied=%d", next.CommitIndex, next.LastApplied)
	}
	for k, want := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if got, ok := next.Store.Get(k); !ok || got != want {
			t.Fatalf("store[%s]: expected %q, got %q (present=%v)", k, want, got, ok)
		}
	}
}

func TestProcessAppendEntries_PrevIndexBeyondLog(t *testing.T) {
	st := stateWithLog(1,
		types.LogEntry{Key: "a", Value: "1", Term: 1},
		types.LogEntry{Key: "b", Value: "2", Term: 1},
		types.LogEntry{Key: "c", Value: "3", Term: 1},
	)
	req := aeRequest(2, 5, 1, -1, protocol.Entry{Key: "x", Value: "9"})

	next, reply, _ := processMessage(st, req)
	r := reply.(protocol.AppendEntriesReply)
	if r.Success {
		t.Fatal("expected failure")
	}
	if next.Log.Len() != 3 {
		t.Fatalf("log changed: length %d", next.Log.Len())
	}
	if next.CurrentTerm != 2 || r.CurrentTerm != 2 {
		t.Fatalf("term should still be adopted, state=%d reply=%d", next.CurrentTerm, r.CurrentTerm)
	}
}

func TestProcessAppendEntries_StaleLeaderRefused(t *testing.T) {
	st := stateWithLog(4)
	ok, next := ProcessAppendEntries(st, aeRequest(3, -1, -1, -1, protocol.Entry{Key: "a", Value: "1"}))
	if ok {
		t.Fatal("stale leader accepted")
	}
	if next.Log.Len() != 0 {
		t.Fatal("log changed")
	}
}

func TestProcessAppendEntries_PrevTermMismatch(t *testing.T) {
	st := stateWithLog(2, types.LogEntry{Key: "a", Value: "1", Term: 1})
	ok, _ := ProcessAppendEntries(st, aeRequest(2, 0, 2, -1))
	if ok {
		t.Fatal("mismatched prevLogTerm accepted")
	}
}

func TestProcessAppendEntries_TruncatesConflictingSuffix(t *testing.T) {
	st := stateWithLog(2,
		types.LogEntry{Key: "a", Value: "1", Term: 1},
		types.LogEntry{Key: "b", Value: "old", Term: 1},
		types.LogEntry{Key: "c", Value: "old", Term: 1},
	)
	req := aeRequest(3, 0, 1, -1, protocol.Entry{Key: "b", Value: "new", Term: protocol.NewOptional(3)})

	ok, next := ProcessAppendEntries(ApplyIncomingTerm(st, 3), req)
	if !ok {
		t.Fatal("expected success")
	}
	if next.Log.Len() != 2 {
		t.Fatalf("expected conflicting suffix dropped, log length %d", next.Log.Len())
	}
	e, _ := next.Log.Entry(1)
	if e.Value != "new" || e.Term != 3 {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestProcessAppendEntries_StaleReplayKeepsLaterEntries(t *testing.T) {
	st := stateWithLog(2,
		types.LogEntry{Key: "a", Value: "1", Term: 2},
		types.LogEntry{Key: "b", Value: "2", Term: 2},
	)
	req := aeRequest(2, -1, -1, -1, protocol.Entry{Key: "a", Value: "1", Term: protocol.NewOptional(2)})

	ok, next := ProcessAppendEntries(st, req)
	if !ok {
		t.Fatal("expected success")
	}
	if next.Log.Len() != 2 {
		t.Fatalf("replayed prefix shortened the log to %d", next.Log.Len())
	}
}

func TestProcessAppendEntries_HeartbeatKeepsLog(t *testing.T) {
	st := stateWithLog(2,
		types.LogEntry{Key: "a", Value: "1", Term: 2},
		types.LogEntry{Key: "b", Value: "2", Term: 2},
	)
	ok, next := ProcessAppendEntries(st, aeRequest(2, 0, 2, 1))
	if !ok {
		t.Fatal("expected success")
	}
	if next.Log.Len() != 2 {
		t.Fatalf("heartbeat changed the log: length %d", next.Log.Len())
	}
	// Commit follows the leader only as far as the entries it vouched for.
	if next.CommitIndex != 0 {
		t.Fatalf("expected commit index bounded by prevLogIndex 0, got %d", next.CommitIndex)
	}
}

func TestProcessAppendEntries_CommitNeverMovesBackwards(t *testing.T) {
	st := stateWithLog(2,
		types.LogEntry{Key: "a", Value: "1", Term: 2},
		types.LogEntry{Key: "b", Value: "2", Term: 2},
	)
	st.CommitIndex = 1
	st = ApplyCommitted(st)

	ok, next := ProcessAppendEntries(st, aeRequest(2, 1, 2, 0))
	if !ok {
		t.Fatal("expected success")
	}
	if next.CommitIndex != 1 || next.LastApplied != 1 {
		t.Fatalf("commit moved backwards: commit=%d applied=%d", next.CommitIndex, next.LastApplied)
	}
}

func TestApplyCommitted(t *testing.T) {
	st := stateWithLog(1,
		types.LogEntry{Key: "a", Value: "1", Term: 1},
		types.LogEntry{Key: "a", Value: "2", Term: 1},
		types.LogEntry{Key: "b", Value: "3", Term: 1},
	)

	if got := ApplyCommitted(st); got.LastApplied != -1 || got.Store.Len() != 0 {
		t.Fatal("nothing committed, nothing should be applied")
	}

	st.CommitIndex = 1
	st = ApplyCommitted(st)
	if v, _ := st.Store.Get("a"); v != "2" {
		t.Fatalf("expected last write to win, got %q", v)
	}
	if st.Store.Has("b") {
		t.Fatal("uncommitted entry applied")
	}
	if st.LastApplied != 1 {
		t.Fatalf("expected lastApplied=1, got %d", st.LastApplied)
	}

	again := ApplyCommitted(st)
	if again.LastApplied != 1 || !again.Store.Equal(st.Store) {
		t.Fatal("re-applying without a new commit changed state")
	}

	st.CommitIndex = 2
	st = ApplyCommitted(st)
	if v, _ := st.Store.Get("b"); v != "3" {
		t.Fatalf("expected b=3, got %q", v)
	}
}
