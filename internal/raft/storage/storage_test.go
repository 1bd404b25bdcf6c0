package storage

import (
	"testing"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

func testEntries() []types.LogEntry {
	return []types.LogEntry{
		{Key: "a", Value: "1", Term: 1},
		{Key: "b", Value: "2", Term: 1},
		{Key: "c", Value: "3", Term: 2},
	}
}

func TestLog_EmptyLog(t *testing.T) {
	l := NewLog()
	if l.Len() != 0 || l.LastIndex() != -1 {
		t.Fatalf("expected empty log, got len=%d last=%d", l.Len(), l.LastIndex())
	}
	if _, ok := l.LastTerm(); ok {
		t.Fatal("empty log should have no last term")
	}
	if _, ok := l.TermAt(0); ok {
		t.Fatal("empty log should have no entry at 0")
	}
	if got := l.ReadFrom(0); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestLog_AppendReadRangeTermAt(t *testing.T) {
	l := NewLog(testEntries()...)

	if l.LastIndex() != 2 {
		t.Fatalf("expected last index 2, got %d", l.LastIndex())
	}
	term, ok := l.LastTerm()
	if !ok || term != 2 {
		t.Fatalf("expected last term 2, got %d ok=%v", term, ok)
	}
	term, ok = l.TermAt(1)
	if !ok || term != 1 {
		t.Fatalf("expected term 1 at index 1, got %d ok=%v", term, ok)
	}

	got, err := l.ReadRange(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Key != "b" || got[1].Key != "c" {
		t.Fatalf("entries mismatch: %+v", got)
	}

	// Returned slice should be a copy
	got[0].Key = "modified"
	orig, _ := l.Entry(1)
	if orig.Key != "b" {
		t.Fatal("ReadRange returned internal slice reference")
	}

	if _, err := l.ReadRange(2, 5); err == nil {
		t.Fatal("expected error for out of range read")
	}
}

func TestLog_AppendDoesNotAliasReceiver(t *testing.T) {
	base := NewLog(testEntries()...)
	a := base.Append(types.LogEntry{Key: "x", Term: 3})
	b := base.Append(types.LogEntry{Key: "y", Term: 3})

	if base.Len() != 3 {
		t.Fatalf("base changed: len=%d", base.Len())
	}
	ea, _ := a.Entry(3)
	eb, _ := b.Entry(3)
	if ea.Key != "x" || eb.Key != "y" {
		t.Fatalf("appends share storage: a=%+v b=%+v", ea, eb)
	}
}

func TestLog_MergeKeepsIdenticalPrefix(t *testing.T) {
	l := NewLog(testEntries()...)

	// A stale replay of entries already present must not shorten the log.
	merged, err := l.Merge(0, testEntries()[:2])
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", merged.Len())
	}
}

func TestLog_MergeTruncatesAtFirstConflict(t *testing.T) {
	l := NewLog(testEntries()...)

	merged, err := l.Merge(1, []types.LogEntry{{Key: "z", Value: "9", Term: 3}})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", merged.Len())
	}
	e, _ := merged.Entry(1)
	if e.Key != "z" || e.Term != 3 {
		t.Fatalf("unexpected entry at 1: %+v", e)
	}
	if l.Len() != 3 {
		t.Fatal("merge modified the receiver")
	}
}

func TestLog_MergeAppendsPastEnd(t *testing.T) {
	l := NewLog(testEntries()...)
	merged, err := l.Merge(3, []types.LogEntry{{Key: "d", Value: "4", Term: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", merged.Len())
	}

	if _, err := l.Merge(5, nil); err == nil {
		t.Fatal("expected error for merge point past the end")
	}
}
