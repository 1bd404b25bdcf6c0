package storage

import (
	"fmt"
	"slices"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// Log is an in-memory, 0-indexed raft log. A Log value is never modified in
// place: every operation that changes the log returns a new Log with its own
// backing array, so a NodeState holding a Log can be shared freely.
type Log struct {
	entries []types.LogEntry
}

// NewLog returns a log holding a copy of entries.
func NewLog(entries ...types.LogEntry) Log {
	return Log{entries: slices.Clone(entries)}
}

// Len returns the number of entries.
func (l Log) Len() int {
	return len(l.entries)
}

// LastIndex returns the index of the last entry, or -1 for an empty log.
func (l Log) LastIndex() int {
	return len(l.entries) - 1
}

// LastTerm returns the term of the last entry. ok is false for an empty log.
func (l Log) LastTerm() (term int, ok bool) {
	if len(l.entries) == 0 {
		return 0, false
	}
	return l.entries[len(l.entries)-1].Term, true
}

// Entry returns the entry at index.
func (l Log) Entry(index int) (types.LogEntry, bool) {
	if index < 0 || index >= len(l.entries) {
		return types.LogEntry{}, false
	}
	return l.entries[index], true
}

// TermAt returns the term of the entry at index.
func (l Log) TermAt(index int) (int, bool) {
	e, ok := l.Entry(index)
	return e.Term, ok
}

// ReadRange returns a copy of entries lo..hi inclusive.
func (l Log) ReadRange(lo, hi int) ([]types.LogEntry, error) {
	if lo < 0 || hi >= len(l.entries) || lo > hi {
		return nil, fmt.Errorf("invalid range [%d, %d], log length %d", lo, hi, len(l.entries))
	}
	return slices.Clone(l.entries[lo : hi+1]), nil
}

// ReadFrom returns a copy of every entry from lo to the end of the log.
// It returns nil when lo is past the end.
func (l Log) ReadFrom(lo int) []types.LogEntry {
	if lo < 0 {
		lo = 0
	}
	if lo >= len(l.entries) {
		return nil
	}
	return slices.Clone(l.entries[lo:])
}

// Entries returns a copy of the whole log.
func (l Log) Entries() []types.LogEntry {
	return slices.Clone(l.entries)
}

// Append returns a new log with entries added at the end.
func (l Log) Append(entries ...types.LogEntry) Log {
	return Log{entries: slices.Concat(l.entries, entries)}
}

// Merge writes entries starting at index at. Entries identical to the ones
// already stored are kept; at the first difference the rest of the log is
// dropped and replaced by the remaining entries. An empty entries slice
// leaves the log untouched.
func (l Log) Merge(at int, entries []types.LogEntry) (Log, error) {
	if at < 0 || at > len(l.entries) {
		return l, fmt.Errorf("merge point %d out of range [0, %d]", at, len(l.entries))
	}
	for i, e := range entries {
		idx := at + i
		if idx >= len(l.entries) {
			return Log{entries: slices.Concat(l.entries, entries[i:])}, nil
		}
		if l.entries[idx] != e {
			return Log{entries: slices.Concat(l.entries[:idx], entries[i:])}, nil
		}
	}
	return l, nil
}
