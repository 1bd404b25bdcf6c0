package kvsm

import (
	"testing"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

func TestKVSM_ApplyGetHas(t *testing.T) {
	s := New().Apply(
		types.LogEntry{Key: "k1", Value: "v1", Term: 1},
		types.LogEntry{Key: "k2", Value: "v2", Term: 1},
	)

	v, ok := s.Get("k1")
	if !ok || v != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}
	if !s.Has("k2") {
		t.Fatal("expected k2 to be present")
	}
	if s.Has("missing") {
		t.Fatal("missing key reported present")
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("missing key returned ok")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", s.Len())
	}
}

func TestKVSM_LastWriteWins(t *testing.T) {
	s := New().Apply(
		types.LogEntry{Key: "a", Value: "1", Term: 1},
		types.LogEntry{Key: "a", Value: "2", Term: 2},
	)
	v, _ := s.Get("a")
	if v != "2" {
		t.Fatalf("expected last write 2, got %q", v)
	}
}

func TestKVSM_ApplyIsCopyOnWrite(t *testing.T) {
	before := New().Apply(types.LogEntry{Key: "a", Value: "1"})
	after := before.Apply(types.LogEntry{Key: "a", Value: "2"}, types.LogEntry{Key: "b", Value: "3"})

	if v, _ := before.Get("a"); v != "1" {
		t.Fatalf("receiver modified: a=%q", v)
	}
	if before.Has("b") {
		t.Fatal("receiver gained key b")
	}
	if v, _ := after.Get("a"); v != "2" {
		t.Fatalf("expected a=2 after apply, got %q", v)
	}

	all := after.All()
	all["a"] = "tampered"
	if v, _ := after.Get("a"); v != "2" {
		t.Fatal("All returned internal map")
	}
}

func TestKVSM_MGetKeysEqual(t *testing.T) {
	s := New().Apply(
		types.LogEntry{Key: "b", Value: "2"},
		types.LogEntry{Key: "a", Value: "1"},
	)
	got := s.MGet([]string{"a", "zz"})
	if len(got) != 1 || got["a"] != "1" {
		t.Fatalf("unexpected mget result: %v", got)
	}
	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected sorted keys [a b], got %v", keys)
	}
	if !s.Equal(New().Apply(types.LogEntry{Key: "a", Value: "1"}, types.LogEntry{Key: "b", Value: "2"})) {
		t.Fatal("expected equal stores")
	}
	if s.Equal(New()) {
		t.Fatal("expected stores to differ")
	}
}
