package raft

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transportmem"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// fastTiming returns timing config for fast tests
func fastTiming() TimingConfig {
	return TimingConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
		ElectionDeadline:  150 * time.Millisecond,
		BackoffMin:        20 * time.Millisecond,
		BackoffMax:        80 * time.Millisecond,
	}
}

type testCluster struct {
	net   *transportmem.Network
	nodes []*Node
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()
	roster := make([]types.PeerConfig, size)
	for i := range roster {
		roster[i] = peerConfig(types.NodeID(fmt.Sprintf("n%d", i+1)), i)
	}

	c := &testCluster{net: transportmem.NewNetwork()}
	for _, p := range roster {
		c.net.Endpoint(p.Name)
	}
	for i, self := range roster {
		peers := make([]types.PeerConfig, 0, size-1)
		for _, p := range roster {
			if p.Name != self.Name {
				peers = append(peers, p)
			}
		}
		n, err := NewNode(Config{
			Self:   self,
			Peers:  peers,
			Timing: fastTiming(),
			Rand:   rand.New(rand.NewSource(int64(i + 1))),
			Logger: zaptest.NewLogger(t),
		}, c.net.Endpoint(self.Name))
		if err != nil {
			t.Fatal(err)
		}
		c.nodes = append(c.nodes, n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, n := range c.nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = n.Run(ctx)
		}()
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitForLeader waits until exactly one of nodes is leader and returns it.
func waitForLeader(t *testing.T, nodes []*Node) *Node {
	t.Helper()
	var leader *Node
	waitFor(t, "a single leader", func() bool {
		leader = nil
		count := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leader = n
				count++
			}
		}
		return count == 1
	})
	return leader
}

func without(nodes []*Node, drop *Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n != drop {
			out = append(out, n)
		}
	}
	return out
}

func propose(t *testing.T, n *Node, key, value string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.Propose(ctx, key, value)
}

func TestCluster_ElectsLeaderAndReplicates(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := waitForLeader(t, c.nodes)

	if err := propose(t, leader, "a", "1"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if v, ok := leader.Get("a"); !ok || v != "1" {
		t.Fatalf("leader should have applied a=1 before Propose returned, got %q %v", v, ok)
	}
	waitFor(t, "followers to apply a=1", func() bool {
		for _, n := range c.nodes {
			if v, ok := n.Get("a"); !ok || v != "1" {
				return false
			}
		}
		return true
	})

	for _, n := range without(c.nodes, leader) {
		st := n.Status()
		if st.Role != types.RoleFollower.String() {
			t.Fatalf("%s: expected follower, got %s", n.ID(), st.Role)
		}
		if st.LeaderHint.LeaderID != leader.ID() {
			t.Fatalf("%s: expected leader hint %s, got %+v", n.ID(), leader.ID(), st.LeaderHint)
		}
		err := propose(t, n, "b", "2")
		var nle *NotLeaderError
		if !errors.As(err, &nle) || nle.Hint.LeaderID != leader.ID() {
			t.Fatalf("%s: expected NotLeaderError pointing at %s, got %v", n.ID(), leader.ID(), err)
		}
	}
}

func TestCluster_LastWriteWinsAcrossNodes(t *testing.T) {
	c := newTestCluster(t, 3)
	leader := waitForLeader(t, c.nodes)

	for _, v := range []string{"1", "2", "3"} {
		if err := propose(t, leader, "k", v); err != nil {
			t.Fatalf("propose k=%s: %v", v, err)
		}
	}
	waitFor(t, "every node to converge on k=3", func() bool {
		for _, n := range c.nodes {
			if v, _ := n.Get("k"); v != "3" {
				return false
			}
			if n.Status().CommitIndex != 2 {
				return false
			}
		}
		return true
	})
}

func TestCluster_LeaderFailover(t *testing.T) {
	c := newTestCluster(t, 3)
	old := waitForLeader(t, c.nodes)
	if err := propose(t, old, "before", "1"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	oldTerm := old.Status().Term

	c.net.Isolate(old.ID(), true)
	rest := without(c.nodes, old)
	leader := waitForLeader(t, rest)
	if term := leader.Status().Term; term <= oldTerm {
		t.Fatalf("new leader term %d should be after %d", term, oldTerm)
	}
	if err := propose(t, leader, "after", "2"); err != nil {
		t.Fatalf("propose on new leader: %v", err)
	}
	// Entries from the old term commit along with the first new one.
	if v, ok := leader.Get("before"); !ok || v != "1" {
		t.Fatal("new leader lost a committed write")
	}

	c.net.Isolate(old.ID(), false)
	waitFor(t, "old leader to step down and catch up", func() bool {
		st := old.Status()
		v, _ := old.Get("after")
		return st.Role == types.RoleFollower.String() && v == "2"
	})
}

func TestCluster_SingleNode(t *testing.T) {
	c := newTestCluster(t, 1)
	leader := waitForLeader(t, c.nodes)
	if err := propose(t, leader, "solo", "yes"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !leader.Has("solo") {
		t.Fatal("single node should commit on append")
	}
}
