package raft

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/kvsm"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var ErrNotLeader = errors.New("not leader")

// NotLeaderError is returned by Propose on any node that is not currently the
// leader. Hint carries the last leader this node heard from, if any.
type NotLeaderError struct {
	Hint types.LeaderHint
}

func (e *NotLeaderError) Error() string {
	if e.Hint.LeaderID == "" {
		return "not leader: leader unknown"
	}
	return fmt.Sprintf("not leader: leader is %s", e.Hint.LeaderID)
}

func (e *NotLeaderError) Unwrap() error { return ErrNotLeader }

const (
	DefaultHeartbeat        = 1000 * time.Millisecond
	DefaultElectionDeadline = 1000 * time.Millisecond
	DefaultBackoffMin       = 150 * time.Millisecond
	DefaultBackoffMax       = 300 * time.Millisecond
)

// TimingConfig holds the timing parameters of elections and heartbeats.
type TimingConfig struct {
	// HeartbeatInterval is how often a leader sends AppendEntries.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a follower waits for a valid call before
	// standing for election.
	HeartbeatTimeout time.Duration
	// ElectionDeadline bounds a single election attempt.
	ElectionDeadline time.Duration
	// BackoffMin and BackoffMax bound the random pause after a failed election.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultTimingConfig derives every timing from the heartbeat interval.
func DefaultTimingConfig(heartbeat time.Duration) TimingConfig {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return TimingConfig{
		HeartbeatInterval: heartbeat,
		HeartbeatTimeout:  2 * heartbeat,
		ElectionDeadline:  DefaultElectionDeadline,
		BackoffMin:        DefaultBackoffMin,
		BackoffMax:        DefaultBackoffMax,
	}
}

// withDefaults fills unset fields from DefaultTimingConfig.
func (t TimingConfig) withDefaults(heartbeat time.Duration) TimingConfig {
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = heartbeat
	}
	d := DefaultTimingConfig(t.HeartbeatInterval)
	t.HeartbeatInterval = d.HeartbeatInterval
	if t.HeartbeatTimeout <= 0 {
		t.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if t.ElectionDeadline <= 0 {
		t.ElectionDeadline = d.ElectionDeadline
	}
	if t.BackoffMin <= 0 && t.BackoffMax <= 0 {
		t.BackoffMin, t.BackoffMax = d.BackoffMin, d.BackoffMax
	}
	return t
}

// Config holds configuration for a Raft node.
type Config struct {
	Self   types.PeerConfig
	Peers  []types.PeerConfig // other nodes (not including self)
	Timing TimingConfig
	Rand   *rand.Rand // optional: for deterministic randomness in tests
	Logger *zap.Logger
}

// Node is a Raft node. Its consensus state is owned by the goroutine running
// Run; everything else only ever sees published snapshots of it.
type Node struct {
	cfg       Config
	tp        transport.Transport
	peers     *transport.PeerResolver
	logger    *zap.Logger
	rand      *rand.Rand
	proposals chan proposal

	mu         sync.RWMutex
	published  NodeState
	leaderHint types.LeaderHint
}

type proposal struct {
	entry  types.Entry
	result chan error
}

// NewNode creates a new Raft node.
func NewNode(cfg Config, tp transport.Transport) (*Node, error) {
	if cfg.Self.Name == "" {
		return nil, errors.New("raft: node name is required")
	}
	if tp == nil {
		return nil, errors.New("raft: transport is required")
	}
	for _, p := range cfg.Peers {
		if p.Name == cfg.Self.Name {
			return nil, fmt.Errorf("raft: %s is listed as its own peer", p.Name)
		}
	}
	cfg.Timing = cfg.Timing.withDefaults(cfg.Self.Heartbeat)
	if cfg.Timing.BackoffMin <= 0 || cfg.Timing.BackoffMax < cfg.Timing.BackoffMin {
		return nil, fmt.Errorf("raft: invalid backoff range [%s, %s]", cfg.Timing.BackoffMin, cfg.Timing.BackoffMax)
	}

	r := cfg.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Node{
		cfg:       cfg,
		tp:        tp,
		peers:     transport.NewPeerResolver(append([]types.PeerConfig{cfg.Self}, cfg.Peers...)...),
		logger:    logger.With(zap.String("node", string(cfg.Self.Name))),
		rand:      r,
		proposals: make(chan proposal),
		published: InitialState(),
	}, nil
}

// Run drives the node through its roles until ctx is done. It returns
// ctx.Err().
func (n *Node) Run(ctx context.Context) error {
	return n.run(ctx, InitialState())
}

func (n *Node) run(ctx context.Context, st NodeState) error {
	n.publish(st)
	n.logger.Info("raft node starting",
		zap.Int("peers", len(n.cfg.Peers)),
		zap.Duration("heartbeat", n.cfg.Timing.HeartbeatInterval),
	)
	for {
		if err := ctx.Err(); err != nil {
			n.logger.Info("raft node stopped", zap.Int("term", st.CurrentTerm), zap.Stringer("role", st.Role))
			return err
		}
		prev := st.Role
		switch st.Role {
		case types.RoleFollower:
			st = n.follower(ctx, st)
		case types.RoleCandidate:
			st = n.candidate(ctx, st)
		case types.RoleCandidateTimeout:
			st = n.candidateTimeout(ctx, st)
		case types.RoleLeader:
			st = n.leader(ctx, st)
		default:
			n.logger.Panic("unknown role", zap.Int("role", int(st.Role)))
		}
		n.publish(st)
		if st.Role != prev {
			n.logger.Info("role transition",
				zap.Stringer("from", prev),
				zap.Stringer("to", st.Role),
				zap.Int("term", st.CurrentTerm),
			)
		}
	}
}

func (n *Node) publish(st NodeState) {
	n.mu.Lock()
	n.published = st
	n.mu.Unlock()
}

func (n *Node) snapshot() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.published
}

func (n *Node) setLeader(id types.NodeID) {
	hint := types.LeaderHint{LeaderID: id}
	if p, err := n.peers.Resolve(id); err == nil {
		hint.LeaderAddr = "http://" + p.APIAddr()
	}
	n.mu.Lock()
	n.leaderHint = hint
	n.mu.Unlock()
}

func (n *Node) clearLeader() {
	n.mu.Lock()
	n.leaderHint = types.LeaderHint{}
	n.mu.Unlock()
}

// ID returns the node's name.
func (n *Node) ID() types.NodeID { return n.cfg.Self.Name }

// IsLeader reports whether the last published role is leader.
func (n *Node) IsLeader() bool {
	return n.snapshot().Role == types.RoleLeader
}

func (n *Node) LeaderHint() types.LeaderHint {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaderHint
}

// Store returns the committed key-value state as last published.
func (n *Node) Store() kvsm.Store {
	return n.snapshot().Store
}

func (n *Node) Get(key string) (string, bool) {
	return n.Store().Get(key)
}

func (n *Node) Has(key string) bool {
	return n.Store().Has(key)
}

func (n *Node) Status() types.NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	st := n.published
	return types.NodeStatus{
		ID:          n.cfg.Self.Name,
		Role:        st.Role.String(),
		Term:        st.CurrentTerm,
		VotedFor:    st.VotedFor,
		CommitIndex: st.CommitIndex,
		LastApplied: st.LastApplied,
		LogLength:   st.Log.Len(),
		LeaderHint:  n.leaderHint,
	}
}

// Propose submits a write. Only the leader accepts it; it returns once the
// entry is committed and applied locally, or with an error wrapping
// ErrNotLeader when this node is not, or stops being, the leader.
func (n *Node) Propose(ctx context.Context, key, value string) error {
	p := proposal{
		entry:  types.Entry{Key: key, Value: value},
		result: make(chan error, 1),
	}
	select {
	case n.proposals <- p:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Node) rejectProposal(p proposal) {
	p.result <- &NotLeaderError{Hint: n.LeaderHint()}
}

func (n *Node) randomBackoff() time.Duration {
	lo, hi := n.cfg.Timing.BackoffMin, n.cfg.Timing.BackoffMax
	return lo + time.Duration(n.rand.Int63n(int64(hi-lo)+1))
}
