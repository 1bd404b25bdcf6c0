package distributedkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/isparth/Distributed-Systems/raftkv/internal/kvsm"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var ErrEmptyKey = errors.New("empty key")

// RaftNodeIface is the subset of raft.Node that DistributedKV needs.
type RaftNodeIface interface {
	Propose(ctx context.Context, key, value string) error
	IsLeader() bool
	LeaderHint() types.LeaderHint
	Status() types.NodeStatus
	Store() kvsm.Store
}

// Config configures the DistributedKV layer.
type Config struct {
	// ProposeTimeout bounds a write whose context has no deadline of its own.
	ProposeTimeout time.Duration
}

const defaultProposeTimeout = 5 * time.Second

// DistributedKV wraps a raft node into a single API for the HTTP layer.
// Reads come from the node's committed store and never touch consensus.
type DistributedKV struct {
	node RaftNodeIface
	cfg  Config
}

// New creates a new DistributedKV.
func New(node RaftNodeIface, cfg Config) *DistributedKV {
	if cfg.ProposeTimeout <= 0 {
		cfg.ProposeTimeout = defaultProposeTimeout
	}
	return &DistributedKV{node: node, cfg: cfg}
}

func (d *DistributedKV) IsLeader() bool {
	return d.node.IsLeader()
}

func (d *DistributedKV) LeaderHint() types.LeaderHint {
	return d.node.LeaderHint()
}

func (d *DistributedKV) Status() types.NodeStatus {
	return d.node.Status()
}

// --- Reads ---

func (d *DistributedKV) Get(key string) (string, bool) {
	return d.node.Store().Get(key)
}

func (d *DistributedKV) Has(key string) bool {
	return d.node.Store().Has(key)
}

// MGet returns the values of the keys that exist.
func (d *DistributedKV) MGet(keys []string) map[string]string {
	return d.node.Store().MGet(keys)
}

func (d *DistributedKV) All() map[string]string {
	return d.node.Store().All()
}

func (d *DistributedKV) Keys() []string {
	return d.node.Store().Keys()
}

// --- Writes (through Raft) ---

// Put replicates key=value and returns once it is committed. On a node that
// is not the leader the error wraps raft.ErrNotLeader.
func (d *DistributedKV) Put(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProposeTimeout)
		defer cancel()
	}
	return d.node.Propose(ctx, key, value)
}

// MPut writes entries one after another and stops at the first failure.
// Entries written before the failure stay written.
func (d *DistributedKV) MPut(ctx context.Context, entries []types.Entry) error {
	for _, e := range entries {
		if e.Key == "" {
			return ErrEmptyKey
		}
	}
	for i, e := range entries {
		if err := d.Put(ctx, e.Key, e.Value); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, e.Key, err)
		}
	}
	return nil
}
