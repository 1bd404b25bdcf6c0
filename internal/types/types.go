package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// NodeID identifies a node in the cluster.
type NodeID string

// Role is the consensus role a node is currently playing.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleCandidateTimeout
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleCandidateTimeout:
		return "candidate_timeout"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Entry is a key-value pair as submitted by a client, before a leader stamps it.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// LogEntry is a single replicated write. Term is the term of the leader that
// accepted the write.
type LogEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Term  int    `json:"term"`
}

// PeerConfig is one entry of the static cluster roster.
type PeerConfig struct {
	Name      NodeID        `json:"name"`
	Host      string        `json:"host"`
	APIPort   int           `json:"apiPort"`
	RaftPort  int           `json:"raftPort"`
	Heartbeat time.Duration `json:"heartbeat"`
}

// RaftAddr is the host:port the node's raft transport listens on.
func (p PeerConfig) RaftAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.RaftPort))
}

// APIAddr is the host:port of the node's store API.
func (p PeerConfig) APIAddr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.APIPort))
}

func (p PeerConfig) String() string {
	return fmt.Sprintf("%s(raft=%s api=%s)", p.Name, p.RaftAddr(), p.APIAddr())
}

// LeaderHint tells clients where the leader is.
type LeaderHint struct {
	LeaderID   NodeID `json:"leader_id,omitempty"`
	LeaderAddr string `json:"leader_addr,omitempty"`
}

// NodeStatus holds status info about a Raft node. Indexes are -1 when unset.
type NodeStatus struct {
	ID          NodeID     `json:"id"`
	Role        string     `json:"role"`
	Term        int        `json:"term"`
	VotedFor    NodeID     `json:"voted_for,omitempty"`
	CommitIndex int        `json:"commit_index"`
	LastApplied int        `json:"last_applied"`
	LogLength   int        `json:"log_length"`
	LeaderHint  LeaderHint `json:"leader_hint"`
}
