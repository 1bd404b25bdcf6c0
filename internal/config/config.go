// Package config turns command-line arguments into a node configuration:
// which roster entry this process is, which peers it talks to, and how
// elections and heartbeats are timed.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/isparth/Distributed-Systems/raftkv/internal/raft"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var ErrInvalid = errors.New("invalid configuration")

// DefaultClusterSize is how many roster entries form the cluster unless
// -nodes says otherwise.
const DefaultClusterSize = 3

// Roster returns the built-in eight-server roster.
func Roster() []types.PeerConfig {
	roster := make([]types.PeerConfig, 8)
	for i := range roster {
		roster[i] = types.PeerConfig{
			Name:      types.NodeID(fmt.Sprintf("Server%02d", i+1)),
			Host:      "localhost",
			APIPort:   8080 + i,
			RaftPort:  5001 + i,
			Heartbeat: raft.DefaultHeartbeat,
		}
	}
	return roster
}

// Config is everything a node process needs to start.
type Config struct {
	Self  types.PeerConfig
	Peers []types.PeerConfig
	// BindHost is the interface both listeners bind to; empty means all.
	BindHost string
	Timing   raft.TimingConfig
	Dev      bool
	LogLevel zapcore.Level
}

// rosterEntry is the on-disk form of a roster entry. Heartbeat is in
// milliseconds.
type rosterEntry struct {
	Name      string `json:"serverName"`
	Host      string `json:"host"`
	APIPort   int    `json:"apiPort"`
	RaftPort  int    `json:"raftPort"`
	Heartbeat int    `json:"heartbeat"`
}

// Load parses args (without the program name). The node index may be given
// with -index or as the only positional argument.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("kvserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	index := fs.Int("index", 0, "position of this node in the roster")
	nodes := fs.Int("nodes", DefaultClusterSize, "number of roster entries that form the cluster")
	rosterFile := fs.String("roster", "", "JSON file with the cluster roster (defaults to the built-in roster)")
	bind := fs.String("bind", "", "interface to listen on (default all)")
	heartbeatTimeout := fs.Duration("heartbeat-timeout", 0, "follower wait before standing for election (default 2x heartbeat)")
	electionDeadline := fs.Duration("election-deadline", raft.DefaultElectionDeadline, "upper bound of one election attempt")
	backoffMin := fs.Duration("backoff-min", raft.DefaultBackoffMin, "minimum pause after a failed election")
	backoffMax := fs.Duration("backoff-max", raft.DefaultBackoffMax, "maximum pause after a failed election")
	dev := fs.Bool("dev", false, "human-friendly development logging")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch fs.NArg() {
	case 0:
	case 1:
		i, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return Config{}, fmt.Errorf("%w: node index %q is not a number", ErrInvalid, fs.Arg(0))
		}
		*index = i
	default:
		return Config{}, fmt.Errorf("%w: unexpected arguments %v", ErrInvalid, fs.Args())
	}

	roster := Roster()
	if *rosterFile != "" {
		r, err := ReadRoster(*rosterFile)
		if err != nil {
			return Config{}, err
		}
		roster = r
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return Config{}, fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}

	cfg, err := Build(roster, *index, *nodes)
	if err != nil {
		return Config{}, err
	}
	cfg.BindHost = *bind
	cfg.Dev = *dev
	cfg.LogLevel = level
	cfg.Timing = raft.TimingConfig{
		HeartbeatInterval: cfg.Self.Heartbeat,
		HeartbeatTimeout:  *heartbeatTimeout,
		ElectionDeadline:  *electionDeadline,
		BackoffMin:        *backoffMin,
		BackoffMax:        *backoffMax,
	}
	if cfg.Timing.BackoffMin <= 0 || cfg.Timing.BackoffMax < cfg.Timing.BackoffMin {
		return Config{}, fmt.Errorf("%w: backoff range [%s, %s]", ErrInvalid, cfg.Timing.BackoffMin, cfg.Timing.BackoffMax)
	}
	return cfg, nil
}

// Build picks the cluster out of roster: its first size entries, with the
// entry at index as this node.
func Build(roster []types.PeerConfig, index, size int) (Config, error) {
	if err := Validate(roster); err != nil {
		return Config{}, err
	}
	if size < 1 || size > len(roster) {
		return Config{}, fmt.Errorf("%w: cluster size %d outside [1, %d]", ErrInvalid, size, len(roster))
	}
	if index < 0 || index >= size {
		return Config{}, fmt.Errorf("%w: node index %d outside the %d-node cluster", ErrInvalid, index, size)
	}
	cluster := roster[:size]
	cfg := Config{Self: cluster[index]}
	for i, p := range cluster {
		if i != index {
			cfg.Peers = append(cfg.Peers, p)
		}
	}
	return cfg, nil
}

// Validate checks that names and listen addresses are unique and usable.
func Validate(roster []types.PeerConfig) error {
	if len(roster) == 0 {
		return fmt.Errorf("%w: empty roster", ErrInvalid)
	}
	names := make(map[types.NodeID]bool, len(roster))
	addrs := make(map[string]types.NodeID, 2*len(roster))
	for _, p := range roster {
		if p.Name == "" {
			return fmt.Errorf("%w: roster entry without a name", ErrInvalid)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate name %s", ErrInvalid, p.Name)
		}
		names[p.Name] = true
		if !validPort(p.APIPort) || !validPort(p.RaftPort) {
			return fmt.Errorf("%w: %s has an invalid port", ErrInvalid, p.Name)
		}
		if p.Heartbeat <= 0 {
			return fmt.Errorf("%w: %s has no heartbeat interval", ErrInvalid, p.Name)
		}
		for _, addr := range []string{p.APIAddr(), p.RaftAddr()} {
			if other, taken := addrs[addr]; taken {
				return fmt.Errorf("%w: %s and %s both use %s", ErrInvalid, other, p.Name, addr)
			}
			addrs[addr] = p.Name
		}
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p < 1<<16 }

// ReadRoster loads a JSON array of roster entries. Missing hosts default to
// localhost and missing heartbeats to the default interval.
func ReadRoster(path string) ([]types.PeerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var entries []rosterEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: roster %s: %v", ErrInvalid, path, err)
	}
	roster := make([]types.PeerConfig, len(entries))
	for i, e := range entries {
		p := types.PeerConfig{
			Name:      types.NodeID(e.Name),
			Host:      e.Host,
			APIPort:   e.APIPort,
			RaftPort:  e.RaftPort,
			Heartbeat: time.Duration(e.Heartbeat) * time.Millisecond,
		}
		if p.Host == "" {
			p.Host = "localhost"
		}
		if p.Heartbeat == 0 {
			p.Heartbeat = raft.DefaultHeartbeat
		}
		roster[i] = p
	}
	return roster, nil
}
