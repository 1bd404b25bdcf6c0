package raft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// appendResult is one peer's answer to an AppendEntries call.
type appendResult struct {
	peer      types.NodeID
	prevIndex int
	sent      int
	reply     protocol.AppendEntriesReply
	err       error
}

// leader replicates the log to every peer on each heartbeat tick and on every
// accepted proposal, advances the commit index once a majority stores a
// current-term entry, and steps down as soon as it sees a later term.
func (n *Node) leader(ctx context.Context, st NodeState) NodeState {
	term := st.CurrentTerm
	logger := n.logger.With(zap.Int("term", term))
	logger.Info("became leader")
	n.setLeader(n.cfg.Self.Name)

	peers := n.cfg.Peers
	nextIndex := make(map[types.NodeID]int, len(peers))
	matchIndex := make(map[types.NodeID]int, len(peers))
	inflight := make(map[types.NodeID]bool, len(peers))
	workers := make(map[types.NodeID]*replicator, len(peers))

	lctx, cancel := context.WithCancel(ctx)
	results := make(chan appendResult, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		nextIndex[p.Name] = st.Log.Len()
		matchIndex[p.Name] = -1
		w := &replicator{
			peer:    p,
			tp:      n.tp,
			logger:  logger,
			timeout: 2 * n.cfg.Timing.HeartbeatInterval,
			reqs:    make(chan protocol.AppendEntriesRequest, 1),
		}
		workers[p.Name] = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(lctx, results)
		}()
	}

	waiters := make(map[int]chan error)
	defer func() {
		cancel()
		wg.Wait()
		for idx, ch := range waiters {
			ch <- &NotLeaderError{Hint: n.LeaderHint()}
			delete(waiters, idx)
		}
	}()

	broadcast := func() {
		for _, p := range peers {
			if inflight[p.Name] {
				continue
			}
			req := n.appendRequest(st, nextIndex[p.Name])
			select {
			case workers[p.Name].reqs <- req:
				inflight[p.Name] = true
			default:
			}
		}
	}
	commit := func() {
		idx := LeaderCommitIndex(st, matchIndex)
		if idx <= st.CommitIndex {
			return
		}
		st.CommitIndex = idx
		st = ApplyCommitted(st)
		logger.Debug("commit index advanced", zap.Int("commit_index", st.CommitIndex))
		// Readers must see the write before its proposer hears back.
		n.publish(st)
		for i, ch := range waiters {
			if i <= st.LastApplied {
				ch <- nil
				delete(waiters, i)
			}
		}
	}
	stepDown := func(cause string) NodeState {
		logger.Info("stepping down", zap.String("cause", cause), zap.Int("new_term", st.CurrentTerm))
		// The request that caused the step-down may already have named the
		// new leader.
		if n.LeaderHint().LeaderID == n.cfg.Self.Name {
			n.clearLeader()
		}
		st.Role = types.RoleFollower
		return st
	}

	ticker := time.NewTicker(n.cfg.Timing.HeartbeatInterval)
	defer ticker.Stop()
	commit()
	n.publish(st)
	broadcast()

	inbound := n.tp.Inbound()
	for {
		select {
		case <-ctx.Done():
			return st
		case <-ticker.C:
			broadcast()
		case r := <-results:
			inflight[r.peer] = false
			if r.err != nil {
				continue
			}
			st = ApplyIncomingTerm(st, r.reply.CurrentTerm)
			if st.CurrentTerm > term {
				return stepDown("append entries reply with later term")
			}
			if r.reply.Success {
				matchIndex[r.peer] = max(matchIndex[r.peer], r.prevIndex+r.sent)
				nextIndex[r.peer] = matchIndex[r.peer] + 1
				commit()
				n.publish(st)
			} else if nextIndex[r.peer] > 0 {
				nextIndex[r.peer]--
			}
		case in := <-inbound:
			st, _ = n.handleInbound(st, in)
			if st.CurrentTerm > term {
				return stepDown("request with later term")
			}
		case p := <-n.proposals:
			st.Log = st.Log.Append(types.LogEntry{Key: p.entry.Key, Value: p.entry.Value, Term: term})
			waiters[st.Log.LastIndex()] = p.result
			logger.Debug("proposal appended", zap.Int("index", st.Log.LastIndex()), zap.String("key", p.entry.Key))
			commit()
			n.publish(st)
			broadcast()
		}
	}
}

// appendRequest builds the AppendEntries call for a peer whose next expected
// index is next: every entry from next on, anchored on the entry before it.
func (n *Node) appendRequest(st NodeState, next int) protocol.AppendEntriesRequest {
	prevIndex := next - 1
	prevTerm := -1
	if t, ok := st.Log.TermAt(prevIndex); ok {
		prevTerm = t
	}
	return protocol.AppendEntriesRequest{
		LeaderTerm:   st.CurrentTerm,
		LeaderID:     n.cfg.Self.Name,
		PrevLogIndex: protocol.NewOptional(prevIndex),
		PrevLogTerm:  protocol.NewOptional(prevTerm),
		Entries:      wireEntries(st.Log.ReadFrom(next)),
		LeaderCommit: protocol.NewOptional(st.CommitIndex),
	}
}

// replicator owns the leader's connection to one peer. It sends one call at
// a time and reports every outcome, redialling after a failure.
type replicator struct {
	peer    types.PeerConfig
	tp      transport.Transport
	logger  *zap.Logger
	timeout time.Duration
	reqs    chan protocol.AppendEntriesRequest
}

func (r *replicator) run(ctx context.Context, out chan<- appendResult) {
	var conn transport.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var req protocol.AppendEntriesRequest
		select {
		case <-ctx.Done():
			return
		case req = <-r.reqs:
		}

		res := appendResult{
			peer:      r.peer.Name,
			prevIndex: protocol.OptionalValue(req.PrevLogIndex),
			sent:      len(req.Entries),
		}
		if conn == nil {
			c, err := r.tp.Dial(ctx, r.peer)
			if err != nil {
				res.err = err
			} else {
				conn = c
			}
		}
		if conn != nil {
			res.reply, res.err = r.call(ctx, conn, req)
			if res.err != nil {
				r.logger.Debug("append entries failed", zap.String("peer", string(r.peer.Name)), zap.Error(res.err))
				conn.Close()
				conn = nil
			}
		}

		select {
		case out <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (r *replicator) call(ctx context.Context, conn transport.Conn, req protocol.AppendEntriesRequest) (protocol.AppendEntriesReply, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := conn.Send(cctx, req); err != nil {
		return protocol.AppendEntriesReply{}, err
	}
	for {
		msg, err := conn.Recv(cctx)
		if err != nil {
			return protocol.AppendEntriesReply{}, err
		}
		if reply, ok := msg.(protocol.AppendEntriesReply); ok {
			return reply, nil
		}
	}
}
