package raft

import (
	"sync"
	"time"
)

// reason says why a role's wait ended.
type reason int

const (
	reasonTimeout reason = iota
	reasonRequiredVotes
	reasonSplitVote
	reasonRecognisedLeader
	reasonHigherTerm
)

func (r reason) String() string {
	switch r {
	case reasonTimeout:
		return "timeout"
	case reasonRequiredVotes:
		return "required_votes"
	case reasonSplitVote:
		return "split_vote"
	case reasonRecognisedLeader:
		return "recognised_leader"
	case reasonHigherTerm:
		return "higher_term"
	default:
		return "unknown"
	}
}

// resolver is a timeout that can also be settled early with a reason. Only
// the first settlement is delivered; later ones, including a timer that
// fires after Stop, are dropped.
type resolver struct {
	once  sync.Once
	done  chan reason
	timer *time.Timer
}

func newResolver(d time.Duration) *resolver {
	r := &resolver{done: make(chan reason, 1)}
	r.timer = time.AfterFunc(d, func() { r.resolve(reasonTimeout) })
	return r
}

// resolve reports whether this call was the one that settled r.
func (r *resolver) resolve(why reason) bool {
	settled := false
	r.once.Do(func() {
		r.done <- why
		settled = true
	})
	return settled
}

func (r *resolver) Done() <-chan reason {
	return r.done
}

// Stop cancels the timer and settles r without delivering anything.
func (r *resolver) Stop() {
	r.timer.Stop()
	r.once.Do(func() {})
}
