// Package protocol defines the four raft messages exchanged between nodes and
// their textual wire form.
//
// Every frame is a JSON object carrying a "type" discriminator next to the
// message fields, so requests and replies of different kinds can share one
// connection. Optional integers (log indexes and terms that do not exist yet)
// are encoded as JSON null.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

var (
	// ErrMalformed is returned for frames that are not valid JSON, lack the
	// type discriminator or fail field validation.
	ErrMalformed = errors.New("protocol: malformed message")
	// ErrUnknownType is returned for frames whose type is not one of the four
	// raft messages.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Kind is the value of the "type" discriminator.
type Kind string

const (
	KindRequestVoteRequest   Kind = "RequestVoteRequest"
	KindRequestVoteReply     Kind = "RequestVoteReply"
	KindAppendEntriesRequest Kind = "AppendEntriesRequest"
	KindAppendEntriesReply   Kind = "AppendEntriesReply"
)

func (k Kind) String() string { return string(k) }

// Message is one of RequestVoteRequest, RequestVoteReply,
// AppendEntriesRequest or AppendEntriesReply.
type Message interface {
	Kind() Kind
	isMessage()
}

// RequestVoteRequest is sent by a candidate to solicit a vote.
type RequestVoteRequest struct {
	CandidateTerm int          `json:"candidatesTerm"`
	CandidateID   types.NodeID `json:"candidateId"`
	LastLogIndex  *int         `json:"lastLogIndex"`
	LastLogTerm   *int         `json:"lastLogTerm"`
}

// RequestVoteReply answers a RequestVoteRequest.
type RequestVoteReply struct {
	CurrentTerm int  `json:"currentTerm"`
	VoteGranted bool `json:"voteGranted"`
}

// Entry is a log entry as carried by AppendEntries. Term is optional: when it
// is absent the receiver stamps the entry with the leader's term.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Term  *int   `json:"term,omitempty"`
}

// AppendEntriesRequest replicates entries and doubles as the leader heartbeat.
type AppendEntriesRequest struct {
	LeaderTerm   int          `json:"leadersTerm"`
	LeaderID     types.NodeID `json:"leaderId"`
	PrevLogIndex *int         `json:"prevLogIndex"`
	PrevLogTerm  *int         `json:"prevLogTerm"`
	Entries      []Entry      `json:"entries"`
	LeaderCommit *int         `json:"leaderCommit"`
}

// AppendEntriesReply answers an AppendEntriesRequest.
type AppendEntriesReply struct {
	CurrentTerm int  `json:"currentTerm"`
	Success     bool `json:"success"`
}

func (RequestVoteRequest) Kind() Kind   { return KindRequestVoteRequest }
func (RequestVoteReply) Kind() Kind     { return KindRequestVoteReply }
func (AppendEntriesRequest) Kind() Kind { return KindAppendEntriesRequest }
func (AppendEntriesReply) Kind() Kind   { return KindAppendEntriesReply }

func (RequestVoteRequest) isMessage()   {}
func (RequestVoteReply) isMessage()     {}
func (AppendEntriesRequest) isMessage() {}
func (AppendEntriesReply) isMessage()   {}

// NewOptional returns a pointer to i, or nil when i is negative. Negative
// values are how the consensus engine spells "no index" internally.
func NewOptional(i int) *int {
	if i < 0 {
		return nil
	}
	return &i
}

// OptionalValue is the inverse of NewOptional: nil becomes -1.
func OptionalValue(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// Encode renders m as a tagged JSON frame.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case RequestVoteRequest:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			RequestVoteRequest
		}{v.Kind(), v})
	case RequestVoteReply:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			RequestVoteReply
		}{v.Kind(), v})
	case AppendEntriesRequest:
		if v.Entries == nil {
			v.Entries = []Entry{}
		}
		return json.Marshal(struct {
			Type Kind `json:"type"`
			AppendEntriesRequest
		}{v.Kind(), v})
	case AppendEntriesReply:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			AppendEntriesReply
		}{v.Kind(), v})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// Decode parses a tagged JSON frame into one of the four message types.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type *Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == nil {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch *envelope.Type {
	case KindRequestVoteRequest:
		var m RequestVoteRequest
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil
	case KindRequestVoteReply:
		var m RequestVoteReply
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindAppendEntriesRequest:
		var m AppendEntriesRequest
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil
	case KindAppendEntriesReply:
		var m AppendEntriesReply
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, *envelope.Type)
	}
}

func unmarshal(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (m RequestVoteRequest) validate() error {
	switch {
	case m.CandidateTerm < 0:
		return fmt.Errorf("%w: negative candidate term", ErrMalformed)
	case m.CandidateID == "":
		return fmt.Errorf("%w: missing candidateId", ErrMalformed)
	case (m.LastLogIndex == nil) != (m.LastLogTerm == nil):
		return fmt.Errorf("%w: lastLogIndex and lastLogTerm must both be set or both be null", ErrMalformed)
	case m.LastLogIndex != nil && *m.LastLogIndex < 0:
		return fmt.Errorf("%w: negative lastLogIndex", ErrMalformed)
	}
	return nil
}

func (m AppendEntriesRequest) validate() error {
	switch {
	case m.LeaderTerm < 0:
		return fmt.Errorf("%w: negative leader term", ErrMalformed)
	case m.LeaderID == "":
		return fmt.Errorf("%w: missing leaderId", ErrMalformed)
	case (m.PrevLogIndex == nil) != (m.PrevLogTerm == nil):
		return fmt.Errorf("%w: prevLogIndex and prevLogTerm must both be set or both be null", ErrMalformed)
	case m.PrevLogIndex != nil && *m.PrevLogIndex < 0:
		return fmt.Errorf("%w: negative prevLogIndex", ErrMalformed)
	case m.LeaderCommit != nil && *m.LeaderCommit < 0:
		return fmt.Errorf("%w: negative leaderCommit", ErrMalformed)
	}
	for i, e := range m.Entries {
		if e.Term != nil && (*e.Term < 0 || *e.Term > m.LeaderTerm) {
			return fmt.Errorf("%w: entry %d has term %d outside [0, %d]", ErrMalformed, i, *e.Term, m.LeaderTerm)
		}
	}
	return nil
}
