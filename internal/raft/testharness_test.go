package raft

import (
	"context"
	"sync"
)

// localPeer wires one Raft instance directly to another's exported RPC
// handlers, standing in for the teacher's simulated-network rpc.ClientEnd
// in tests that need a multi-node cluster without real sockets.
type localPeer struct {
	target *Raft
}

// NewLocalPeer returns a Peer that calls target's handlers in-process.
func NewLocalPeer(target *Raft) Peer { return &localPeer{target: target} }

func (p *localPeer) ID() int { return p.target.me }

func (p *localPeer) RequestVote(_ context.Context, args *RequestVoteArgs) (*RequestVoteReply, error) {
	return p.target.RequestVote(args), nil
}

func (p *localPeer) AppendEntries(_ context.Context, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	return p.target.AppendEntries(args), nil
}

// MemStorage is an in-memory Storage implementation for tests.
type MemStorage struct {
	mu       sync.Mutex
	term     int
	votedFor int
	applied  []LogEntry
}

// NewMemStorage returns a ready-to-use in-memory Storage.
func NewMemStorage() *MemStorage { return &MemStorage{votedFor: -1} }

func (s *MemStorage) SaveTermAndVote(term, votedFor int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term, s.votedFor = term, votedFor
	return nil
}

func (s *MemStorage) LoadTermAndVote() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, nil
}

func (s *MemStorage) AppliedEntries() ([]LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.applied))
	copy(out, s.applied)
	return out, nil
}

func (s *MemStorage) appendApplied(e LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, e)
}

// MemStateMachine records applied entries in order, for assertions in
// tests.
type MemStateMachine struct {
	mu      sync.Mutex
	Applied []LogEntry
	storage *MemStorage
}

// NewMemStateMachine returns a state machine that also mirrors applied
// entries into storage, so a restarted Raft replaying from storage sees
// them.
func NewMemStateMachine(storage *MemStorage) *MemStateMachine {
	return &MemStateMachine{storage: storage}
}

func (m *MemStateMachine) Apply(entry LogEntry) error {
	m.mu.Lock()
	m.Applied = append(m.Applied, entry)
	m.mu.Unlock()
	if m.storage != nil {
		m.storage.appendApplied(entry)
	}
	return nil
}
