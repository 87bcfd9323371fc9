// Package raft implements the consensus core described for the order
// service: leader election, log replication, and commit advancement across
// a fixed peer set, serialized under one mutex per replica. It is adapted
// from a labrpc-style teaching Raft core, generalized from an untyped
// interface{} command to the order system's typed payload and rebuilt on a
// real HTTP Peer transport plus a durable Storage/StateMachine pair instead
// of an in-memory test harness.
package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Role is one of the three states a replica is in.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// OrderPayload is the structured half of a log entry's command.
type OrderPayload struct {
	ProductName string
	Quantity    int
}

// LogEntry is one position in the replicated log.
type LogEntry struct {
	Index   int
	Term    int
	Command string
	Payload OrderPayload
}

// RequestVoteArgs is the body of a RequestVote RPC.
type RequestVoteArgs struct {
	Term         int
	CandidateId  int
	LastLogIndex int
	LastLogTerm  int
}

// RequestVoteReply is the reply to a RequestVote RPC.
type RequestVoteReply struct {
	Term        int
	VoteGranted bool
}

// AppendEntriesArgs is the body of an AppendEntries RPC; Entries is empty
// for a pure heartbeat.
type AppendEntriesArgs struct {
	Term         int
	LeaderId     int
	PrevLogIndex int
	PrevLogTerm  int
	Entries      []LogEntry
	LeaderCommit int
}

// AppendEntriesReply is the reply to an AppendEntries RPC. The wire
// contract specifies lowercase field names here (unlike every other
// request/reply pair), a literal carry-over of the source system's
// inconsistency that is not worth normalizing away.
type AppendEntriesReply struct {
	Term    int  `json:"term"`
	Success bool `json:"success"`
}

// Peer is the leader's view of one other replica.
type Peer interface {
	ID() int
	RequestVote(ctx context.Context, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, args *AppendEntriesArgs) (*AppendEntriesReply, error)
}

// Storage durably records the pieces of state that must survive a restart:
// (current_term, voted_for), persisted before any reply that advances them,
// and the already-applied prefix of the log (order rows are owned by the
// StateMachine and written in the same transaction as the log row).
type Storage interface {
	SaveTermAndVote(term, votedFor int) error
	LoadTermAndVote() (term, votedFor int, err error)
	AppliedEntries() ([]LogEntry, error)
}

// StateMachine applies a committed entry. Apply is called exactly once per
// index, strictly in order, and must durably record its effect (the order
// row) atomically with the log-entry row before returning.
type StateMachine interface {
	Apply(entry LogEntry) error
}

// Config holds the timing constants from the design: 1.5s heartbeats, a 5s
// + [0,250ms] election timeout re-rolled on every 3s ticker check, and a
// 300ms hard RPC timeout comfortably under the heartbeat interval.
type Config struct {
	HeartbeatInterval   time.Duration
	ElectionTimeoutBase time.Duration
	ElectionJitterMax   time.Duration
	TickerInterval      time.Duration
	RPCTimeout          time.Duration
}

// DefaultConfig returns the timing constants specified for the system.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:   1500 * time.Millisecond,
		ElectionTimeoutBase: 5000 * time.Millisecond,
		ElectionJitterMax:   250 * time.Millisecond,
		TickerInterval:      3000 * time.Millisecond,
		RPCTimeout:          300 * time.Millisecond,
	}
}

// Raft is one replica's consensus core.
type Raft struct {
	mu      sync.Mutex
	me      int
	peers   []Peer
	storage Storage
	sm      StateMachine
	cfg     Config

	role        Role
	currentTerm int
	votedFor    int // -1 = none
	log         []LogEntry // log[0] is an unused term-0 sentinel; real entries start at index 1
	commitIndex int
	lastApplied int
	nextIndex   []int
	matchIndex  []int

	lastContact time.Time
	leaderID    int // -1 = unknown

	onRoleChange func(Role, int) // optional hook for metrics; may be nil
}

// Make constructs a Raft replica, reloading persisted term/vote and
// replaying the durable log-entry table into its in-memory log. Call Run
// to start the background ticker and heartbeat loop.
func Make(me int, peers []Peer, storage Storage, sm StateMachine, cfg Config) (*Raft, error) {
	rf := &Raft{
		me:       me,
		peers:    peers,
		storage:  storage,
		sm:       sm,
		cfg:      cfg,
		role:     Follower,
		votedFor: -1,
		leaderID: -1,
		log:      []LogEntry{{Index: 0, Term: 0}},
	}

	term, votedFor, err := storage.LoadTermAndVote()
	if err != nil {
		return nil, err
	}
	rf.currentTerm = term
	rf.votedFor = votedFor

	applied, err := storage.AppliedEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range applied {
		rf.log = append(rf.log, e)
	}
	rf.commitIndex = rf.lastLogIndexLocked()
	rf.lastApplied = rf.commitIndex

	rf.lastContact = time.Now()
	return rf, nil
}

// OnRoleChange registers a callback invoked whenever the replica's role or
// term changes, used to drive the Prometheus gauges in cmd/order.
func (rf *Raft) OnRoleChange(fn func(Role, int)) {
	rf.mu.Lock()
	rf.onRoleChange = fn
	rf.mu.Unlock()
}

// GetState returns the current term and whether this replica believes
// itself to be the leader.
func (rf *Raft) GetState() (int, bool) {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.currentTerm, rf.role == Leader
}

// LeaderHint returns the id of the replica this one last heard from as
// leader, or -1 if unknown.
func (rf *Raft) LeaderHint() int {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.leaderID
}

func (rf *Raft) lastLogIndexLocked() int { return rf.log[len(rf.log)-1].Index }
func (rf *Raft) lastLogTermLocked() int  { return rf.log[len(rf.log)-1].Term }

// entryAt returns the log entry whose Index field equals idx, assuming the
// log is contiguous from 0.
func (rf *Raft) entryAt(idx int) LogEntry { return rf.log[idx] }

func (rf *Raft) notifyRoleChangeLocked() {
	if rf.onRoleChange != nil {
		rf.onRoleChange(rf.role, rf.currentTerm)
	}
}

func (rf *Raft) becomeFollowerLocked(term int) {
	rf.role = Follower
	rf.currentTerm = term
	rf.votedFor = -1
	_ = rf.storage.SaveTermAndVote(rf.currentTerm, rf.votedFor)
	rf.notifyRoleChangeLocked()
}

// isUpToDateLocked reports whether a candidate's log is at least as
// up-to-date as ours.
func (rf *Raft) isUpToDateLocked(lastLogTerm, lastLogIndex int) bool {
	ownTerm := rf.lastLogTermLocked()
	if lastLogTerm != ownTerm {
		return lastLogTerm > ownTerm
	}
	return lastLogIndex >= rf.lastLogIndexLocked()
}

// RequestVote is the RPC handler a peer calls on us.
func (rf *Raft) RequestVote(args *RequestVoteArgs) *RequestVoteReply {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	reply := &RequestVoteReply{Term: rf.currentTerm, VoteGranted: false}
	if args.Term < rf.currentTerm {
		return reply
	}
	if args.Term > rf.currentTerm {
		rf.becomeFollowerLocked(args.Term)
	}
	reply.Term = rf.currentTerm

	canVote := rf.votedFor == -1 || rf.votedFor == args.CandidateId
	if canVote && rf.isUpToDateLocked(args.LastLogTerm, args.LastLogIndex) {
		rf.votedFor = args.CandidateId
		_ = rf.storage.SaveTermAndVote(rf.currentTerm, rf.votedFor)
		rf.lastContact = time.Now()
		reply.VoteGranted = true
		log.Debug().Int("me", rf.me).Int("term", rf.currentTerm).Int("candidate", args.CandidateId).Msg("raft: granted vote")
	}
	return reply
}

// AppendEntries is the RPC handler a peer (the leader) calls on us.
func (rf *Raft) AppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	reply := &AppendEntriesReply{Term: rf.currentTerm, Success: false}
	if args.Term < rf.currentTerm {
		return reply
	}
	if args.Term > rf.currentTerm {
		rf.becomeFollowerLocked(args.Term)
	} else if rf.role == Candidate {
		rf.role = Follower
		rf.notifyRoleChangeLocked()
	}
	reply.Term = rf.currentTerm
	rf.leaderID = args.LeaderId
	rf.lastContact = time.Now()

	lastIndex := rf.lastLogIndexLocked()
	if args.PrevLogIndex > 0 {
		if lastIndex < args.PrevLogIndex || rf.entryAt(args.PrevLogIndex).Term != args.PrevLogTerm {
			return reply
		}
	}

	rf.log = rf.log[:args.PrevLogIndex+1]
	rf.log = append(rf.log, args.Entries...)
	reply.Success = true

	if args.LeaderCommit > rf.commitIndex {
		newCommit := args.LeaderCommit
		if last := rf.lastLogIndexLocked(); newCommit > last {
			newCommit = last
		}
		rf.commitIndex = newCommit
		rf.applyLocked()
	}
	return reply
}

// applyLocked applies every entry in (lastApplied, commitIndex] to the
// state machine, in order, persisting each atomically with its log row.
func (rf *Raft) applyLocked() {
	for rf.lastApplied < rf.commitIndex {
		rf.lastApplied++
		entry := rf.entryAt(rf.lastApplied)
		if err := rf.sm.Apply(entry); err != nil {
			log.Error().Err(err).Int("me", rf.me).Int("index", entry.Index).Msg("raft: apply failed")
			rf.lastApplied--
			return
		}
	}
}

// Submit is the leader-only entry point for a new command. It appends the
// entry locally, replicates to every peer in one parallel round, and
// either commits (returning the assigned index) or, if that round did not
// reach a majority, discards the tentative entry.
func (rf *Raft) Submit(command string, payload OrderPayload) (committed bool, index int) {
	rf.mu.Lock()
	if rf.role != Leader {
		rf.mu.Unlock()
		return false, 0
	}
	entry := LogEntry{Index: rf.lastLogIndexLocked() + 1, Term: rf.currentTerm, Command: command, Payload: payload}
	rf.log = append(rf.log, entry)
	term := rf.currentTerm
	peers := rf.peers
	rf.mu.Unlock()

	var wg sync.WaitGroup
	var okCount int32 = 1 // counts self
	var mu sync.Mutex
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rf.replicateOnce(p, term) {
				mu.Lock()
				okCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	rf.mu.Lock()
	defer rf.mu.Unlock()

	majority := (len(peers)+1)/2 + 1
	if int(okCount) < majority || rf.currentTerm != term || rf.role != Leader {
		// Superseded or failed to reach majority: drop the tentative entry
		// if it is still our uncommitted tail.
		if last := rf.lastLogIndexLocked(); last == entry.Index && rf.entryAt(last).Term == term {
			rf.log = rf.log[:last]
		}
		return false, 0
	}

	if entry.Term == rf.currentTerm && entry.Index > rf.commitIndex {
		rf.commitIndex = entry.Index
		rf.applyLocked()
	}
	return rf.commitIndex >= entry.Index, entry.Index
}

// replicateOnce sends one AppendEntries to p reflecting our current
// nextIndex for it, and updates nextIndex/matchIndex (or steps down) based
// on the reply. It reports whether the peer's log now matches through
// term.
func (rf *Raft) replicateOnce(p Peer, term int) bool {
	rf.mu.Lock()
	if rf.role != Leader || rf.currentTerm != term {
		rf.mu.Unlock()
		return false
	}
	peerIdx := rf.peerIndex(p.ID())
	prevIndex := rf.nextIndex[peerIdx] - 1
	if prevIndex < 0 {
		prevIndex = 0
	}
	prevTerm := rf.entryAt(prevIndex).Term
	var entries []LogEntry
	if rf.nextIndex[peerIdx] <= rf.lastLogIndexLocked() {
		entries = append(entries, rf.log[rf.nextIndex[peerIdx]:]...)
	}
	args := &AppendEntriesArgs{
		Term:         rf.currentTerm,
		LeaderId:     rf.me,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: rf.commitIndex,
	}
	rf.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rf.cfg.RPCTimeout)
	defer cancel()
	reply, err := p.AppendEntries(ctx, args)
	if err != nil {
		return false // silent, retried next tick
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()
	if reply.Term > rf.currentTerm {
		rf.becomeFollowerLocked(reply.Term)
		return false
	}
	if rf.role != Leader || rf.currentTerm != term {
		return false
	}
	if reply.Success {
		rf.nextIndex[peerIdx] = prevIndex + len(entries) + 1
		rf.matchIndex[peerIdx] = rf.nextIndex[peerIdx] - 1
		return true
	}
	// Consistency check failed: back off by one and retry next round, per
	// the design's simple decrement rule.
	if rf.nextIndex[peerIdx] > 1 {
		rf.nextIndex[peerIdx]--
	}
	return false
}

func (rf *Raft) peerIndex(id int) int {
	for i, p := range rf.peers {
		if p.ID() == id {
			return i
		}
	}
	return -1
}

// Run starts the election ticker, which runs until ctx is cancelled and,
// whenever this replica becomes leader, starts a heartbeat loop. A
// heartbeat loop does not watch ctx; it stops once the replica is no
// longer leader of the term it was started for.
func (rf *Raft) Run(ctx context.Context) {
	go rf.electionTicker(ctx)
}

func (rf *Raft) electionTicker(ctx context.Context) {
	ticker := time.NewTicker(rf.cfg.TickerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rf.mu.Lock()
			if rf.role == Leader {
				rf.mu.Unlock()
				continue
			}
			jitter := time.Duration(rand.Int63n(int64(rf.cfg.ElectionJitterMax) + 1))
			timeout := rf.cfg.ElectionTimeoutBase + jitter
			timedOut := time.Since(rf.lastContact) > timeout
			rf.mu.Unlock()
			if timedOut {
				rf.startElection(ctx)
			}
		}
	}
}

func (rf *Raft) startElection(ctx context.Context) {
	rf.mu.Lock()
	rf.role = Candidate
	rf.currentTerm++
	rf.votedFor = rf.me
	_ = rf.storage.SaveTermAndVote(rf.currentTerm, rf.votedFor)
	rf.lastContact = time.Now()
	term := rf.currentTerm
	lastIndex := rf.lastLogIndexLocked()
	lastTerm := rf.lastLogTermLocked()
	peers := rf.peers
	rf.notifyRoleChangeLocked()
	rf.mu.Unlock()

	log.Info().Int("me", rf.me).Int("term", term).Msg("raft: starting election")

	var wg sync.WaitGroup
	var mu sync.Mutex
	votes := 1 // self
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, rf.cfg.RPCTimeout)
			defer cancel()
			reply, err := p.RequestVote(rctx, &RequestVoteArgs{
				Term: term, CandidateId: rf.me, LastLogIndex: lastIndex, LastLogTerm: lastTerm,
			})
			if err != nil {
				return
			}
			rf.mu.Lock()
			defer rf.mu.Unlock()
			if reply.Term > rf.currentTerm {
				rf.becomeFollowerLocked(reply.Term)
				return
			}
			if reply.VoteGranted && rf.role == Candidate && rf.currentTerm == term {
				mu.Lock()
				votes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.role != Candidate || rf.currentTerm != term {
		return
	}
	majority := (len(peers)+1)/2 + 1
	if votes >= majority {
		rf.becomeLeaderLocked()
	}
	// Otherwise remain candidate until the next ticker check restarts the
	// election, or a higher-term message arrives and steps us down.
}

func (rf *Raft) becomeLeaderLocked() {
	rf.role = Leader
	rf.leaderID = rf.me
	n := len(rf.peers)
	rf.nextIndex = make([]int, n)
	rf.matchIndex = make([]int, n)
	last := rf.lastLogIndexLocked()
	for i := range rf.nextIndex {
		rf.nextIndex[i] = last + 1
		rf.matchIndex[i] = 0
	}
	rf.notifyRoleChangeLocked()
	log.Info().Int("me", rf.me).Int("term", rf.currentTerm).Msg("raft: became leader")

	term := rf.currentTerm
	go rf.heartbeatLoop(term)
}

func (rf *Raft) heartbeatLoop(term int) {
	ticker := time.NewTicker(rf.cfg.HeartbeatInterval)
	defer ticker.Stop()
	rf.broadcastHeartbeat(term)
	for range ticker.C {
		rf.mu.Lock()
		stillLeader := rf.role == Leader && rf.currentTerm == term
		peers := rf.peers
		rf.mu.Unlock()
		if !stillLeader {
			return
		}
		for _, p := range peers {
			go rf.replicateOnce(p, term)
		}
	}
}

func (rf *Raft) broadcastHeartbeat(term int) {
	rf.mu.Lock()
	peers := rf.peers
	rf.mu.Unlock()
	for _, p := range peers {
		go rf.replicateOnce(p, term)
	}
}
