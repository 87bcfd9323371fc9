package raft

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testNode struct {
	rf      *Raft
	storage *MemStorage
	sm      *MemStateMachine
}

func newTestCluster(t *testing.T, n int) []*testNode {
	t.Helper()
	cfg := Config{
		HeartbeatInterval:   30 * time.Millisecond,
		ElectionTimeoutBase: 150 * time.Millisecond,
		ElectionJitterMax:   50 * time.Millisecond,
		TickerInterval:      40 * time.Millisecond,
		RPCTimeout:          50 * time.Millisecond,
	}

	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		storage := NewMemStorage()
		sm := NewMemStateMachine(storage)
		rf, err := Make(i, nil, storage, sm, cfg)
		require.NoError(t, err)
		nodes[i] = &testNode{rf: rf, storage: storage, sm: sm}
	}
	for i, n1 := range nodes {
		var peers []Peer
		for j, n2 := range nodes {
			if i == j {
				continue
			}
			peers = append(peers, NewLocalPeer(n2.rf))
		}
		n1.rf.peers = peers
	}
	return nodes
}

func startAll(ctx context.Context, nodes []*testNode) {
	for _, n := range nodes {
		n.rf.Run(ctx)
	}
}

func waitForLeader(t *testing.T, nodes []*testNode, timeout time.Duration) *testNode {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if _, isLeader := n.rf.GetState(); isLeader {
				return n
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestElectionSafetySingleLeaderPerTerm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes := newTestCluster(t, 3)
	startAll(ctx, nodes)

	waitForLeader(t, nodes, 2*time.Second)
	time.Sleep(100 * time.Millisecond)

	leadersByTerm := map[int]int{}
	for _, n := range nodes {
		term, isLeader := n.rf.GetState()
		if isLeader {
			leadersByTerm[term]++
		}
	}
	for term, count := range leadersByTerm {
		require.LessOrEqualf(t, count, 1, "term %d had %d simultaneous leaders", term, count)
	}
}

func TestSubmitCommitsOnMajority(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes := newTestCluster(t, 3)
	startAll(ctx, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)
	committed, index := leader.rf.Submit("buy 2 Tux", OrderPayload{ProductName: "Tux", Quantity: 2})
	require.True(t, committed)
	require.Equal(t, 1, index)

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if len(n.sm.Applied) != 1 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond, "all replicas should eventually apply the committed entry")
}

func TestLateStartedFollowerAppliesCommittedEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes := newTestCluster(t, 3)

	// Start the election tickers of only two replicas. The third never
	// campaigns, but its RPC handlers stay reachable, so it receives every
	// entry during the Submit rounds.
	startAll(ctx, nodes[:2])
	leader := waitForLeader(t, nodes[:2], 2*time.Second)

	for i := 0; i < 3; i++ {
		committed, _ := leader.rf.Submit("buy 1 Uno", OrderPayload{ProductName: "Uno", Quantity: 1})
		require.True(t, committed)
	}

	// Start the third replica's ticker; it learns the final commit index
	// from the leader's heartbeats.
	nodes[2].rf.Run(ctx)

	require.Eventually(t, func() bool {
		return len(nodes[2].sm.Applied) == 3
	}, 3*time.Second, 20*time.Millisecond, "late-started follower should apply every committed entry via heartbeats")
}

func TestLogMatchingAcrossReplicas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodes := newTestCluster(t, 3)
	startAll(ctx, nodes)

	leader := waitForLeader(t, nodes, 2*time.Second)
	for i := 0; i < 4; i++ {
		leader.rf.Submit("buy 1 Clue", OrderPayload{ProductName: "Clue", Quantity: 1})
	}

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if len(n.sm.Applied) != 4 {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	for i := 0; i < len(nodes[0].sm.Applied); i++ {
		first := nodes[0].sm.Applied[i]
		for _, n := range nodes[1:] {
			require.Equal(t, first, n.sm.Applied[i])
		}
	}
}

// TestCurrentTermEntryCommitsPriorTermEntriesTransitively covers the rule
// that a leader only advances commitIndex directly for an entry it
// appended in its own term. An entry from an earlier term can sit on a
// majority of logs uncommitted (its leader lost leadership before
// advancing commitIndex past it, or before the client found out); it only
// becomes committed once a current-term entry's own majority pushes
// commitIndex past it too.
func TestCurrentTermEntryCommitsPriorTermEntriesTransitively(t *testing.T) {
	nodes := newTestCluster(t, 3)

	// Seed every replica with the same term-1 entry at index 1, as if it
	// had replicated to all three logs while n0 led term 1, but n0 lost
	// leadership before any round reported a majority ack and advanced
	// commitIndex. By term 3, n0 is leader again with the entry still
	// uncommitted.
	term1Entry := LogEntry{Index: 1, Term: 1, Command: "buy 1 Tux", Payload: OrderPayload{ProductName: "Tux", Quantity: 1}}
	for _, n := range nodes {
		n.rf.mu.Lock()
		n.rf.log = append(n.rf.log, term1Entry)
		n.rf.currentTerm = 3
		n.rf.mu.Unlock()
	}

	leader := nodes[0]
	leader.rf.mu.Lock()
	leader.rf.role = Leader
	leader.rf.leaderID = leader.rf.me
	leader.rf.nextIndex = make([]int, len(leader.rf.peers))
	leader.rf.matchIndex = make([]int, len(leader.rf.peers))
	last := leader.rf.lastLogIndexLocked()
	for i := range leader.rf.nextIndex {
		leader.rf.nextIndex[i] = last + 1
	}
	startingCommit := leader.rf.commitIndex
	leader.rf.mu.Unlock()

	require.Zero(t, startingCommit, "the term-1 entry must start out uncommitted on the term-3 leader")

	committed, index := leader.rf.Submit("buy 1 Uno", OrderPayload{ProductName: "Uno", Quantity: 1})
	require.True(t, committed)
	require.Equal(t, 2, index, "the term-3 entry lands at the next free index, above the seeded term-1 entry")

	leader.rf.mu.Lock()
	defer leader.rf.mu.Unlock()
	require.Equal(t, 2, leader.rf.commitIndex,
		"the term-3 entry's own majority commits it, and the term-1 entry beneath it only transitively")
	require.Equal(t, 1, leader.rf.entryAt(1).Term, "the transitively committed entry is still the original term-1 entry")
}
