package orderservice

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshen/toyraft/internal/raft"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTermAndVotePersist(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTermAndVote(4, 2))

	term, votedFor, err := s.LoadTermAndVote()
	require.NoError(t, err)
	require.Equal(t, 4, term)
	require.Equal(t, 2, votedFor)
}

func TestApplyWritesOrderAndLogAtomically(t *testing.T) {
	s := openTestStore(t)
	entry := raft.LogEntry{Index: 1, Term: 1, Command: "buy 2 Tux", Payload: raft.OrderPayload{ProductName: "Tux", Quantity: 2}}
	require.NoError(t, s.Apply(entry))

	order, found, err := s.GetOrder(1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Order{Number: 1, ProductName: "Tux", Quantity: 2}, order)

	applied, err := s.AppliedEntries()
	require.NoError(t, err)
	require.Equal(t, []raft.LogEntry{entry}, applied)
}

func TestOrdersFromReturnsContiguousSuffix(t *testing.T) {
	s := openTestStore(t)
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Apply(raft.LogEntry{Index: i, Term: 1, Payload: raft.OrderPayload{ProductName: "Uno", Quantity: 1}}))
	}
	orders, err := s.OrdersFrom(2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, 2, orders[0].Number)
	require.Equal(t, 3, orders[1].Number)
}
