package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecrementHappyPath(t *testing.T) {
	s := NewStore()
	p, err := s.Decrement("Tux", 2)
	require.NoError(t, err)
	require.Equal(t, 98, p.Quantity)

	got, ok := s.Get("Tux")
	require.True(t, ok)
	require.Equal(t, 98, got.Quantity)
}

func TestDecrementInsufficientStockLeavesQuantityUnchanged(t *testing.T) {
	s := NewStore()
	_, err := s.Decrement("Tux", 1000)
	require.ErrorIs(t, err, ErrInsufficientStock)

	got, _ := s.Get("Tux")
	require.Equal(t, 100, got.Quantity)
}

func TestDecrementUnknownProduct(t *testing.T) {
	s := NewStore()
	_, err := s.Decrement("Nope", 1)
	require.ErrorIs(t, err, ErrUnknownProduct)
}

func TestRestockCreatesLazily(t *testing.T) {
	s := NewStore()
	p := s.Restock("NewToy", 5)
	require.Equal(t, 5, p.Quantity)
}

func TestConcurrentDecrementAndRestockNoDeadlock(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.Decrement("Tux", 1)
		}()
		go func() {
			defer wg.Done()
			s.Restock("Tux", 1)
		}()
	}
	wg.Wait() // would hang forever if the single-lock fix regressed to a deadlock
}
