// Package catalog holds the authoritative product table: name, price, and
// quantity, decremented on order and increased by the restock job. All
// mutation happens under a single writer lock — the source system used two
// separate locks, acquired in inconsistent order across code paths, which
// risked deadlock; this collapses them to one.
package catalog

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/rshen/toyraft/internal/rwlock"
)

// Product is the catalog's authoritative record for one item.
type Product struct {
	Name     string
	Price    float64
	Quantity int
}

// ErrInsufficientStock is returned by Decrement when quantity would go
// negative.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrUnknownProduct is returned when a named product does not exist.
var ErrUnknownProduct = errors.New("unknown product")

// Store is the catalog's in-memory product table, protected by a single
// reader-preference lock shared by every read and write path (lookups,
// order decrements, and restocks).
type Store struct {
	lock     rwlock.RWLock
	products map[string]*Product
}

// NewStore seeds the catalog with the toy store's fixed starter inventory.
func NewStore() *Store {
	seed := []Product{
		{Name: "Tux", Price: 6.90, Quantity: 100},
		{Name: "Uno", Price: 5.00, Quantity: 100},
		{Name: "Clue", Price: 15.00, Quantity: 100},
		{Name: "Lego", Price: 23.30, Quantity: 100},
		{Name: "Chess", Price: 17.50, Quantity: 100},
		{Name: "Barbie", Price: 10.00, Quantity: 100},
		{Name: "Bubbles", Price: 2.75, Quantity: 100},
		{Name: "Frisbee", Price: 8.80, Quantity: 100},
		{Name: "Twister", Price: 13.30, Quantity: 100},
		{Name: "Elephant", Price: 20.00, Quantity: 100},
	}
	s := &Store{products: make(map[string]*Product, len(seed))}
	for _, p := range seed {
		p := p
		s.products[p.Name] = &p
	}
	return s
}

// Get returns a copy of the named product.
func (s *Store) Get(name string) (Product, bool) {
	var out Product
	var found bool
	s.lock.WithRead(func() {
		if p, ok := s.products[name]; ok {
			out, found = *p, true
		}
	})
	return out, found
}

// Decrement reduces the named product's stock by qty, failing if the
// product is unknown or stock is insufficient. The check and the mutation
// happen under one writer-lock acquisition, so no other writer can observe
// or act on an intermediate state.
func (s *Store) Decrement(name string, qty int) (Product, error) {
	var out Product
	var opErr error
	s.lock.WithWrite(func() {
		p, ok := s.products[name]
		if !ok {
			opErr = ErrUnknownProduct
			return
		}
		if p.Quantity < qty {
			opErr = ErrInsufficientStock
			return
		}
		p.Quantity -= qty
		out = *p
	})
	return out, opErr
}

// Restock adds qty to the named product's stock, creating it lazily at
// price 0 if it has never been seen before (mirroring the source system's
// lazy-create-on-first-restock lifecycle).
func (s *Store) Restock(name string, qty int) Product {
	var out Product
	s.lock.WithWrite(func() {
		p, ok := s.products[name]
		if !ok {
			p = &Product{Name: name}
			s.products[name] = p
		}
		p.Quantity += qty
		out = *p
	})
	return out
}

func (s *Store) String() string {
	return fmt.Sprintf("catalog.Store{%d products}", len(s.products))
}
