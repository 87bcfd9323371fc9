// Package orderservice wraps the raft package with the order table and
// log-entry table the design calls for, and exposes the HTTP surface a
// replica serves. It plays the role the teacher's kvraft package plays
// over its Raft core: a typed state machine plus client-facing handlers.
package orderservice

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/rshen/toyraft/internal/codec"
	"github.com/rshen/toyraft/internal/raft"
)

var (
	bucketRaftState = []byte("raft_state")
	bucketLog       = []byte("log_entries")
	bucketOrders    = []byte("orders")

	keyTerm     = []byte("term")
	keyVotedFor = []byte("voted_for")
)

// Order is an order-service-owned record: the product bought, the
// quantity, and the order number assigned at commit.
type Order struct {
	Number      int
	ProductName string
	Quantity    int
}

// Store is the durable, per-replica bbolt database backing both the Raft
// core's persistent state and the applied order/log-entry tables. Every
// apply writes the order row and the log row in one atomic transaction, as
// the design requires.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "orderservice: open bbolt database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRaftState, bucketLog, bucketOrders} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "orderservice: create buckets")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveTermAndVote implements raft.Storage.
func (s *Store) SaveTermAndVote(term, votedFor int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaftState)
		if err := b.Put(keyTerm, itob(term)); err != nil {
			return err
		}
		return b.Put(keyVotedFor, itob(votedFor))
	})
}

// LoadTermAndVote implements raft.Storage.
func (s *Store) LoadTermAndVote() (int, int, error) {
	var term, votedFor int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaftState)
		if v := b.Get(keyTerm); v != nil {
			term = btoi(v)
		}
		if v := b.Get(keyVotedFor); v != nil {
			votedFor = btoi(v)
		} else {
			votedFor = -1
		}
		return nil
	})
	return term, votedFor, err
}

// AppliedEntries implements raft.Storage, replaying the durable log-entry
// table in index order.
func (s *Store) AppliedEntries() ([]raft.LogEntry, error) {
	var entries []raft.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		return b.ForEach(func(_, v []byte) error {
			var e raft.LogEntry
			if err := codec.Decode(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

// Apply implements raft.StateMachine: it atomically records the order row
// and the log-entry row for entry, assigning the order number equal to the
// entry's log index (the two are always in 1:1 correspondence in this
// system, since every committed entry is exactly one buy order).
func (s *Store) Apply(entry raft.LogEntry) error {
	logBytes, err := codec.Encode(entry)
	if err != nil {
		return errors.Wrap(err, "orderservice: encode log entry")
	}
	order := Order{Number: entry.Index, ProductName: entry.Payload.ProductName, Quantity: entry.Payload.Quantity}
	orderBytes, err := codec.Encode(order)
	if err != nil {
		return errors.Wrap(err, "orderservice: encode order")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketLog).Put(itob(entry.Index), logBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketOrders).Put(itob(order.Number), orderBytes)
	})
}

// GetOrder returns the order with the given number, if present.
func (s *Store) GetOrder(number int) (Order, bool, error) {
	var order Order
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOrders).Get(itob(number))
		if v == nil {
			return nil
		}
		found = true
		return codec.Decode(v, &order)
	})
	return order, found, err
}

// OrdersFrom returns every order whose number is >= from, ascending.
func (s *Store) OrdersFrom(from int) ([]Order, error) {
	var orders []Order
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOrders).Cursor()
		for k, v := c.Seek(itob(from)); k != nil; k, v = c.Next() {
			var o Order
			if err := codec.Decode(v, &o); err != nil {
				return err
			}
			orders = append(orders, o)
		}
		return nil
	})
	return orders, err
}

func itob(v int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int { return int(binary.BigEndian.Uint64(b)) }
