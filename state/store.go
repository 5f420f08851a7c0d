// Package state provides the engine's durable key-value state, stored in a
// BoltDB database.
//
// Each column family of the state is a top-level bucket. All state views are
// accessed through a Tx; changes made by a processing step become visible
// atomically when the transaction is committed.
package state

import (
	"context"
	"os"
	"sync"

	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"go.etcd.io/bbolt"
)

// Store is the state of a single partition.
type Store struct {
	db        *bbolt.DB
	processes sync.Map // map[int64]*model.Process, keyed by workflow key
}

// Open opens the store at the given path, creating it if necessary.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := bboltx.Open(ctx, path)
	if err != nil {
		return nil, err
	}

	return New(db), nil
}

// New returns a store that uses the given database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *bbolt.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a read-write transaction.
//
// Only one read-write transaction may be in progress at a time.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, err
	}

	return &Tx{tx, s}, nil
}

// View calls fn within a read-only transaction.
func (s *Store) View(fn func(tx *Tx)) error {
	return bboltx.View(s.db, func(tx *bbolt.Tx) {
		fn(&Tx{tx, s})
	})
}

// Update calls fn within a read-write transaction, which is committed when fn
// returns.
func (s *Store) Update(fn func(tx *Tx)) error {
	return bboltx.Update(s.db, func(tx *bbolt.Tx) {
		fn(&Tx{tx, s})
	})
}

// Tx is a transaction against the state store.
//
// The methods of Tx and of the views it returns panic with a
// bboltx.Failure if the underlying database fails. The panic is
// recovered by Store.View(), Store.Update() and Tx.Run().
type Tx struct {
	tx    *bbolt.Tx
	store *Store
}

// Run calls fn, converting panics raised by the database into errors.
func (t *Tx) Run(fn func() error) (err error) {
	defer bboltx.Recover(&err)
	return fn()
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the transaction.
func (t *Tx) Rollback() {
	_ = t.tx.Rollback()
}

// bucket returns the bucket with the given name.
//
// Within a read-only transaction it returns nil if the bucket does not exist.
func (t *Tx) bucket(name []byte) *bbolt.Bucket {
	if t.tx.Writable() {
		return bboltx.CreateBucketIfNotExists(t.tx, name)
	}

	return bboltx.Bucket(t.tx, name)
}

// CopyFile writes a consistent copy of the database, as seen by the
// transaction, to the file at path.
func (t *Tx) CopyFile(path string, mode os.FileMode) error {
	return t.tx.CopyFile(path, mode)
}
