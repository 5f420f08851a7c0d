// Package boltlog provides a durable, single-node implementation of
// logstream.Log backed by a BoltDB database.
package boltlog

import (
	"context"
	"sync/atomic"

	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"go.etcd.io/bbolt"
)

var (
	// recordsBucketKey is the key of the bucket that contains the encoded
	// records, keyed by position.
	recordsBucketKey = []byte("records")
)

// Log is a logstream.Log that stores records in a BoltDB database.
//
// Records are durable as soon as Append() returns, so the commit position is
// always equal to the last position.
type Log struct {
	db        *bbolt.DB
	partition int32

	last      atomic.Int64
	ready     logstream.Signal
	listeners logstream.CommitListeners
}

// Open opens the log stored in db.
func Open(db *bbolt.DB, partitionID int32) (*Log, error) {
	l := &Log{
		db:        db,
		partition: partitionID,
	}

	err := bboltx.View(db, func(tx *bbolt.Tx) {
		if b := bboltx.Bucket(tx, recordsBucketKey); b != nil {
			if k, _ := b.Cursor().Last(); k != nil {
				l.last.Store(int64(bboltx.ParseUint64Key(k)))
			}
		}
	})

	return l, err
}

// PartitionID returns the ID of the partition that owns the log.
func (l *Log) PartitionID() int32 {
	return l.partition
}

// Append assigns positions to the given records and appends them to the log.
func (l *Log) Append(ctx context.Context, records ...*protocol.Record) (pos int64, err error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	err = bboltx.Update(l.db, func(tx *bbolt.Tx) {
		b := bboltx.CreateBucketIfNotExists(tx, recordsBucketKey)

		pos = 0
		if k, _ := b.Cursor().Last(); k != nil {
			pos = int64(bboltx.ParseUint64Key(k))
		}

		for _, r := range records {
			pos++
			r.Position = pos

			data, err := r.MarshalBinary()
			bboltx.Must(err)

			bboltx.Put(b, bboltx.Uint64Key(uint64(pos)), data)
		}
	})
	if err != nil {
		return 0, err
	}

	for {
		last := l.last.Load()
		if last >= pos || l.last.CompareAndSwap(last, pos) {
			break
		}
	}

	l.ready.Broadcast()
	l.listeners.Notify(pos)

	return pos, nil
}

// Open returns a cursor that reads records after the given position.
func (l *Log) Open(ctx context.Context, after int64) (logstream.Cursor, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if after < 0 {
		after = 0
	}

	return &cursor{
		log:    l,
		next:   after + 1,
		closed: make(chan struct{}),
	}, nil
}

// LastPosition returns the position of the last record in the log.
func (l *Log) LastPosition() int64 {
	return l.last.Load()
}

// CommitPosition returns the position of the last record in the log.
func (l *Log) CommitPosition() int64 {
	return l.last.Load()
}

// OnCommit registers fn to be called when the commit position advances.
func (l *Log) OnCommit(fn func(int64)) func() {
	return l.listeners.Add(fn)
}

// read returns the encoded record at position p, or a channel that is closed
// when more records may be available.
func (l *Log) read(p int64) ([]byte, <-chan struct{}, error) {
	ready := l.ready.Wait()

	if p > l.last.Load() {
		return nil, ready, nil
	}

	var data []byte
	err := bboltx.View(l.db, func(tx *bbolt.Tx) {
		data = bboltx.Get(
			bboltx.Bucket(tx, recordsBucketKey),
			bboltx.Uint64Key(uint64(p)),
		)
	})

	return data, ready, err
}
