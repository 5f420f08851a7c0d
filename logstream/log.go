// Package logstream defines the interface to a partition's append-only log of
// records.
package logstream

import (
	"context"
	"errors"

	"github.com/dogmatiq/conductor/protocol"
)

// ErrCursorClosed is returned by Cursor.Next() if the cursor is closed before
// or during the call.
var ErrCursorClosed = errors.New("cursor is closed")

// Log is an append-only sequence of records belonging to a single partition.
//
// Positions are assigned by the log when records are appended. They begin at 1
// and increase monotonically.
type Log interface {
	// PartitionID returns the ID of the partition that owns the log.
	PartitionID() int32

	// Append assigns positions to the given records and appends them to the
	// log as one contiguous batch.
	//
	// It returns the position of the last record in the batch.
	Append(ctx context.Context, records ...*protocol.Record) (int64, error)

	// Open returns a cursor that reads the records with positions strictly
	// after the given position.
	Open(ctx context.Context, after int64) (Cursor, error)

	// LastPosition returns the position of the last record appended to the
	// log, or zero if the log is empty.
	LastPosition() int64

	// CommitPosition returns the highest position that is known to be
	// durable.
	CommitPosition() int64

	// OnCommit registers fn to be called whenever the commit position
	// advances. It returns a function that removes the registration.
	OnCommit(fn func(position int64)) (cancel func())
}

// Cursor reads records from a log in order.
type Cursor interface {
	// Next returns the next record in the log.
	//
	// If the end of the log is reached it blocks until a record is appended
	// or ctx is canceled.
	Next(ctx context.Context) (*protocol.Record, error)

	// Close discards the cursor.
	Close() error
}
