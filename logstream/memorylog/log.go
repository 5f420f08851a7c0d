// Package memorylog provides an in-memory implementation of logstream.Log.
package memorylog

import (
	"context"
	"sync"

	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
)

// Log is an in-memory log.
//
// Records are stored in their binary representation, so every read returns a
// fresh copy.
type Log struct {
	// Partition is the ID of the partition that owns the log.
	Partition int32

	// ManualCommit, if true, prevents the commit position from advancing when
	// records are appended. The commit position must then be advanced by
	// calling Commit().
	ManualCommit bool

	ready     logstream.Signal
	listeners logstream.CommitListeners

	m       sync.RWMutex
	entries [][]byte
	commit  int64
}

// PartitionID returns the ID of the partition that owns the log.
func (l *Log) PartitionID() int32 {
	return l.Partition
}

// Append assigns positions to the given records and appends them to the log.
func (l *Log) Append(ctx context.Context, records ...*protocol.Record) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	l.m.Lock()

	pos := int64(len(l.entries))
	batch := make([][]byte, 0, len(records))

	for _, r := range records {
		pos++
		r.Position = pos

		data, err := r.MarshalBinary()
		if err != nil {
			l.m.Unlock()
			return 0, err
		}

		batch = append(batch, data)
	}

	l.entries = append(l.entries, batch...)
	l.m.Unlock()

	l.ready.Broadcast()

	if !l.ManualCommit {
		l.Commit(pos)
	}

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
		offset: after,
		closed: make(chan struct{}),
	}, nil
}

// LastPosition returns the position of the last record in the log.
func (l *Log) LastPosition() int64 {
	l.m.RLock()
	defer l.m.RUnlock()

	return int64(len(l.entries))
}

// CommitPosition returns the current commit position.
func (l *Log) CommitPosition() int64 {
	l.m.RLock()
	defer l.m.RUnlock()

	return l.commit
}

// Commit advances the commit position to p.
//
// It has no effect if p is not greater than the current commit position.
func (l *Log) Commit(p int64) {
	l.m.Lock()
	if p <= l.commit {
		l.m.Unlock()
		return
	}
	l.commit = p
	l.m.Unlock()

	l.listeners.Notify(p)
}

// OnCommit registers fn to be called when the commit position advances.
func (l *Log) OnCommit(fn func(int64)) func() {
	return l.listeners.Add(fn)
}

// Records returns all of the records in the log.
func (l *Log) Records() []*protocol.Record {
	l.m.RLock()
	defer l.m.RUnlock()

	records := make([]*protocol.Record, len(l.entries))
	for i, data := range l.entries {
		r, err := protocol.UnmarshalRecord(data)
		if err != nil {
			panic(err)
		}
		records[i] = r
	}

	return records
}

func (l *Log) get(offset int64) ([]byte, <-chan struct{}) {
	ready := l.ready.Wait()

	l.m.RLock()
	defer l.m.RUnlock()

	if offset < int64(len(l.entries)) {
		return l.entries[offset], nil
	}

	return nil, ready
}
