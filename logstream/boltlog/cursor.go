package boltlog

import (
	"context"
	"sync"

	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
)

// cursor is a Cursor that reads records from a BoltDB log.
type cursor struct {
	log  *Log
	next int64

	once   sync.Once
	closed chan struct{}
}

// Next returns the next record in the log.
func (c *cursor) Next(ctx context.Context) (*protocol.Record, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, logstream.ErrCursorClosed
		default:
		}

		data, ready, err := c.log.read(c.next)
		if err != nil {
			return nil, err
		}

		if data != nil {
			c.next++
			return protocol.UnmarshalRecord(data)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, logstream.ErrCursorClosed
		case <-ready:
		}
	}
}

// Close discards the cursor.
func (c *cursor) Close() error {
	err := logstream.ErrCursorClosed

	c.once.Do(func() {
		err = nil
		close(c.closed)
	})

	return err
}
