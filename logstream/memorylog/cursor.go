package memorylog

import (
	"context"
	"sync"

	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
)

// cursor is a Cursor that reads records from an in-memory log.
type cursor struct {
	log    *Log
	offset int64

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

		data, ready := c.log.get(c.offset)

		if data != nil {
			c.offset++
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
