package bboltx

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// Open opens the database at path, creating it if it does not exist.
//
// It waits for the file lock until ctx is canceled or its deadline passes.
func Open(ctx context.Context, path string) (*bbolt.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := *bbolt.DefaultOptions
	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		opts.Timeout = timeout
	}

	db, err := bbolt.Open(path, 0600, &opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, context.DeadlineExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}

	return db, nil
}

// View runs fn within a read-only transaction.
//
// A failure reported by Must() within fn is returned as an error.
func View(db *bbolt.DB, fn func(tx *bbolt.Tx)) (err error) {
	defer Recover(&err)

	return db.View(func(tx *bbolt.Tx) error {
		fn(tx)
		return nil
	})
}

// Update runs fn within a read-write transaction.
//
// A failure reported by Must() within fn is returned as an error, and the
// transaction is rolled back.
func Update(db *bbolt.DB, fn func(tx *bbolt.Tx)) (err error) {
	defer Recover(&err)

	return db.Update(func(tx *bbolt.Tx) error {
		fn(tx)
		return nil
	})
}
