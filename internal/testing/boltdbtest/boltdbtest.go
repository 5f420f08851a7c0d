// Package boltdbtest provides BoltDB databases for use in tests.
package boltdbtest

import (
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// Open opens a BoltDB database using a temporary file.
//
// The returned function must be used to close the database, instead of
// DB.Close().
func Open() (*bbolt.DB, func()) {
	dir, remove := TempDir()
	filename := filepath.Join(dir, "test.boltdb")

	db, err := bbolt.Open(filename, 0600, nil)
	if err != nil {
		remove()
		panic(err)
	}

	return db, func() {
		db.Close()
		remove()
	}
}

// TempDir creates a temporary directory.
//
// It returns a function that removes the directory and its contents.
func TempDir() (string, func()) {
	dir, err := os.MkdirTemp("", "conductor-*")
	if err != nil {
		panic(err)
	}

	return dir, func() {
		os.RemoveAll(dir)
	}
}
