// Package snapshot moves a partition's durable snapshot forward, and
// transfers snapshots between the members of a cluster.
//
// A snapshot is a directory containing a consistent copy of the partition's
// state. Its name is the snapshot's lower bound position: the state contains
// the effects of every record up to and including that position, and possibly
// some records after it. The files in the directory are its chunks, ordered
// by name.
package snapshot

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// StateFileName is the name of the file within a snapshot that contains the
// copy of the state database.
const StateFileName = "state.db"

var (
	// ErrNoSnapshot is returned when a snapshot is requested but no valid
	// snapshot exists.
	ErrNoSnapshot = errors.New("no valid snapshot exists")

	// ErrChecksumMismatch is returned when the content of a chunk does not
	// match its checksum.
	ErrChecksumMismatch = errors.New("chunk checksum mismatch")
)

// Snapshot is a valid snapshot stored on disk.
type Snapshot struct {
	// Position is the snapshot's lower bound position.
	Position int64

	// Dir is the directory that contains the snapshot's chunks.
	Dir string
}

// ID returns the identifier of the snapshot, which is also the name of its
// directory.
func (s Snapshot) ID() string {
	return FormatID(s.Position)
}

// Chunks returns the names of the snapshot's chunks in order.
func (s Snapshot) Chunks() ([]string, error) {
	return listChunks(s.Dir)
}

// FormatID returns the identifier of the snapshot at the given position.
func FormatID(position int64) string {
	return fmt.Sprintf("%020d", position)
}

// ParseID returns the position of the snapshot with the given identifier.
func ParseID(id string) (int64, error) {
	p, err := strconv.ParseInt(id, 10, 64)
	if err != nil || p < 0 {
		return 0, fmt.Errorf("%q is not a valid snapshot ID", id)
	}
	return p, nil
}

// Checksum returns the checksum of a chunk's content.
func Checksum(content []byte) uint32 {
	return crc32.ChecksumIEEE(content)
}

// listChunks returns the names of the regular files in dir, in sorted order.
func listChunks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	slices.Sort(names)

	return names, nil
}

// listSnapshots returns the snapshots in dir, ordered by position.
func listSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snapshots []Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		p, err := ParseID(e.Name())
		if err != nil {
			continue
		}

		snapshots = append(snapshots, Snapshot{
			Position: p,
			Dir:      filepath.Join(dir, e.Name()),
		})
	}

	slices.SortFunc(snapshots, func(a, b Snapshot) int {
		switch {
		case a.Position < b.Position:
			return -1
		case a.Position > b.Position:
			return 1
		default:
			return 0
		}
	})

	return snapshots, nil
}
