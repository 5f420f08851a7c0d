package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
)

// DefaultMaxSnapshots is the default number of valid snapshots that are kept.
var DefaultMaxSnapshots = 3

// Controller manages the snapshots of a single partition.
//
// New snapshots are first written to a pending directory. They become valid
// when they are moved into the snapshots directory.
type Controller struct {
	// Store is the partition's state.
	Store *state.Store

	// Dir is the directory that contains the partition's snapshots.
	Dir string

	// MaxSnapshots is the number of valid snapshots to keep. If it is zero,
	// DefaultMaxSnapshots is used.
	MaxSnapshots int

	// Replicator publishes new snapshots to the partition's followers. If it
	// is nil, snapshots are not replicated.
	Replicator *Replicator

	// Logger is the target for log messages from the controller.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// TakeTempSnapshot writes a pending snapshot with the given lower bound
// position.
func (c *Controller) TakeTempSnapshot(position int64) error {
	dir := c.pendingDir(FormatID(position))

	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	var cerr error
	if err := c.Store.View(func(tx *state.Tx) {
		cerr = tx.CopyFile(filepath.Join(dir, StateFileName), 0600)
	}); err != nil {
		return err
	}

	if cerr != nil {
		return fmt.Errorf("unable to copy state to pending snapshot %d: %w", position, cerr)
	}

	return nil
}

// MoveValidSnapshot makes the pending snapshot with the given position valid.
//
// Any pending snapshots at or below the position are discarded.
func (c *Controller) MoveValidSnapshot(position int64) error {
	id := FormatID(position)

	if err := c.install(id, c.pendingDir(id)); err != nil {
		return err
	}

	pending, err := listSnapshots(filepath.Join(c.Dir, "pending"))
	if err != nil {
		return err
	}

	for _, s := range pending {
		if s.Position <= position {
			if err := os.RemoveAll(s.Dir); err != nil {
				return err
			}
		}
	}

	logging.Log(c.Logger, "snapshot %d is valid", position)

	return nil
}

// TakeSnapshot writes a valid snapshot with the given lower bound position.
func (c *Controller) TakeSnapshot(position int64) error {
	if err := c.TakeTempSnapshot(position); err != nil {
		return err
	}

	if err := c.MoveValidSnapshot(position); err != nil {
		return err
	}

	return c.EnforceRetentionPolicy()
}

// EnforceRetentionPolicy deletes the oldest valid snapshots, such that no
// more than MaxSnapshots remain.
func (c *Controller) EnforceRetentionPolicy() error {
	snapshots, err := c.Snapshots()
	if err != nil {
		return err
	}

	max := c.MaxSnapshots
	if max <= 0 {
		max = DefaultMaxSnapshots
	}

	for len(snapshots) > max {
		if err := os.RemoveAll(snapshots[0].Dir); err != nil {
			return err
		}

		logging.Debug(c.Logger, "deleted snapshot %d", snapshots[0].Position)
		snapshots = snapshots[1:]
	}

	return nil
}

// ReplicateLatestSnapshot publishes the latest valid snapshot to the
// partition's followers.
func (c *Controller) ReplicateLatestSnapshot() error {
	if c.Replicator == nil {
		return nil
	}

	s, ok, err := c.LatestSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSnapshot
	}

	return c.Replicator.Replicate(context.Background(), s)
}

// Snapshots returns the valid snapshots, ordered by position.
func (c *Controller) Snapshots() ([]Snapshot, error) {
	return listSnapshots(c.validDir())
}

// LatestSnapshot returns the valid snapshot with the highest position.
func (c *Controller) LatestSnapshot() (Snapshot, bool, error) {
	snapshots, err := c.Snapshots()
	if err != nil || len(snapshots) == 0 {
		return Snapshot{}, false, err
	}

	return snapshots[len(snapshots)-1], true, nil
}

// Snapshot returns the valid snapshot with the given ID.
func (c *Controller) Snapshot(id string) (Snapshot, bool, error) {
	p, err := ParseID(id)
	if err != nil {
		return Snapshot{}, false, err
	}

	dir := filepath.Join(c.validDir(), FormatID(p))

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	return Snapshot{p, dir}, true, nil
}

// Exists returns true if a valid snapshot with the given ID exists.
func (c *Controller) Exists(id string) bool {
	_, ok, err := c.Snapshot(id)
	return ok && err == nil
}

// Recover copies the state database of the latest valid snapshot to path,
// unless a file already exists at path.
//
// It returns false if there was nothing to recover.
func (c *Controller) Recover(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}

	s, ok, err := c.LatestSnapshot()
	if err != nil || !ok {
		return false, err
	}

	if err := copyFile(filepath.Join(s.Dir, StateFileName), path); err != nil {
		return false, fmt.Errorf("unable to recover from snapshot %d: %w", s.Position, err)
	}

	logging.Log(c.Logger, "recovered state from snapshot %d", s.Position)

	return true, nil
}

// install moves the snapshot in dir into the valid snapshots directory.
//
// It has no effect beyond removing dir if a valid snapshot with the same ID
// already exists.
func (c *Controller) install(id string, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("unable to install snapshot %s: %w", id, err)
	}

	if c.Exists(id) {
		return os.RemoveAll(dir)
	}

	if err := os.MkdirAll(c.validDir(), 0700); err != nil {
		return err
	}

	return os.Rename(dir, filepath.Join(c.validDir(), id))
}

func (c *Controller) validDir() string {
	return filepath.Join(c.Dir, "snapshots")
}

func (c *Controller) pendingDir(name string) string {
	return filepath.Join(c.Dir, "pending", name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}

	return out.Close()
}
