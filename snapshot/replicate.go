package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/dodeca/logging"
)

// Replicator publishes the chunks of a partition's snapshots to the
// partition's followers.
type Replicator struct {
	// PartitionID is the ID of the partition that owns the snapshots.
	PartitionID int32

	// Events is the service used to publish the chunks.
	Events cluster.EventService
}

// Replicate publishes every chunk of s.
func (r *Replicator) Replicate(ctx context.Context, s Snapshot) error {
	names, err := s.Chunks()
	if err != nil {
		return err
	}

	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(s.Dir, name))
		if err != nil {
			return err
		}

		c := &Chunk{
			SnapshotID:  s.ID(),
			TotalChunks: int32(len(names)),
			ChunkName:   name,
			Checksum:    Checksum(content),
			Content:     content,
		}

		data, err := c.MarshalBinary()
		if err != nil {
			return err
		}

		if err := r.Events.Publish(ctx, ReplicationTopic(r.PartitionID), data); err != nil {
			return fmt.Errorf("unable to replicate snapshot %s: %w", s.ID(), err)
		}
	}

	return nil
}

// Receiver assembles the snapshots replicated by the leader of a partition.
//
// Chunks are written to a pending directory as they arrive. The snapshot
// becomes valid once all of its chunks have been received.
type Receiver struct {
	// PartitionID is the ID of the partition that owns the snapshots.
	PartitionID int32

	// Events is the service on which the chunks are received.
	Events cluster.EventService

	// Controller manages the local copies of the partition's snapshots.
	Controller *Controller

	// Logger is the target for log messages from the receiver.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	m        sync.Mutex
	received map[string]map[string]struct{}
}

// Start begins receiving chunks. It returns a function that stops receiving
// chunks.
func (r *Receiver) Start() (cancel func()) {
	return r.Events.Subscribe(
		ReplicationTopic(r.PartitionID),
		func(payload []byte) {
			var c Chunk
			if !c.TryWrap(payload) {
				return
			}

			if err := c.UnmarshalBinary(payload); err != nil {
				logging.Log(r.Logger, "ignored malformed snapshot chunk: %s", err)
				return
			}

			if err := r.receive(&c); err != nil {
				logging.Log(
					r.Logger,
					"unable to receive chunk %q of snapshot %s: %s",
					c.ChunkName,
					c.SnapshotID,
					err,
				)
			}
		},
	)
}

func (r *Receiver) receive(c *Chunk) error {
	r.m.Lock()
	defer r.m.Unlock()

	if r.Controller.Exists(c.SnapshotID) {
		return nil
	}

	dir := r.Controller.pendingDir(c.SnapshotID + ".replicated")

	if err := c.Verify(); err != nil {
		delete(r.received, c.SnapshotID)
		os.RemoveAll(dir)
		return err
	}

	if err := writeChunk(dir, c); err != nil {
		return err
	}

	if r.received == nil {
		r.received = map[string]map[string]struct{}{}
	}

	chunks := r.received[c.SnapshotID]
	if chunks == nil {
		chunks = map[string]struct{}{}
		r.received[c.SnapshotID] = chunks
	}
	chunks[c.ChunkName] = struct{}{}

	if len(chunks) < int(c.TotalChunks) {
		return nil
	}

	delete(r.received, c.SnapshotID)

	if err := r.Controller.install(c.SnapshotID, dir); err != nil {
		return err
	}

	logging.Log(r.Logger, "received replicated snapshot %s", c.SnapshotID)

	return r.Controller.EnforceRetentionPolicy()
}

// writeChunk writes the content of a chunk to a file in dir.
func writeChunk(dir string, c *Chunk) error {
	if c.ChunkName != filepath.Base(c.ChunkName) {
		return fmt.Errorf("%q is not a valid chunk name", c.ChunkName)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, c.ChunkName), c.Content, 0600)
}
