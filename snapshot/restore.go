package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentReads is the default number of chunks that a restore
// server reads concurrently.
var DefaultMaxConcurrentReads int64 = 4

// RestoreServer serves the chunks of a partition's valid snapshots to members
// that have fallen behind.
type RestoreServer struct {
	// PartitionID is the ID of the partition that owns the snapshots.
	PartitionID int32

	// Controller manages the partition's snapshots.
	Controller *Controller

	// MaxConcurrentReads is the number of chunks that are read concurrently.
	// If it is zero, DefaultMaxConcurrentReads is used.
	MaxConcurrentReads int64

	// Logger is the target for log messages from the server.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	once sync.Once
	sem  *semaphore.Weighted
}

// Serve handles restore requests received via m. It returns a function that
// stops handling requests.
func (s *RestoreServer) Serve(m cluster.Messaging) (cancel func()) {
	s.once.Do(func() {
		n := s.MaxConcurrentReads
		if n <= 0 {
			n = DefaultMaxConcurrentReads
		}
		s.sem = semaphore.NewWeighted(n)
	})

	return m.Handle(RestoreSubject(s.PartitionID), s.handle)
}

func (s *RestoreServer) handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req RestoreRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return codec.Errorf(codec.MalformedRequest, "%s", err).MarshalBinary()
	}

	var (
		snap Snapshot
		ok   bool
		err  error
	)

	if req.SnapshotID == "" {
		snap, ok, err = s.Controller.LatestSnapshot()
	} else {
		snap, ok, err = s.Controller.Snapshot(req.SnapshotID)
	}

	if err != nil {
		return invalid("%s", err)
	}
	if !ok {
		return invalid("snapshot %q does not exist", req.SnapshotID)
	}

	names, err := snap.Chunks()
	if err != nil {
		return invalid("%s", err)
	}

	if req.ChunkIndex < 0 || int(req.ChunkIndex) >= len(names) {
		return invalid(
			"snapshot %s has %d chunk(s), chunk %d does not exist",
			snap.ID(),
			len(names),
			req.ChunkIndex,
		)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	name := names[req.ChunkIndex]

	content, err := os.ReadFile(filepath.Join(snap.Dir, name))
	if err != nil {
		logging.Log(s.Logger, "unable to read chunk %q of snapshot %s: %s", name, snap.ID(), err)
		return invalid("chunk %d of snapshot %s could not be read", req.ChunkIndex, snap.ID())
	}

	return (&Chunk{
		SnapshotID:  snap.ID(),
		TotalChunks: int32(len(names)),
		ChunkName:   name,
		Checksum:    Checksum(content),
		Content:     content,
	}).MarshalBinary()
}

func invalid(f string, v ...any) ([]byte, error) {
	return (&InvalidRestoreResponse{
		Reason: fmt.Sprintf(f, v...),
	}).MarshalBinary()
}

// RestoreResult describes a restored snapshot.
type RestoreResult struct {
	Snapshot Snapshot

	// LastProcessedPosition and LastWrittenPosition are the positions
	// recorded in the snapshot's state. Processing resumes after
	// LastProcessedPosition.
	LastProcessedPosition int64
	LastWrittenPosition   int64
}

// RestoreClient fetches a snapshot from another member.
type RestoreClient struct {
	// PartitionID is the ID of the partition that owns the snapshots.
	PartitionID int32

	// Messaging sends restore requests.
	Messaging cluster.Messaging

	// Controller receives the restored snapshot.
	Controller *Controller

	// Logger is the target for log messages from the client.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

// Restore fetches every chunk of a snapshot from the given member and makes
// it a valid local snapshot.
//
// If id is empty the member's latest snapshot is fetched. If the snapshot
// already exists locally, it is not fetched again.
func (c *RestoreClient) Restore(
	ctx context.Context,
	from cluster.MemberID,
	id string,
) (RestoreResult, error) {
	if id != "" {
		if s, ok, err := c.Controller.Snapshot(id); err != nil {
			return RestoreResult{}, err
		} else if ok {
			return result(s)
		}
	}

	first, err := c.fetch(ctx, from, id, 0)
	if err != nil {
		return RestoreResult{}, err
	}

	if s, ok, err := c.Controller.Snapshot(first.SnapshotID); err != nil {
		return RestoreResult{}, err
	} else if ok {
		return result(s)
	}

	dir := c.Controller.pendingDir(first.SnapshotID + ".restore")

	if err := c.fetchAll(ctx, from, dir, first); err != nil {
		return RestoreResult{}, multierr.Append(
			fmt.Errorf("unable to restore snapshot %s: %w", first.SnapshotID, err),
			os.RemoveAll(dir),
		)
	}

	if err := c.Controller.install(first.SnapshotID, dir); err != nil {
		return RestoreResult{}, err
	}

	s, ok, err := c.Controller.Snapshot(first.SnapshotID)
	if err != nil {
		return RestoreResult{}, err
	}
	if !ok {
		return RestoreResult{}, fmt.Errorf("restored snapshot %s is missing", first.SnapshotID)
	}

	logging.Log(c.Logger, "restored snapshot %s from %s", s.ID(), from)

	return result(s)
}

// fetchAll writes the first chunk and fetches the remaining chunks of a
// snapshot into dir.
func (c *RestoreClient) fetchAll(
	ctx context.Context,
	from cluster.MemberID,
	dir string,
	first *Chunk,
) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	if err := writeChunk(dir, first); err != nil {
		return err
	}

	for i := int32(1); i < first.TotalChunks; i++ {
		chunk, err := c.fetch(ctx, from, first.SnapshotID, i)
		if err != nil {
			return err
		}

		if chunk.SnapshotID != first.SnapshotID || chunk.TotalChunks != first.TotalChunks {
			return fmt.Errorf("chunk %d does not belong to the snapshot", i)
		}

		if err := writeChunk(dir, chunk); err != nil {
			return err
		}
	}

	return nil
}

// fetch requests a single chunk and verifies its checksum.
func (c *RestoreClient) fetch(
	ctx context.Context,
	from cluster.MemberID,
	id string,
	index int32,
) (*Chunk, error) {
	req, err := (&RestoreRequest{
		SnapshotID: id,
		ChunkIndex: index,
	}).MarshalBinary()
	if err != nil {
		return nil, err
	}

	res, err := c.Messaging.Request(ctx, from, RestoreSubject(c.PartitionID), req)
	if err != nil {
		return nil, err
	}

	var ir InvalidRestoreResponse
	if ir.TryWrap(res) {
		if err := ir.UnmarshalBinary(res); err != nil {
			return nil, err
		}
		return nil, &ir
	}

	var er codec.ErrorResponse
	if er.TryWrap(res) {
		if err := er.UnmarshalBinary(res); err != nil {
			return nil, err
		}
		return nil, &er
	}

	chunk := &Chunk{}
	if err := chunk.UnmarshalBinary(res); err != nil {
		return nil, err
	}

	if err := chunk.Verify(); err != nil {
		return nil, err
	}

	return chunk, nil
}

// result reads the recovery positions from the state database of s.
func result(s Snapshot) (RestoreResult, error) {
	r := RestoreResult{
		Snapshot:              s,
		LastProcessedPosition: -1,
		LastWrittenPosition:   -1,
	}

	path := filepath.Join(s.Dir, StateFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return r, nil
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return RestoreResult{}, err
	}
	defer db.Close()

	err = state.New(db).View(func(tx *state.Tx) {
		r.LastProcessedPosition = tx.LastProcessedPosition()
		r.LastWrittenPosition = tx.LastWrittenPosition()
	})

	return r, err
}
