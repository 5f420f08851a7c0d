package snapshot

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor/internal/actor"
	"github.com/dogmatiq/conductor/internal/metrics"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/dodeca/logging"
	"k8s.io/utils/clock"
)

// DefaultRate is the default interval at which the director attempts to take
// a snapshot.
var DefaultRate = 15 * time.Minute

// Positions reports the progress of a stream processor.
type Positions interface {
	// LastProcessedPosition returns the position of the last record that
	// was processed and committed to the state.
	LastProcessedPosition(ctx context.Context) (int64, error)

	// LastWrittenPosition returns the position of the last record that the
	// processor appended to the log.
	LastWrittenPosition(ctx context.Context) (int64, error)
}

// Snapshotter takes and publishes snapshots. It is implemented by
// *Controller.
type Snapshotter interface {
	TakeTempSnapshot(position int64) error
	MoveValidSnapshot(position int64) error
	EnforceRetentionPolicy() error
	ReplicateLatestSnapshot() error
	TakeSnapshot(position int64) error
}

// Director periodically takes snapshots of a partition's state without
// blocking its stream processor.
//
// A snapshot is first taken as a pending snapshot. It becomes valid only once
// the log has committed every record that the processor had written when the
// snapshot was taken, so that the log suffix needed to resume processing from
// the snapshot is never lost.
type Director struct {
	// PartitionID is the ID of the partition, used to label metrics.
	PartitionID int32

	// Processor reports the positions of the partition's stream processor.
	Processor Positions

	// Snapshots takes and publishes the snapshots.
	Snapshots Snapshotter

	// Log is the partition's log. Only its commit position is used.
	Log logstream.Log

	// LastValidPosition is the position of the latest valid snapshot when the
	// director starts.
	LastValidPosition int64

	// Rate is the interval at which snapshots are attempted. If it is zero,
	// DefaultRate is used.
	Rate time.Duration

	// ShutdownTimeout bounds the final snapshot taken when the director
	// stops. If it is zero, 10 seconds is used.
	ShutdownTimeout time.Duration

	// Clock schedules the snapshot attempts. If it is nil, clock.RealClock is
	// used.
	Clock clock.WithTickerAndDelayedExecution

	// Logger is the target for log messages from the director.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	actor        actor.Actor
	lastValid    int64
	pending      bool
	lowerBound   int64
	lastWritten  int64
	cancelCommit func()
}

// Run takes snapshots until ctx is canceled.
//
// Before it returns, it takes a final snapshot if the processor has made
// progress since the last valid snapshot and every record it has written is
// committed.
func (d *Director) Run(ctx context.Context) error {
	d.actor.Clock = d.clock()
	d.lastValid = d.LastValidPosition

	rate := d.Rate
	if rate == 0 {
		rate = DefaultRate
	}

	cancelTick := d.actor.RunAtFixedRate(rate, func() {
		d.tick(ctx)
	})

	err := d.actor.Run(ctx)

	cancelTick()
	d.stopWaiting()
	d.shutdown()

	return err
}

// tick attempts to take a pending snapshot.
func (d *Director) tick(ctx context.Context) {
	if d.pending {
		return
	}

	processed, err := d.Processor.LastProcessedPosition(ctx)
	if err != nil {
		logging.Log(d.Logger, "unable to determine the last processed position: %s", err)
		return
	}

	if processed <= d.lastValid {
		return
	}

	if err := d.Snapshots.TakeTempSnapshot(processed); err != nil {
		logging.Log(d.Logger, "unable to take pending snapshot %d: %s", processed, err)
		return
	}

	written, err := d.Processor.LastWrittenPosition(ctx)
	if err != nil {
		logging.Log(d.Logger, "unable to determine the last written position: %s", err)
		return
	}

	d.pending = true
	d.lowerBound = processed
	d.lastWritten = written

	logging.Debug(
		d.Logger,
		"took pending snapshot %d, waiting for position %d to be committed",
		processed,
		written,
	)

	d.cancelCommit = d.Log.OnCommit(func(pos int64) {
		d.actor.Submit(func() {
			d.commit(pos)
		})
	})

	d.commit(d.Log.CommitPosition())
}

// commit makes the pending snapshot valid if pos is at or beyond the last
// written position.
func (d *Director) commit(pos int64) {
	if !d.pending || pos < d.lastWritten {
		return
	}

	d.stopWaiting()
	d.pending = false

	if err := d.Snapshots.MoveValidSnapshot(d.lowerBound); err != nil {
		logging.Log(d.Logger, "unable to make snapshot %d valid: %s", d.lowerBound, err)
		return
	}

	d.lastValid = d.lowerBound
	d.observe()

	if err := d.Snapshots.EnforceRetentionPolicy(); err != nil {
		logging.Log(d.Logger, "unable to delete old snapshots: %s", err)
	}

	if err := d.Snapshots.ReplicateLatestSnapshot(); err != nil {
		logging.Log(d.Logger, "unable to replicate snapshot %d: %s", d.lowerBound, err)
	}
}

// shutdown takes a final snapshot if it is safe to do so.
func (d *Director) shutdown() {
	timeout := d.ShutdownTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	processed, err := d.Processor.LastProcessedPosition(ctx)
	if err != nil {
		return
	}

	written, err := d.Processor.LastWrittenPosition(ctx)
	if err != nil {
		return
	}

	if d.Log.CommitPosition() < written || processed <= d.lastValid {
		return
	}

	if err := d.Snapshots.TakeSnapshot(processed); err != nil {
		logging.Log(d.Logger, "unable to take final snapshot %d: %s", processed, err)
		return
	}

	d.lastValid = processed
	d.observe()
}

func (d *Director) observe() {
	partition := metrics.Partition(d.PartitionID)
	metrics.SnapshotsTaken.WithLabelValues(partition).Inc()
	metrics.SnapshotPosition.WithLabelValues(partition).Set(float64(d.lastValid))
}

func (d *Director) stopWaiting() {
	if d.cancelCommit != nil {
		d.cancelCommit()
		d.cancelCommit = nil
	}
}

func (d *Director) clock() clock.WithTickerAndDelayedExecution {
	if d.Clock != nil {
		return d.Clock
	}
	return clock.RealClock{}
}
