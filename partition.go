package conductor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/deployment"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/internal/x/loggingx"
	"github.com/dogmatiq/conductor/job"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/logstream/boltlog"
	"github.com/dogmatiq/conductor/logstream/memorylog"
	"github.com/dogmatiq/conductor/message"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/snapshot"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/conductor/workflow"
	"github.com/dogmatiq/dodeca/logging"
	"go.etcd.io/bbolt"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// partition is a partition led by the local member.
type partition struct {
	ID          int32
	Log         logstream.Log
	Store       *state.Store
	Processor   *processor.StreamProcessor
	Distributor *deployment.Distributor
	Snapshots   *snapshot.Controller
	Director    *snapshot.Director
	Restore     *snapshot.RestoreServer
	Logger      logging.Logger

	logDB *bbolt.DB
}

// partitionDirectory returns the directory that holds the files of a
// partition.
func partitionDirectory(dir string, id int32) string {
	return filepath.Join(dir, fmt.Sprintf("partition-%d", id))
}

// openPartition opens the log and state of a partition led by the local
// member, recovering the state from the latest snapshot if there is no state
// on disk.
func (e *Engine) openPartition(
	ctx context.Context,
	dir string,
	id int32,
	m cluster.Messaging,
	events cluster.EventService,
	topology cluster.Topology,
) (_ *partition, err error) {
	dir = partitionDirectory(dir, id)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	p := &partition{
		ID:     id,
		Logger: loggingx.WithPrefix(e.opts.Logger, "[partition %d] ", id),
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, p.close())
		}
	}()

	p.Snapshots = &snapshot.Controller{
		Dir:          filepath.Join(dir, "snapshots"),
		MaxSnapshots: e.opts.MaxSnapshots,
		Replicator: &snapshot.Replicator{
			PartitionID: id,
			Events:      events,
		},
		Logger: p.Logger,
	}

	statePath := filepath.Join(dir, snapshot.StateFileName)

	if ok, err := p.Snapshots.Recover(statePath); err != nil {
		return nil, fmt.Errorf("unable to recover state of partition %d: %w", id, err)
	} else if ok {
		logging.LogString(p.Logger, "recovered state from the latest snapshot")
	}

	p.Store, err = state.Open(ctx, statePath)
	if err != nil {
		return nil, fmt.Errorf("unable to open state of partition %d: %w", id, err)
	}
	p.Snapshots.Store = p.Store

	if e.opts.MemoryStorage {
		p.Log = &memorylog.Log{Partition: id}
	} else {
		p.logDB, err = bboltx.Open(ctx, filepath.Join(dir, "log.db"))
		if err != nil {
			return nil, fmt.Errorf("unable to open log of partition %d: %w", id, err)
		}

		p.Log, err = boltlog.Open(p.logDB, id)
		if err != nil {
			return nil, fmt.Errorf("unable to open log of partition %d: %w", id, err)
		}
	}

	sender := &cluster.CommandSender{
		Messaging: m,
		Topology:  topology,
	}

	reg := &processor.Registry{}
	var tasks []processor.Task

	tasks = append(tasks, workflow.Register(reg, workflow.Config{
		Sender:             sender,
		TimerCheckInterval: e.opts.TimerCheckInterval,
	})...)

	tasks = append(tasks, job.Register(reg, job.Config{
		TimeoutCheckInterval: e.opts.JobTimeoutCheckInterval,
	})...)

	tasks = append(tasks, message.Register(reg, message.Config{
		Sender:              sender,
		SubscriptionTimeout: e.opts.SubscriptionTimeout,
	})...)

	if id == protocol.DeploymentPartitionID {
		p.Distributor = &deployment.Distributor{
			Log:       p.Log,
			Messaging: m,
			Events:    events,
			Topology:  topology,
			Clock:     e.opts.Clock,
			Logger:    p.Logger,
		}
	}

	deployment.Register(reg, deployment.Config{
		Events:      events,
		Distributor: p.Distributor,
	})

	p.Processor = &processor.StreamProcessor{
		PartitionID:     id,
		PartitionCount:  e.opts.PartitionCount,
		Log:             p.Log,
		Store:           p.Store,
		Registry:        reg,
		Tasks:           tasks,
		Responses:       &e.responses,
		Clock:           e.opts.Clock,
		BackoffStrategy: e.opts.Backoff,
		Logger:          p.Logger,
	}

	var lastValid int64
	if s, ok, err := p.Snapshots.LatestSnapshot(); err != nil {
		return nil, err
	} else if ok {
		lastValid = s.Position
	}

	p.Director = &snapshot.Director{
		PartitionID:       id,
		Processor:         p.Processor,
		Snapshots:         p.Snapshots,
		Log:               p.Log,
		LastValidPosition: lastValid,
		Rate:              e.opts.SnapshotPeriod,
		Clock:             e.opts.Clock,
		Logger:            p.Logger,
	}

	p.Restore = &snapshot.RestoreServer{
		PartitionID: id,
		Controller:  p.Snapshots,
		Logger:      p.Logger,
	}

	return p, nil
}

// run processes the partition's records until ctx is canceled or an error
// occurs.
//
// The stream processor keeps running after ctx is canceled until the snapshot
// director has taken its final snapshot.
func (p *partition) run(ctx context.Context, partitionCount int32) error {
	if p.Distributor != nil {
		if err := p.Distributor.Resume(p.Store); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	pctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()

	g.Go(func() error {
		err := p.Processor.Run(pctx)
		if pctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("stream processor stopped: %w", err)
	})

	g.Go(func() error {
		defer stop()
		return p.Director.Run(ctx)
	})

	if p.Distributor != nil {
		g.Go(func() error {
			return p.Distributor.Run(ctx)
		})
	}

	logging.Log(
		p.Logger,
		"leading partition %d of %d",
		p.ID,
		partitionCount,
	)

	return g.Wait()
}

// close closes the partition's log and state.
func (p *partition) close() error {
	var err error

	if p.Store != nil {
		err = multierr.Append(err, p.Store.Close())
	}

	if p.logDB != nil {
		err = multierr.Append(err, p.logDB.Close())
	}

	return err
}
