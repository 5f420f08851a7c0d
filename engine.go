// Package conductor is a partitioned workflow engine.
//
// An Engine hosts the partitions of a cluster that are led by the local
// member. Each partition has its own log, state and stream processor. Clients
// submit commands to the partitions via a Client.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/cluster/grpccluster"
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/deployment"
	"github.com/dogmatiq/conductor/internal/x/loggingx"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/snapshot"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Engine hosts the partitions of a cluster that are led by the local member.
type Engine struct {
	opts      *engineOptions
	responses responseRouter

	once       sync.Once
	ready      chan struct{}
	partitions map[int32]*partition
	topology   *cluster.StaticTopology
}

// New returns a new engine.
func New(options ...EngineOption) *Engine {
	opts := resolveEngineOptions(options...)

	return &Engine{
		opts:  opts,
		ready: make(chan struct{}),
		topology: &cluster.StaticTopology{
			Local:   opts.NodeID,
			Leaders: assignLeaders(opts.members(), opts.PartitionCount),
		},
	}
}

// NodeID returns the ID of the engine within the cluster.
func (e *Engine) NodeID() string {
	return string(e.opts.NodeID)
}

// PartitionCount returns the number of partitions in the cluster.
func (e *Engine) PartitionCount() int32 {
	return e.opts.PartitionCount
}

// Leads returns true if the engine leads the given partition.
func (e *Engine) Leads(partitionID int32) bool {
	id, ok := e.topology.Leader(partitionID)
	return ok && id == e.opts.NodeID
}

// Run hosts the engine's partitions until ctx is canceled or an error occurs.
//
// Run must not be called more than once.
func (e *Engine) Run(ctx context.Context) (err error) {
	dir, cleanup, err := e.dataDirectory()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cleanup())
	}()

	var (
		m         cluster.Messaging
		events    cluster.EventService
		transport *grpccluster.Transport
	)

	switch {
	case e.opts.Network != nil:
		transport = e.transport()
		defer transport.Close()
		m, events = transport, transport
	case e.opts.Hub != nil:
		member := e.opts.Hub.Member(e.opts.NodeID)
		m, events = member, member
	default:
		member := (&cluster.Hub{}).Member(e.opts.NodeID)
		m, events = member, member
	}

	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	partitions := map[int32]*partition{}
	defer func() {
		for _, p := range partitions {
			err = multierr.Append(err, p.close())
		}
	}()

	for id := int32(1); id <= e.opts.PartitionCount; id++ {
		if !e.Leads(id) {
			continue
		}

		p, err := e.openPartition(ctx, dir, id, m, events, e.topology)
		if err != nil {
			return err
		}

		partitions[id] = p
	}

	e.once.Do(func() {
		e.partitions = partitions
		close(e.ready)
	})

	defer deployment.ServePush(m, e.log, e.opts.Clock)()

	for _, p := range partitions {
		defer cluster.ServeCommands(m, p.Log, e.opts.Clock)()
		defer p.Restore.Serve(m)()
	}

	for id := int32(1); id <= e.opts.PartitionCount; id++ {
		if leader, _ := e.topology.Leader(id); leader != e.opts.NodeID {
			e.follow(ctx, g, dir, id, leader, m, events)
		}
	}

	for _, p := range partitions {
		p := p // capture loop variable

		g.Go(func() error {
			return p.run(ctx, e.opts.PartitionCount)
		})
	}

	if e.opts.Network != nil {
		g.Go(func() error {
			return e.serve(ctx, transport)
		})
	}

	err = g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// WaitForDeployment blocks until the deployment with the given key has been
// distributed to every partition.
//
// It must be called on the engine that leads the deployment partition.
func (e *Engine) WaitForDeployment(ctx context.Context, key int64) error {
	p, err := e.partition(ctx, protocol.DeploymentPartitionID)
	if err != nil {
		return err
	}

	return p.Distributor.Wait(ctx, key)
}

// TakeSnapshot takes a snapshot of the state of a partition led by the
// engine.
//
// The snapshot is taken at the processor's current position regardless of
// the log's commit position.
func (e *Engine) TakeSnapshot(ctx context.Context, partitionID int32) error {
	p, err := e.partition(ctx, partitionID)
	if err != nil {
		return err
	}

	pos, err := p.Processor.LastProcessedPosition(ctx)
	if err != nil {
		return err
	}

	return p.Snapshots.TakeSnapshot(pos)
}

// execute appends a command to the log of the partition given by its
// partition ID and waits for the response.
func (e *Engine) execute(ctx context.Context, cmd *protocol.Record) (*protocol.Record, error) {
	if cmd.RecordType != protocol.Command {
		return nil, codec.Errorf(
			codec.UnsupportedMessage,
			"expected a command, got %s",
			cmd.RecordType,
		)
	}

	p, err := e.partition(ctx, cmd.PartitionID)
	if err != nil {
		return nil, err
	}

	id, res, done := e.responses.register()
	defer done()

	rec := *cmd
	rec.SourceRecordPosition = -1
	rec.Timestamp = e.opts.Clock.Now().UnixMilli()
	rec.RequestID = id
	rec.RequestStreamID = requestStreamID

	if _, err := p.Log.Append(ctx, &rec); err != nil {
		return nil, fmt.Errorf("unable to submit command to partition %d: %w", p.ID, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		return r, nil
	}
}

// partition returns a partition led by the engine. It blocks until the
// engine is running.
func (e *Engine) partition(ctx context.Context, id int32) (*partition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ready:
	}

	if p, ok := e.partitions[id]; ok {
		return p, nil
	}

	return nil, codec.Errorf(
		codec.PartitionLeaderMismatch,
		"partition %d is not led by %s",
		id,
		e.opts.NodeID,
	)
}

// Log returns the log of a partition led by the engine. It blocks until the
// engine is running.
func (e *Engine) Log(ctx context.Context, partitionID int32) (logstream.Log, error) {
	p, err := e.partition(ctx, partitionID)
	if err != nil {
		return nil, err
	}

	return p.Log, nil
}

// log returns the log of a partition led by the engine.
func (e *Engine) log(id int32) (logstream.Log, bool) {
	if p, ok := e.partitions[id]; ok {
		return p.Log, true
	}
	return nil, false
}

// follow keeps copies of the snapshots of a partition led by another member.
func (e *Engine) follow(
	ctx context.Context,
	g *errgroup.Group,
	dir string,
	id int32,
	leader cluster.MemberID,
	m cluster.Messaging,
	events cluster.EventService,
) {
	logger := loggingx.WithPrefix(e.opts.Logger, "[partition %d] ", id)

	ctl := &snapshot.Controller{
		Dir:          filepath.Join(partitionDirectory(dir, id), "snapshots"),
		MaxSnapshots: e.opts.MaxSnapshots,
		Logger:       logger,
	}

	r := &snapshot.Receiver{
		PartitionID: id,
		Events:      events,
		Controller:  ctl,
		Logger:      logger,
	}

	c := &snapshot.RestoreClient{
		PartitionID: id,
		Messaging:   m,
		Controller:  ctl,
		Logger:      logger,
	}

	g.Go(func() error {
		defer r.Start()()

		logging.Log(logger, "following partition %d, led by %s", id, leader)

		counter := backoff.Counter{Strategy: e.opts.Backoff}

		for {
			_, err := c.Restore(ctx, leader, "")
			if err == nil {
				break
			}

			var invalid *snapshot.InvalidRestoreResponse
			if errors.As(err, &invalid) {
				logging.Debug(logger, "leader has no snapshot to restore: %s", err)
				break
			}

			logging.Log(logger, "unable to restore latest snapshot from %s: %s", leader, err)

			if err := counter.Sleep(ctx, err); err != nil {
				return err
			}
		}

		<-ctx.Done()
		return ctx.Err()
	})
}

// transport returns the gRPC transport used to communicate with the other
// members of the cluster.
func (e *Engine) transport() *grpccluster.Transport {
	members := map[cluster.MemberID]string{}
	for id, addr := range e.opts.Network.Members {
		members[cluster.MemberID(id)] = addr
	}

	if _, ok := members[e.opts.NodeID]; !ok {
		members[e.opts.NodeID] = e.opts.Network.InternalAPIAddress
	}

	return &grpccluster.Transport{
		Local:       e.opts.NodeID,
		Members:     members,
		DialOptions: e.opts.Network.DialOptions,
		Logger:      e.opts.Logger,
	}
}

// dataDirectory returns the directory that holds the engine's files.
func (e *Engine) dataDirectory() (string, func() error, error) {
	if e.opts.MemoryStorage {
		dir, err := os.MkdirTemp("", "conductor-")
		if err != nil {
			return "", nil, err
		}

		return dir, func() error {
			return os.RemoveAll(dir)
		}, nil
	}

	if err := os.MkdirAll(e.opts.DataDirectory, 0700); err != nil {
		return "", nil, err
	}

	return e.opts.DataDirectory, func() error { return nil }, nil
}

// assignLeaders assigns each partition to a member. Partitions are assigned
// to the members in turn, in the order of their IDs.
func assignLeaders(members []cluster.MemberID, partitionCount int32) map[int32]cluster.MemberID {
	sorted := append([]cluster.MemberID(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	leaders := map[int32]cluster.MemberID{}
	for id := int32(1); id <= partitionCount; id++ {
		leaders[id] = sorted[int(id-1)%len(sorted)]
	}

	return leaders
}
