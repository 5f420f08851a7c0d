package deployment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/actor"
	"github.com/dogmatiq/conductor/internal/metrics"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
	"k8s.io/utils/clock"
)

var (
	// DefaultRetryDelay is the default delay before a failed push is retried.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultPushTimeout is the default time after which a deployment is
	// pushed again to the partitions that have not acknowledged it.
	DefaultPushTimeout = 15 * time.Second
)

// Distributor pushes deployments from the deployment partition to the leaders
// of the other partitions.
//
// Delivery is at-least-once. A partition that does not acknowledge a
// deployment within the push timeout is sent it again.
type Distributor struct {
	// Log is the log of the deployment partition. The acknowledgements of
	// other partitions are appended to it as commands.
	Log logstream.Log

	// Messaging sends push requests to other members.
	Messaging cluster.Messaging

	// Events receives acknowledgements from other partitions.
	Events cluster.EventService

	// Topology locates the leader of each partition.
	Topology cluster.Topology

	// Clock is used to schedule retries and to timestamp the commands
	// appended to the log. If it is nil, clock.RealClock is used.
	Clock clock.WithTickerAndDelayedExecution

	// RetryDelay is the delay before a failed push is retried. If it is zero,
	// DefaultRetryDelay is used.
	RetryDelay time.Duration

	// PushTimeout is the time after which unacknowledged pushes are sent
	// again. If it is zero, DefaultPushTimeout is used.
	PushTimeout time.Duration

	// Logger is the target for log messages from the distributor.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	actor   actor.Actor
	pending map[int64]*distribution
	futures map[int64]*actor.Future[struct{}]
}

// distribution is the distributor's view of a deployment that has not been
// acknowledged by every partition.
type distribution struct {
	key         int64
	deployment  *protocol.DeploymentRecord
	remaining   map[int32]struct{}
	unsubscribe func()
	cancelPush  func()
}

// Run distributes deployments until ctx is canceled.
func (d *Distributor) Run(ctx context.Context) error {
	d.actor.Clock = d.clock()

	err := d.actor.Run(ctx)

	for _, dist := range d.pending {
		d.stop(dist)
		metrics.PendingDeployments.Dec()
	}
	d.pending = nil

	return err
}

// Resume distributes the deployments that were pending when the state was
// last committed.
func (d *Distributor) Resume(s *state.Store) error {
	var pending []*state.PendingDeployment

	if err := s.View(func(tx *state.Tx) {
		tx.Deployments().VisitPending(func(p *state.PendingDeployment) bool {
			pending = append(pending, p)
			return true
		})
	}); err != nil {
		return err
	}

	for _, p := range pending {
		v, err := protocol.UnmarshalValue(protocol.DeploymentValue, p.Deployment)
		if err != nil {
			return fmt.Errorf("unable to resume distribution of deployment %d: %w", p.Key, err)
		}

		d.Distribute(p.Key, v.(*protocol.DeploymentRecord), p.Remaining)
	}

	return nil
}

// Distribute starts pushing a deployment to the given partitions.
//
// It has no effect if the deployment is already being distributed.
func (d *Distributor) Distribute(key int64, rec *protocol.DeploymentRecord, partitions []int32) {
	d.actor.Submit(func() {
		if _, ok := d.pending[key]; ok {
			return
		}

		dist := &distribution{
			key:        key,
			deployment: rec,
			remaining:  map[int32]struct{}{},
		}

		for _, id := range partitions {
			dist.remaining[id] = struct{}{}
		}

		if d.pending == nil {
			d.pending = map[int64]*distribution{}
		}
		d.pending[key] = dist
		metrics.PendingDeployments.Inc()

		dist.unsubscribe = d.Events.Subscribe(
			ResponseTopic(key),
			func(payload []byte) {
				var res PushResponse
				if !res.TryWrap(payload) || res.UnmarshalBinary(payload) != nil {
					logging.Log(
						d.Logger,
						"ignored malformed response to deployment %d",
						key,
					)
					return
				}

				d.actor.Submit(func() {
					d.acknowledge(res)
				})
			},
		)

		logging.Log(
			d.Logger,
			"distributing deployment %d to %d partition(s)",
			key,
			len(dist.remaining),
		)

		d.pushRemaining(dist)
	})
}

// Complete resolves the future of a deployment that has been acknowledged by
// every partition.
func (d *Distributor) Complete(key int64) {
	d.actor.Submit(func() {
		d.future(key).Complete(struct{}{})
	})
}

// Wait blocks until the deployment with the given key has been applied by
// every partition, or ctx is canceled.
func (d *Distributor) Wait(ctx context.Context, key int64) error {
	var f *actor.Future[struct{}]

	if err := d.actor.Call(ctx, func() {
		f = d.future(key)
	}); err != nil {
		return err
	}

	_, err := f.Wait(ctx)
	return err
}

// pushRemaining pushes a deployment to each partition that has not yet
// acknowledged it, and arranges for the deployment to be pushed again if
// they have not done so within the push timeout.
func (d *Distributor) pushRemaining(dist *distribution) {
	for id := range dist.remaining {
		d.push(dist, id)
	}

	if dist.cancelPush != nil {
		dist.cancelPush()
	}

	dist.cancelPush = d.actor.RunDelayed(d.pushTimeout(), func() {
		if d.pending[dist.key] == dist && len(dist.remaining) > 0 {
			logging.Log(
				d.Logger,
				"deployment %d was not acknowledged within %s, pushing again",
				dist.key,
				d.pushTimeout(),
			)
			d.pushRemaining(dist)
		}
	})
}

// push sends a deployment to the leader of a partition.
//
// It must be called on the actor. The request itself is sent on its own
// goroutine, and a failed request is retried after the retry delay.
func (d *Distributor) push(dist *distribution, partitionID int32) {
	req := &PushRequest{
		PartitionID:   partitionID,
		DeploymentKey: dist.key,
		Deployment:    dist.deployment,
	}

	leader, ok := d.Topology.Leader(partitionID)
	if !ok {
		d.retry(dist, PushError{
			PartitionID: partitionID,
			Cause:       errors.New("partition has no leader"),
		})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout())
		defer cancel()

		if err := d.send(ctx, leader, req); err != nil {
			d.actor.Submit(func() {
				d.retry(dist, err)
			})
		}
	}()
}

// send performs a push request.
//
// A successful reply is only a hint. The push is complete once the
// acknowledgement arrives on the response topic.
func (d *Distributor) send(ctx context.Context, leader cluster.MemberID, req *PushRequest) error {
	data, err := req.MarshalBinary()
	if err != nil {
		return PushError{req.PartitionID, err}
	}

	res, err := d.Messaging.Request(ctx, leader, PushSubject, data)
	if err != nil {
		return PushError{req.PartitionID, err}
	}

	var er codec.ErrorResponse
	if er.TryWrap(res) {
		if err := er.UnmarshalBinary(res); err != nil {
			return PushError{req.PartitionID, err}
		}
		return PushError{req.PartitionID, &er}
	}

	var ack PushResponse
	if !ack.TryWrap(res) {
		return PushError{req.PartitionID, errors.New("unexpected response")}
	}

	logging.Debug(
		d.Logger,
		"partition %d replied to the push of deployment %d",
		req.PartitionID,
		req.DeploymentKey,
	)

	return nil
}

// retry schedules another push to the partition described by err.
func (d *Distributor) retry(dist *distribution, err error) {
	var pe PushError
	if !errors.As(err, &pe) {
		return
	}

	delay := d.retryDelay()

	logging.Log(
		d.Logger,
		"retrying push of deployment %d in %s: %s",
		dist.key,
		delay,
		err,
	)

	d.actor.RunDelayed(delay, func() {
		if d.pending[dist.key] != dist {
			return
		}

		if _, ok := dist.remaining[pe.PartitionID]; ok {
			d.push(dist, pe.PartitionID)
		}
	})
}

// acknowledge handles an acknowledgement from another partition by appending
// a DEPLOYMENT_DISTRIBUTION.COMPLETE command to the log.
func (d *Distributor) acknowledge(res PushResponse) {
	dist, ok := d.pending[res.DeploymentKey]
	if !ok {
		return
	}

	if _, ok := dist.remaining[res.PartitionID]; !ok {
		return
	}

	delete(dist.remaining, res.PartitionID)

	cmd := &protocol.Record{
		SourceRecordPosition: -1,
		Key:                  dist.key,
		Timestamp:            d.clock().Now().UnixMilli(),
		PartitionID:          d.Log.PartitionID(),
		RecordType:           protocol.Command,
		ValueType:            protocol.DeploymentDistributionValue,
		Intent:               protocol.DistributionComplete,
		Value: &protocol.DeploymentDistributionRecord{
			PartitionID: res.PartitionID,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.pushTimeout())
	defer cancel()

	if _, err := d.Log.Append(ctx, cmd); err != nil {
		logging.Log(
			d.Logger,
			"unable to record that partition %d applied deployment %d: %s",
			res.PartitionID,
			dist.key,
			err,
		)

		// The partition is pushed to again when the push timeout elapses,
		// and acknowledges the deployment again.
		dist.remaining[res.PartitionID] = struct{}{}
		return
	}

	logging.Debug(
		d.Logger,
		"partition %d applied deployment %d",
		res.PartitionID,
		dist.key,
	)

	if len(dist.remaining) == 0 {
		d.stop(dist)
		delete(d.pending, dist.key)
		metrics.PendingDeployments.Dec()
	}
}

func (d *Distributor) stop(dist *distribution) {
	if dist.unsubscribe != nil {
		dist.unsubscribe()
	}
	if dist.cancelPush != nil {
		dist.cancelPush()
	}
}

func (d *Distributor) future(key int64) *actor.Future[struct{}] {
	f, ok := d.futures[key]
	if !ok {
		f = actor.NewFuture[struct{}]()

		if d.futures == nil {
			d.futures = map[int64]*actor.Future[struct{}]{}
		}
		d.futures[key] = f
	}

	return f
}

func (d *Distributor) retryDelay() time.Duration {
	if d.RetryDelay > 0 {
		return d.RetryDelay
	}
	return DefaultRetryDelay
}

func (d *Distributor) pushTimeout() time.Duration {
	if d.PushTimeout > 0 {
		return d.PushTimeout
	}
	return DefaultPushTimeout
}

func (d *Distributor) clock() clock.WithTickerAndDelayedExecution {
	if d.Clock != nil {
		return d.Clock
	}
	return clock.RealClock{}
}
