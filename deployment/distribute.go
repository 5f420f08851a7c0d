package deployment

import (
	"context"
	"slices"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// distribute processes a DEPLOYMENT.DISTRIBUTE command.
//
// It records the partitions that have yet to apply the deployment and hands
// the deployment to the distributor. The command is accepted once every
// partition has acknowledged the deployment.
func (d *deployer) distribute(pc *processor.Context, ctl *processor.CommandControl) error {
	key := pc.Record.Key
	v := pc.Record.Value.(*protocol.DeploymentRecord)
	ds := pc.State.Deployments()

	if _, ok := ds.Pending(key); ok {
		return processor.Reject(
			protocol.AlreadyExists,
			"Expected to distribute deployment with key '%d', but it is already being distributed",
			key,
		)
	}

	distributed := ds.DistributedTo(key)

	var remaining []int32
	for id := int32(1); id <= pc.PartitionCount; id++ {
		if id != pc.PartitionID && !slices.Contains(distributed, id) {
			remaining = append(remaining, id)
		}
	}

	if len(remaining) == 0 {
		ctl.Accept(protocol.DeploymentDistributed, v)
		d.complete(pc, key)
		return nil
	}

	ds.PutPending(&state.PendingDeployment{
		Key:            key,
		SourcePosition: pc.Record.Position,
		Deployment:     protocol.MarshalValue(v),
		Remaining:      remaining,
	})

	pc.SideEffect(func(context.Context) error {
		d.distributor.Distribute(key, v, remaining)
		return nil
	})

	return nil
}

// completeDistribution processes a DEPLOYMENT_DISTRIBUTION.COMPLETE command,
// which records that a partition has applied a deployment.
func (d *deployer) completeDistribution(pc *processor.Context, ctl *processor.CommandControl) error {
	key := pc.Record.Key
	v := pc.Record.Value.(*protocol.DeploymentDistributionRecord)
	ds := pc.State.Deployments()

	pending, ok := ds.Pending(key)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to complete the distribution of deployment with key '%d', but no such distribution is pending",
			key,
		)
	}

	if !slices.Contains(pending.Remaining, v.PartitionID) || !ds.MarkDistributed(key, v.PartitionID) {
		return processor.Reject(
			protocol.InvalidState,
			"Expected to complete the distribution of deployment with key '%d' to partition %d, but it was already completed",
			key,
			v.PartitionID,
		)
	}

	ctl.Accept(protocol.DistributionCompleted, v)

	pending.Remaining = slices.DeleteFunc(
		pending.Remaining,
		func(id int32) bool { return id == v.PartitionID },
	)

	if len(pending.Remaining) > 0 {
		ds.PutPending(pending)
		return nil
	}

	ds.RemovePending(key)

	rec, err := protocol.UnmarshalValue(protocol.DeploymentValue, pending.Deployment)
	if err != nil {
		return err
	}

	pc.WriteEvent(key, protocol.DeploymentDistributed, rec)
	d.complete(pc, key)

	return nil
}

// complete stages the completion of the distributor's future for the
// deployment.
func (d *deployer) complete(pc *processor.Context, key int64) {
	if d.distributor == nil {
		return
	}

	pc.SideEffect(func(context.Context) error {
		d.distributor.Complete(key)
		return nil
	})
}
