// Package deployment implements the creation of deployments and their
// distribution to every partition.
//
// Deployments are created on the deployment partition, which assigns the keys
// and versions of the workflows they contain. The deployment partition then
// pushes each deployment to the leaders of the other partitions, which apply
// it locally and acknowledge it on the deployment's response topic.
package deployment

import (
	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
)

// Config is the configuration of the deployment processors.
type Config struct {
	// Events is used to acknowledge deployments that were pushed from the
	// deployment partition.
	Events cluster.EventService

	// Distributor pushes new deployments to the other partitions. It must be
	// set on the deployment partition.
	Distributor *Distributor
}

// Register adds the deployment processors to r.
func Register(r *processor.Registry, cfg Config) {
	d := &deployer{
		events:      cfg.Events,
		distributor: cfg.Distributor,
	}

	r.RegisterCommand(protocol.DeploymentValue, protocol.DeploymentCreate, d.create)
	r.RegisterCommand(protocol.DeploymentValue, protocol.DeploymentDistribute, d.distribute)
	r.RegisterCommand(
		protocol.DeploymentDistributionValue,
		protocol.DistributionComplete,
		d.completeDistribution,
	)
}

// deployer holds the collaborators of the deployment processors.
type deployer struct {
	events      cluster.EventService
	distributor *Distributor
}
