package deployment

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/conductor/workflow"
)

// create processes a DEPLOYMENT.CREATE command.
//
// On the deployment partition the command is submitted by a client, and
// creates a new deployment. On any other partition it is a deployment pushed
// from the deployment partition, which already carries its keys and versions.
func (d *deployer) create(pc *processor.Context, ctl *processor.CommandControl) error {
	if pc.PartitionID != protocol.DeploymentPartitionID {
		return d.applyPushed(pc, ctl)
	}

	v := pc.Record.Value.(*protocol.DeploymentRecord)

	if len(v.Resources) == 0 {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to deploy at least one resource, but none given",
		)
	}

	processes, err := parseResources(v.Resources)
	if err != nil {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to deploy new resources, but encountered the following errors:\n%s",
			err,
		)
	}

	key := ctl.Key()
	ds := pc.State.Deployments()

	rec := &protocol.DeploymentRecord{
		Resources: v.Resources,
	}

	for _, p := range processes {
		latest, ok := ds.LatestWorkflow(p.process.ID)

		if ok && latest.ResourceName == p.resource.Name && bytes.Equal(latest.Resource, p.resource.Content) {
			rec.Workflows = append(rec.Workflows, protocol.DeployedWorkflow{
				BpmnProcessID: latest.BpmnProcessID,
				Version:       latest.Version,
				WorkflowKey:   latest.Key,
				ResourceName:  latest.ResourceName,
			})
			continue
		}

		version := int32(1)
		if ok {
			version = latest.Version + 1
		}

		rec.Workflows = append(rec.Workflows, protocol.DeployedWorkflow{
			BpmnProcessID: p.process.ID,
			Version:       version,
			WorkflowKey:   pc.NextKey(),
			ResourceName:  p.resource.Name,
		})
	}

	ctl.Accept(protocol.DeploymentCreated, rec)

	if err := apply(pc, key, rec); err != nil {
		return err
	}

	pc.WriteCommand(key, protocol.DeploymentDistribute, rec)

	return nil
}

// applyPushed applies a deployment that was pushed from the deployment
// partition.
//
// The push is acknowledged even if the deployment was already applied, as
// the deployment partition may push the same deployment more than once.
func (d *deployer) applyPushed(pc *processor.Context, ctl *processor.CommandControl) error {
	key := pc.Record.Key
	v := pc.Record.Value.(*protocol.DeploymentRecord)

	ack := &PushResponse{
		PartitionID:   pc.PartitionID,
		DeploymentKey: key,
	}

	pc.SideEffect(func(ctx context.Context) error {
		data, err := ack.MarshalBinary()
		if err != nil {
			return err
		}
		return d.events.Publish(ctx, ResponseTopic(key), data)
	})

	if _, ok := pc.State.Deployments().Deployment(key); ok {
		return processor.Reject(
			protocol.AlreadyExists,
			"Expected to create deployment with key '%d', but it was already created",
			key,
		)
	}

	ctl.Accept(protocol.DeploymentCreated, v)

	return apply(pc, key, v)
}

// apply stores a deployment and the workflows it contains, and opens the
// start events of each workflow that supersedes an older version.
func apply(pc *processor.Context, key int64, rec *protocol.DeploymentRecord) error {
	ds := pc.State.Deployments()
	ds.PutDeployment(key, rec)

	for _, dw := range rec.Workflows {
		if _, ok := ds.Workflow(dw.WorkflowKey); ok {
			continue
		}

		w := &state.Workflow{
			Key:           dw.WorkflowKey,
			BpmnProcessID: dw.BpmnProcessID,
			Version:       dw.Version,
			DeploymentKey: key,
			ResourceName:  dw.ResourceName,
			Resource:      resource(rec, dw.ResourceName),
		}

		previous, hasPrevious := ds.LatestWorkflow(w.BpmnProcessID)
		if hasPrevious && previous.Version > w.Version {
			// A newer version was applied first. The older one is usable by
			// key and version, but its start events are never opened.
			ds.PutWorkflow(w)
			continue
		}

		ds.PutWorkflow(w)

		p, err := ds.Process(w)
		if err != nil {
			return fmt.Errorf("unable to load workflow %d: %w", w.Key, err)
		}

		openStartEvents(pc, w, p)

		if pc.PartitionID == protocol.DeploymentPartitionID {
			if hasPrevious {
				workflow.CancelStartTimers(pc, previous.Key)
			}
			workflow.ScheduleStartTimers(pc, w, p)
		}
	}

	return nil
}

// openStartEvents closes the message start event subscriptions of the older
// versions of a workflow and opens those of w.
func openStartEvents(pc *processor.Context, w *state.Workflow, p *model.Process) {
	subs := pc.State.MessageStartEventSubscriptions()

	for _, s := range subs.ForProcess(w.BpmnProcessID) {
		if s.WorkflowKey != w.Key {
			subs.Remove(s.MessageName, s.WorkflowKey)
			pc.WriteEvent(s.WorkflowKey, protocol.StartEventSubscriptionClosed, s)
		}
	}

	for _, ev := range p.MessageStartEvents() {
		s := &protocol.MessageStartEventSubscriptionRecord{
			WorkflowKey:   w.Key,
			BpmnProcessID: w.BpmnProcessID,
			MessageName:   ev.Message.Name,
			StartEventID:  ev.ID,
		}

		subs.Put(s)
		pc.WriteEvent(w.Key, protocol.StartEventSubscriptionOpened, s)
	}
}

type parsedProcess struct {
	resource protocol.DeploymentResource
	process  *model.Process
}

// parseResources parses the processes in each resource. It returns an error
// describing every resource that could not be parsed.
func parseResources(resources []protocol.DeploymentResource) ([]parsedProcess, error) {
	var (
		result   []parsedProcess
		problems []string
		seen     = map[string]string{}
	)

	for _, res := range resources {
		processes, err := model.Parse(res.Content)
		if err != nil {
			problems = append(problems, fmt.Sprintf("'%s': %s", res.Name, err))
			continue
		}

		for _, p := range processes {
			if other, ok := seen[p.ID]; ok {
				problems = append(problems, fmt.Sprintf(
					"'%s': duplicated process id '%s', also defined in '%s'",
					res.Name,
					p.ID,
					other,
				))
				continue
			}

			seen[p.ID] = res.Name
			result = append(result, parsedProcess{res, p})
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "\n"))
	}

	return result, nil
}

// resource returns the content of the named resource of a deployment.
func resource(rec *protocol.DeploymentRecord, name string) []byte {
	for _, r := range rec.Resources {
		if r.Name == name {
			return r.Content
		}
	}
	return nil
}
