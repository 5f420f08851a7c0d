package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	deploymentsBucketKey        = []byte("deployments")
	deploymentsDistributedKey   = []byte("deployments.distributed")
	workflowsBucketKey          = []byte("workflows")
	workflowsLatestBucketKey    = []byte("workflows.latest")
	workflowsVersionsBucketKey  = []byte("workflows.versions")
	pendingDeploymentsBucketKey = []byte("deployments.pending")
)

// Workflow is a deployed workflow.
type Workflow struct {
	Key           int64
	BpmnProcessID string
	Version       int32
	DeploymentKey int64
	ResourceName  string
	Resource      []byte
}

// DeploymentState is the view of deployments and the workflows they contain.
type DeploymentState struct{ t *Tx }

// Deployments returns the view of deployments.
func (t *Tx) Deployments() DeploymentState {
	return DeploymentState{t}
}

// PutDeployment stores a deployment.
func (s DeploymentState) PutDeployment(key int64, rec *protocol.DeploymentRecord) {
	bboltx.Put(s.t.bucket(deploymentsBucketKey), int64Key(key), marshalValue(rec))
}

// Deployment returns the deployment with the given key.
func (s DeploymentState) Deployment(key int64) (*protocol.DeploymentRecord, bool) {
	data := bboltx.Get(s.t.bucket(deploymentsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	return unmarshalValue[*protocol.DeploymentRecord](protocol.DeploymentValue, data), true
}

// MarkDistributed records that a deployment has been applied by the given
// partition. It returns false if it was already recorded.
func (s DeploymentState) MarkDistributed(key int64, partitionID int32) bool {
	b := s.t.bucket(deploymentsDistributedKey)
	k := join(int64Key(key), int64Key(int64(partitionID)))

	if bboltx.Has(b, k) {
		return false
	}

	bboltx.Add(b, k)
	return true
}

// DistributedTo returns the partitions that have applied a deployment.
func (s DeploymentState) DistributedTo(key int64) []int32 {
	var partitions []int32

	bboltx.ForEachPrefix(
		s.t.bucket(deploymentsDistributedKey),
		int64Key(key),
		func(k, _ []byte) bool {
			partitions = append(partitions, int32(parseInt64Key(k[8:])))
			return true
		},
	)

	return partitions
}

// PutWorkflow stores a workflow and makes it the latest version of its BPMN
// process ID if its version is higher than the current latest version.
func (s DeploymentState) PutWorkflow(w *Workflow) {
	data := encodeEntry(workflowTemplate, func(e *codec.Encoder) {
		e.Int64(w.Key)
		e.Int32(w.Version)
		e.Int64(w.DeploymentKey)
		e.EndBlock()
		e.String(w.BpmnProcessID)
		e.String(w.ResourceName)
		e.Bytes(w.Resource)
	})

	bboltx.Put(s.t.bucket(workflowsBucketKey), int64Key(w.Key), data)
	bboltx.Put(
		s.t.bucket(workflowsVersionsBucketKey),
		join(stringKey(w.BpmnProcessID), int64Key(int64(w.Version))),
		int64Key(w.Key),
	)

	if latest, ok := s.LatestWorkflow(w.BpmnProcessID); !ok || latest.Version < w.Version {
		bboltx.Put(
			s.t.bucket(workflowsLatestBucketKey),
			[]byte(w.BpmnProcessID),
			int64Key(w.Key),
		)
	}
}

// Workflow returns the workflow with the given key.
func (s DeploymentState) Workflow(key int64) (*Workflow, bool) {
	data := bboltx.Get(s.t.bucket(workflowsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	w := &Workflow{}
	decodeEntry(data, workflowTemplate, func(d *codec.Decoder) {
		w.Key = d.Int64()
		w.Version = d.Int32()
		w.DeploymentKey = d.Int64()
		d.EndBlock()
		w.BpmnProcessID = d.String()
		w.ResourceName = d.String()
		w.Resource = d.Bytes()
	})

	return w, true
}

// LatestWorkflow returns the latest version of the workflow with the given
// BPMN process ID.
func (s DeploymentState) LatestWorkflow(id string) (*Workflow, bool) {
	k := bboltx.Get(s.t.bucket(workflowsLatestBucketKey), []byte(id))
	if k == nil {
		return nil, false
	}

	return s.Workflow(parseInt64Key(k))
}

// WorkflowByVersion returns a specific version of the workflow with the given
// BPMN process ID.
func (s DeploymentState) WorkflowByVersion(id string, version int32) (*Workflow, bool) {
	k := bboltx.Get(
		s.t.bucket(workflowsVersionsBucketKey),
		join(stringKey(id), int64Key(int64(version))),
	)
	if k == nil {
		return nil, false
	}

	return s.Workflow(parseInt64Key(k))
}

// Process returns the executable model of a workflow.
//
// Parsed models are cached by the store for the lifetime of the process.
func (s DeploymentState) Process(w *Workflow) (*model.Process, error) {
	if p, ok := s.t.store.processes.Load(w.Key); ok {
		return p.(*model.Process), nil
	}

	p, err := model.ParseProcess(w.Resource, w.BpmnProcessID)
	if err != nil {
		return nil, err
	}

	s.t.store.processes.Store(w.Key, p)

	return p, nil
}

// PendingDeployment is a deployment that has not yet been applied by every
// partition.
type PendingDeployment struct {
	Key            int64
	SourcePosition int64
	Deployment     []byte
	Remaining      []int32
}

// PutPending stores a pending deployment.
func (s DeploymentState) PutPending(p *PendingDeployment) {
	remaining := make([]int64, len(p.Remaining))
	for i, id := range p.Remaining {
		remaining[i] = int64(id)
	}

	data := encodeEntry(pendingDeploymentTemplate, func(e *codec.Encoder) {
		e.Int64(p.Key)
		e.Int64(p.SourcePosition)
		e.EndBlock()
		e.Bytes(p.Deployment)
		e.Int64s(remaining)
	})

	bboltx.Put(s.t.bucket(pendingDeploymentsBucketKey), int64Key(p.Key), data)
}

// Pending returns the pending deployment with the given key.
func (s DeploymentState) Pending(key int64) (*PendingDeployment, bool) {
	data := bboltx.Get(s.t.bucket(pendingDeploymentsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	return decodePending(data), true
}

// RemovePending removes a pending deployment.
func (s DeploymentState) RemovePending(key int64) {
	bboltx.Delete(s.t.bucket(pendingDeploymentsBucketKey), int64Key(key))
}

// VisitPending calls fn for each pending deployment in key order.
func (s DeploymentState) VisitPending(fn func(p *PendingDeployment) bool) {
	bboltx.ForEachPrefix(
		s.t.bucket(pendingDeploymentsBucketKey),
		nil,
		func(_, v []byte) bool {
			return fn(decodePending(v))
		},
	)
}

func decodePending(data []byte) *PendingDeployment {
	p := &PendingDeployment{}

	decodeEntry(data, pendingDeploymentTemplate, func(d *codec.Decoder) {
		p.Key = d.Int64()
		p.SourcePosition = d.Int64()
		d.EndBlock()
		p.Deployment = d.Bytes()

		for _, id := range d.Int64s() {
			p.Remaining = append(p.Remaining, int32(id))
		}
	})

	return p
}
