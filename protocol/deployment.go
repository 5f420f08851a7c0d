package protocol

import "github.com/dogmatiq/conductor/codec"

// DeploymentRecord is the value of DEPLOYMENT records.
type DeploymentRecord struct {
	Resources []DeploymentResource
	Workflows []DeployedWorkflow
}

// DeploymentResource is a single resource submitted for deployment.
type DeploymentResource struct {
	Name    string
	Content []byte
}

// DeployedWorkflow describes a workflow that was created by a deployment.
type DeployedWorkflow struct {
	BpmnProcessID string
	Version       int32
	WorkflowKey   int64
	ResourceName  string
}

// ValueType returns DeploymentValue.
func (*DeploymentRecord) ValueType() ValueType { return DeploymentValue }

func (r *DeploymentRecord) encodeValue(e *codec.Encoder) {
	e.Count(len(r.Resources))
	for _, x := range r.Resources {
		e.String(x.Name)
		e.Bytes(x.Content)
	}

	e.Count(len(r.Workflows))
	for _, x := range r.Workflows {
		e.String(x.BpmnProcessID)
		e.Int64s([]int64{int64(x.Version), x.WorkflowKey})
		e.String(x.ResourceName)
	}
}

func (r *DeploymentRecord) decodeValue(d *codec.Decoder) {
	r.Resources = nil
	for i, n := 0, d.Count(); i < n; i++ {
		r.Resources = append(r.Resources, DeploymentResource{
			Name:    d.String(),
			Content: d.Bytes(),
		})
	}

	r.Workflows = nil
	for i, n := 0, d.Count(); i < n; i++ {
		w := DeployedWorkflow{BpmnProcessID: d.String()}
		if v := d.Int64s(); len(v) == 2 {
			w.Version = int32(v[0])
			w.WorkflowKey = v[1]
		}
		w.ResourceName = d.String()
		r.Workflows = append(r.Workflows, w)
	}
}

// DeploymentDistributionRecord is the value of DEPLOYMENT_DISTRIBUTION
// records. It acknowledges that a deployment has been applied on a partition.
type DeploymentDistributionRecord struct {
	PartitionID int32
}

// ValueType returns DeploymentDistributionValue.
func (*DeploymentDistributionRecord) ValueType() ValueType { return DeploymentDistributionValue }

func (r *DeploymentDistributionRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.PartitionID)
}

func (r *DeploymentDistributionRecord) decodeValue(d *codec.Decoder) {
	r.PartitionID = d.Int32()
}
