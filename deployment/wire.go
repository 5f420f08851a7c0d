package deployment

import (
	"fmt"

	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/protocol"
)

// PushSubject is the subject of requests that push a deployment to the leader
// of another partition.
const PushSubject = "deployment"

// schemaID is the schema of the deployment distribution messages.
const schemaID uint16 = 4

const (
	pushRequestTemplate uint16 = iota + 1
	pushResponseTemplate
)

// ResponseTopic returns the topic on which partitions publish their
// acknowledgement of a pushed deployment.
func ResponseTopic(deploymentKey int64) string {
	return fmt.Sprintf("deployment-response-%d", deploymentKey)
}

// PushRequest asks the leader of a partition to apply a deployment.
type PushRequest struct {
	PartitionID   int32
	DeploymentKey int64
	Deployment    *protocol.DeploymentRecord
}

// MarshalBinary returns the binary representation of the request.
func (r *PushRequest) MarshalBinary() ([]byte, error) {
	e := codec.NewEncoder(schemaID, pushRequestTemplate, 1)
	e.Int32(r.PartitionID)
	e.Int64(r.DeploymentKey)
	e.Bytes(protocol.MarshalValue(r.Deployment))
	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *PushRequest) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, schemaID, pushRequestTemplate)
	if err != nil {
		return err
	}

	r.PartitionID = d.Int32()
	r.DeploymentKey = d.Int64()
	value := d.Bytes()

	if err := d.Err(); err != nil {
		return err
	}

	v, err := protocol.UnmarshalValue(protocol.DeploymentValue, value)
	if err != nil {
		return err
	}

	r.Deployment = v.(*protocol.DeploymentRecord)

	return nil
}

// PushResponse acknowledges that a partition has applied a deployment.
type PushResponse struct {
	PartitionID   int32
	DeploymentKey int64
}

// TryWrap returns true if b contains an encoded PushResponse.
func (r *PushResponse) TryWrap(b []byte) bool {
	return codec.TryWrap(b, schemaID, pushResponseTemplate)
}

// MarshalBinary returns the binary representation of the response.
func (r *PushResponse) MarshalBinary() ([]byte, error) {
	e := codec.NewEncoder(schemaID, pushResponseTemplate, 1)
	e.Int32(r.PartitionID)
	e.Int64(r.DeploymentKey)
	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *PushResponse) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, schemaID, pushResponseTemplate)
	if err != nil {
		return err
	}

	r.PartitionID = d.Int32()
	r.DeploymentKey = d.Int64()

	return d.Err()
}

// PushError is returned when a deployment can not be pushed to a partition.
type PushError struct {
	PartitionID int32
	Cause       error
}

func (e PushError) Error() string {
	return fmt.Sprintf("unable to push deployment to partition %d: %s", e.PartitionID, e.Cause)
}

func (e PushError) Unwrap() error {
	return e.Cause
}
