package protocol

import "github.com/dogmatiq/conductor/codec"

// WorkflowInstanceRecord is the value of WORKFLOW_INSTANCE records.
//
// The key of the record is the element instance key.
type WorkflowInstanceRecord struct {
	BpmnProcessID       string
	Version             int32
	WorkflowKey         int64
	WorkflowInstanceKey int64
	ElementID           string
	FlowScopeKey        int64
	BpmnElementType     BpmnElementType
}

// ValueType returns WorkflowInstanceValue.
func (*WorkflowInstanceRecord) ValueType() ValueType { return WorkflowInstanceValue }

func (r *WorkflowInstanceRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.Version)
	e.Int64(r.WorkflowKey)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.FlowScopeKey)
	e.Uint8(uint8(r.BpmnElementType))
	e.String(r.BpmnProcessID)
	e.String(r.ElementID)
}

func (r *WorkflowInstanceRecord) decodeValue(d *codec.Decoder) {
	r.Version = d.Int32()
	r.WorkflowKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.FlowScopeKey = d.Int64()
	r.BpmnElementType = BpmnElementType(d.Uint8())
	r.BpmnProcessID = d.String()
	r.ElementID = d.String()
}

// WorkflowInstanceCreationRecord is the value of WORKFLOW_INSTANCE_CREATION
// records.
type WorkflowInstanceCreationRecord struct {
	BpmnProcessID       string
	Version             int32
	WorkflowKey         int64
	WorkflowInstanceKey int64
	Variables           []byte
}

// ValueType returns WorkflowInstanceCreationValue.
func (*WorkflowInstanceCreationRecord) ValueType() ValueType { return WorkflowInstanceCreationValue }

func (r *WorkflowInstanceCreationRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.Version)
	e.Int64(r.WorkflowKey)
	e.Int64(r.WorkflowInstanceKey)
	e.String(r.BpmnProcessID)
	e.Bytes(r.Variables)
}

func (r *WorkflowInstanceCreationRecord) decodeValue(d *codec.Decoder) {
	r.Version = d.Int32()
	r.WorkflowKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.BpmnProcessID = d.String()
	r.Variables = d.Bytes()
}
