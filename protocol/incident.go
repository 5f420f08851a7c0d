package protocol

import "github.com/dogmatiq/conductor/codec"

// IncidentRecord is the value of INCIDENT records.
type IncidentRecord struct {
	ErrorType            ErrorType
	ErrorMessage         string
	BpmnProcessID        string
	WorkflowKey          int64
	WorkflowInstanceKey  int64
	ElementID            string
	ElementInstanceKey   int64
	JobKey               int64
	VariableScopeKey     int64
	FailedRecordPosition int64
}

// ValueType returns IncidentValue.
func (*IncidentRecord) ValueType() ValueType { return IncidentValue }

func (r *IncidentRecord) encodeValue(e *codec.Encoder) {
	e.Uint8(uint8(r.ErrorType))
	e.Int64(r.WorkflowKey)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.ElementInstanceKey)
	e.Int64(r.JobKey)
	e.Int64(r.VariableScopeKey)
	e.Int64(r.FailedRecordPosition)
	e.String(r.ErrorMessage)
	e.String(r.BpmnProcessID)
	e.String(r.ElementID)
}

func (r *IncidentRecord) decodeValue(d *codec.Decoder) {
	r.ErrorType = ErrorType(d.Uint8())
	r.WorkflowKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.ElementInstanceKey = d.Int64()
	r.JobKey = d.Int64()
	r.VariableScopeKey = d.Int64()
	r.FailedRecordPosition = d.Int64()
	r.ErrorMessage = d.String()
	r.BpmnProcessID = d.String()
	r.ElementID = d.String()
}
