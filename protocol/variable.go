package protocol

import "github.com/dogmatiq/conductor/codec"

// VariableRecord is the value of VARIABLE records.
type VariableRecord struct {
	Name                string
	Value               []byte
	ScopeKey            int64
	WorkflowInstanceKey int64
	WorkflowKey         int64
}

// ValueType returns VariableValue.
func (*VariableRecord) ValueType() ValueType { return VariableValue }

func (r *VariableRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.ScopeKey)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.WorkflowKey)
	e.String(r.Name)
	e.Bytes(r.Value)
}

func (r *VariableRecord) decodeValue(d *codec.Decoder) {
	r.ScopeKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.WorkflowKey = d.Int64()
	r.Name = d.String()
	r.Value = d.Bytes()
}

// VariableDocumentRecord is the value of VARIABLE_DOCUMENT records.
type VariableDocumentRecord struct {
	ScopeKey        int64
	UpdateSemantics UpdateSemantics
	Document        []byte
}

// ValueType returns VariableDocumentValue.
func (*VariableDocumentRecord) ValueType() ValueType { return VariableDocumentValue }

func (r *VariableDocumentRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.ScopeKey)
	e.Uint8(uint8(r.UpdateSemantics))
	e.Bytes(r.Document)
}

func (r *VariableDocumentRecord) decodeValue(d *codec.Decoder) {
	r.ScopeKey = d.Int64()
	r.UpdateSemantics = UpdateSemantics(d.Uint8())
	r.Document = d.Bytes()
}
