package protocol

import "github.com/dogmatiq/conductor/codec"

// MessageRecord is the value of MESSAGE records.
type MessageRecord struct {
	Name           string
	CorrelationKey string
	MessageID      string
	TimeToLive     int64
	Deadline       int64
	Variables      []byte
}

// ValueType returns MessageValue.
func (*MessageRecord) ValueType() ValueType { return MessageValue }

func (r *MessageRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.TimeToLive)
	e.Int64(r.Deadline)
	e.String(r.Name)
	e.String(r.CorrelationKey)
	e.String(r.MessageID)
	e.Bytes(r.Variables)
}

func (r *MessageRecord) decodeValue(d *codec.Decoder) {
	r.TimeToLive = d.Int64()
	r.Deadline = d.Int64()
	r.Name = d.String()
	r.CorrelationKey = d.String()
	r.MessageID = d.String()
	r.Variables = d.Bytes()
}

// MessageSubscriptionRecord is the value of MESSAGE_SUBSCRIPTION records,
// which describe subscriptions held on a message's home partition.
type MessageSubscriptionRecord struct {
	SubscriptionPartitionID int32
	WorkflowInstanceKey     int64
	ElementInstanceKey      int64
	MessageKey              int64
	CloseOnCorrelate        bool
	BpmnProcessID           string
	MessageName             string
	CorrelationKey          string
	Variables               []byte
}

// ValueType returns MessageSubscriptionValue.
func (*MessageSubscriptionRecord) ValueType() ValueType { return MessageSubscriptionValue }

func (r *MessageSubscriptionRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.SubscriptionPartitionID)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.ElementInstanceKey)
	e.Int64(r.MessageKey)
	e.Bool(r.CloseOnCorrelate)
	e.String(r.BpmnProcessID)
	e.String(r.MessageName)
	e.String(r.CorrelationKey)
	e.Bytes(r.Variables)
}

func (r *MessageSubscriptionRecord) decodeValue(d *codec.Decoder) {
	r.SubscriptionPartitionID = d.Int32()
	r.WorkflowInstanceKey = d.Int64()
	r.ElementInstanceKey = d.Int64()
	r.MessageKey = d.Int64()
	r.CloseOnCorrelate = d.Bool()
	r.BpmnProcessID = d.String()
	r.MessageName = d.String()
	r.CorrelationKey = d.String()
	r.Variables = d.Bytes()
}

// WorkflowInstanceSubscriptionRecord is the value of
// WORKFLOW_INSTANCE_SUBSCRIPTION records, which describe subscriptions held
// on a workflow instance's partition.
type WorkflowInstanceSubscriptionRecord struct {
	SubscriptionPartitionID int32
	WorkflowInstanceKey     int64
	ElementInstanceKey      int64
	MessageKey              int64
	CloseOnCorrelate        bool
	BpmnProcessID           string
	MessageName             string
	CorrelationKey          string
	CatchElementID          string
	Variables               []byte
}

// ValueType returns WorkflowInstanceSubscriptionValue.
func (*WorkflowInstanceSubscriptionRecord) ValueType() ValueType {
	return WorkflowInstanceSubscriptionValue
}

func (r *WorkflowInstanceSubscriptionRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.SubscriptionPartitionID)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.ElementInstanceKey)
	e.Int64(r.MessageKey)
	e.Bool(r.CloseOnCorrelate)
	e.String(r.BpmnProcessID)
	e.String(r.MessageName)
	e.String(r.CorrelationKey)
	e.String(r.CatchElementID)
	e.Bytes(r.Variables)
}

func (r *WorkflowInstanceSubscriptionRecord) decodeValue(d *codec.Decoder) {
	r.SubscriptionPartitionID = d.Int32()
	r.WorkflowInstanceKey = d.Int64()
	r.ElementInstanceKey = d.Int64()
	r.MessageKey = d.Int64()
	r.CloseOnCorrelate = d.Bool()
	r.BpmnProcessID = d.String()
	r.MessageName = d.String()
	r.CorrelationKey = d.String()
	r.CatchElementID = d.String()
	r.Variables = d.Bytes()
}

// MessageStartEventSubscriptionRecord is the value of
// MESSAGE_START_EVENT_SUBSCRIPTION records.
type MessageStartEventSubscriptionRecord struct {
	WorkflowKey   int64
	BpmnProcessID string
	MessageName   string
	StartEventID  string
}

// ValueType returns MessageStartEventSubscriptionValue.
func (*MessageStartEventSubscriptionRecord) ValueType() ValueType {
	return MessageStartEventSubscriptionValue
}

func (r *MessageStartEventSubscriptionRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.WorkflowKey)
	e.String(r.BpmnProcessID)
	e.String(r.MessageName)
	e.String(r.StartEventID)
}

func (r *MessageStartEventSubscriptionRecord) decodeValue(d *codec.Decoder) {
	r.WorkflowKey = d.Int64()
	r.BpmnProcessID = d.String()
	r.MessageName = d.String()
	r.StartEventID = d.String()
}
