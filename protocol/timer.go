package protocol

import "github.com/dogmatiq/conductor/codec"

// TimerRecord is the value of TIMER records.
//
// ElementInstanceKey is the element instance that awaits the timer, or -1 for
// timer start events. TargetElementID is the element that is triggered when
// the timer fires.
type TimerRecord struct {
	ElementInstanceKey  int64
	WorkflowInstanceKey int64
	WorkflowKey         int64
	DueDate             int64
	Repetitions         int32
	TargetElementID     string
}

// ValueType returns TimerValue.
func (*TimerRecord) ValueType() ValueType { return TimerValue }

func (r *TimerRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.ElementInstanceKey)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.WorkflowKey)
	e.Int64(r.DueDate)
	e.Int32(r.Repetitions)
	e.String(r.TargetElementID)
}

func (r *TimerRecord) decodeValue(d *codec.Decoder) {
	r.ElementInstanceKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.WorkflowKey = d.Int64()
	r.DueDate = d.Int64()
	r.Repetitions = d.Int32()
	r.TargetElementID = d.String()
}
