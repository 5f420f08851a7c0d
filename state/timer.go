package state

import (
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	timersBucketKey         = []byte("timers")
	timersDueBucketKey      = []byte("timers.due")
	timersElementsBucketKey = []byte("timers.elements")
)

// TimerState is the view of active timers.
type TimerState struct{ t *Tx }

// Timers returns the view of timers.
func (t *Tx) Timers() TimerState {
	return TimerState{t}
}

// Put stores a timer.
func (s TimerState) Put(key int64, r *protocol.TimerRecord) {
	bboltx.Put(s.t.bucket(timersBucketKey), int64Key(key), marshalValue(r))
	bboltx.Add(s.t.bucket(timersDueBucketKey), join(int64Key(r.DueDate), int64Key(key)))

	if r.ElementInstanceKey > 0 {
		bboltx.Add(
			s.t.bucket(timersElementsBucketKey),
			join(int64Key(r.ElementInstanceKey), int64Key(key)),
		)
	}
}

// Get returns the timer with the given key.
func (s TimerState) Get(key int64) (*protocol.TimerRecord, bool) {
	data := bboltx.Get(s.t.bucket(timersBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	return unmarshalValue[*protocol.TimerRecord](protocol.TimerValue, data), true
}

// Remove removes a timer.
func (s TimerState) Remove(key int64) {
	r, ok := s.Get(key)
	if !ok {
		return
	}

	bboltx.Delete(s.t.bucket(timersBucketKey), int64Key(key))
	bboltx.Delete(s.t.bucket(timersDueBucketKey), join(int64Key(r.DueDate), int64Key(key)))

	if r.ElementInstanceKey > 0 {
		bboltx.Delete(
			s.t.bucket(timersElementsBucketKey),
			join(int64Key(r.ElementInstanceKey), int64Key(key)),
		)
	}
}

// VisitDue calls fn for each timer with a due date at or before now, in
// due date order.
func (s TimerState) VisitDue(now int64, fn func(key int64, r *protocol.TimerRecord) bool) {
	for _, k := range bboltx.Keys(s.t.bucket(timersDueBucketKey), nil) {
		if parseInt64Key(k) > now {
			return
		}

		key := parseInt64Key(k[8:])
		if r, ok := s.Get(key); ok && !fn(key, r) {
			return
		}
	}
}

// ForElement returns the keys of the timers of an element instance.
func (s TimerState) ForElement(elementInstanceKey int64) []int64 {
	var timers []int64

	for _, k := range bboltx.Keys(s.t.bucket(timersElementsBucketKey), int64Key(elementInstanceKey)) {
		timers = append(timers, parseInt64Key(k[8:]))
	}

	return timers
}

// ForWorkflow returns the keys of the start event timers of a workflow.
func (s TimerState) ForWorkflow(workflowKey int64) []int64 {
	var timers []int64

	bboltx.ForEachPrefix(
		s.t.bucket(timersBucketKey),
		nil,
		func(k, v []byte) bool {
			r := unmarshalValue[*protocol.TimerRecord](protocol.TimerValue, v)
			if r.WorkflowKey == workflowKey && r.ElementInstanceKey <= 0 {
				timers = append(timers, parseInt64Key(k))
			}
			return true
		},
	)

	return timers
}
