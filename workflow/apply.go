package workflow

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// applyInstanceEvent updates the element instance state as soon as a
// WORKFLOW_INSTANCE event is written, so that the rest of the processing step
// observes the new lifecycle state and token counts.
func applyInstanceEvent(pc *processor.Context, r *protocol.Record) {
	if r.RecordType != protocol.Event {
		return
	}

	v := r.Value.(*protocol.WorkflowInstanceRecord)
	elements := pc.State.Elements()

	switch r.Intent {
	case protocol.ElementActivating:
		if _, ok := elements.Get(r.Key); ok {
			// The event is re-written when an incident is resolved.
			return
		}

		elements.Put(&state.ElementInstance{
			Key:   r.Key,
			State: protocol.ElementActivating,
			Value: *v,
		})

		if v.FlowScopeKey > 0 {
			spawnToken(pc, v.FlowScopeKey)
			pc.State.Variables().SetParent(r.Key, v.FlowScopeKey)
		}

	case protocol.SequenceFlowTaken:
		spawnToken(pc, v.FlowScopeKey)

	case protocol.EventOccurred:
		// The instance remains activated until the event is handled.

	default:
		if inst, ok := elements.Get(r.Key); ok {
			inst.State = r.Intent
			elements.Put(inst)
		}
	}
}

// applyJobEvent links jobs to their element instances and completes the
// element instance of a completed job.
func applyJobEvent(pc *processor.Context, r *protocol.Record) {
	if r.RecordType != protocol.Event {
		return
	}

	v := r.Value.(*protocol.JobRecord)
	elements := pc.State.Elements()

	inst, ok := elements.Get(v.ElementInstanceKey)
	if !ok || inst.State != protocol.ElementActivated {
		return
	}

	switch r.Intent {
	case protocol.JobCreated:
		inst.JobKey = r.Key
		elements.Put(inst)

	case protocol.JobCompleted:
		inst.JobKey = 0
		elements.Put(inst)

		pc.State.Variables().SetTemporary(inst.Key, v.Variables)
		pc.WriteEvent(inst.Key, protocol.ElementCompleting, &inst.Value)
	}
}

// spawnToken increments the number of active tokens in a flow scope.
func spawnToken(pc *processor.Context, flowScopeKey int64) {
	elements := pc.State.Elements()

	if scope, ok := elements.Get(flowScopeKey); ok {
		scope.ActiveTokens++
		elements.Put(scope)
	}
}

// consumeTokens decrements the number of active tokens in a flow scope by n.
//
// When the last token is consumed an activated scope starts completing and a
// terminating scope is terminated.
func consumeTokens(pc *processor.Context, flowScopeKey int64, n int32) {
	elements := pc.State.Elements()

	scope, ok := elements.Get(flowScopeKey)
	if !ok {
		return
	}

	scope.ActiveTokens -= n
	elements.Put(scope)

	if scope.ActiveTokens > 0 {
		return
	}

	switch scope.State {
	case protocol.ElementActivated:
		pc.WriteEvent(scope.Key, protocol.ElementCompleting, &scope.Value)
	case protocol.ElementTerminating:
		pc.WriteEvent(scope.Key, protocol.ElementTerminated, &scope.Value)
	}
}

// removeInstance removes an element instance and its variables.
func removeInstance(pc *processor.Context, key int64) {
	pc.State.Elements().Remove(key)
	pc.State.Variables().RemoveScope(key)
}
