package workflow

import (
	"errors"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

var (
	// ErrNotActive is returned by TriggerEvent if the element instance does
	// not exist or is not waiting for events.
	ErrNotActive = errors.New("element instance is not active")

	// ErrEventPending is returned by TriggerEvent if another event occurred
	// for the element instance and has not yet been handled.
	ErrEventPending = errors.New("element instance has a pending event")
)

// createInstance processes a WORKFLOW_INSTANCE_CREATION.CREATE command.
func createInstance(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.WorkflowInstanceCreationRecord)
	deployments := pc.State.Deployments()

	var (
		w  *state.Workflow
		ok bool
	)

	switch {
	case v.WorkflowKey > 0:
		w, ok = deployments.Workflow(v.WorkflowKey)
	case v.BpmnProcessID == "":
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected at least a bpmnProcessId or a key greater than -1, but none given",
		)
	case v.Version > 0:
		w, ok = deployments.WorkflowByVersion(v.BpmnProcessID, v.Version)
	default:
		w, ok = deployments.LatestWorkflow(v.BpmnProcessID)
	}

	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to find workflow definition with process ID '%s', version '%d' and key '%d', but none found",
			v.BpmnProcessID,
			v.Version,
			v.WorkflowKey,
		)
	}

	p, err := deployments.Process(w)
	if err != nil {
		return err
	}

	if p.NoneStartEvent() == nil {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to create instance of workflow with none start event, but there is no such event",
		)
	}

	doc, err := protocol.UnmarshalDocument(v.Variables)
	if err != nil {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to set variables from document, but the document is invalid: %s",
			err,
		)
	}

	values, err := encodeDocument(doc)
	if err != nil {
		return processor.Reject(protocol.InvalidArgument, "%s", err)
	}

	inst := startInstance(pc, w, values)

	ctl.Accept(protocol.WorkflowInstanceCreated, &protocol.WorkflowInstanceCreationRecord{
		BpmnProcessID:       w.BpmnProcessID,
		Version:             w.Version,
		WorkflowKey:         w.Key,
		WorkflowInstanceKey: inst.WorkflowInstanceKey,
		Variables:           v.Variables,
	})

	return nil
}

// CreateInstance starts an instance of a workflow at one of its message or
// timer start events. The variables of the event are applied when the start
// event completes.
func CreateInstance(
	pc *processor.Context,
	w *state.Workflow,
	startEventID string,
	eventKey int64,
	variables []byte,
) *protocol.WorkflowInstanceRecord {
	v := startInstance(pc, w, nil)

	pc.State.Elements().SetTrigger(v.WorkflowInstanceKey, &state.EventTrigger{
		ElementID: startEventID,
		EventKey:  eventKey,
		Variables: variables,
	})

	return v
}

func startInstance(
	pc *processor.Context,
	w *state.Workflow,
	values map[string][]byte,
) *protocol.WorkflowInstanceRecord {
	key := pc.NextKey()

	v := &protocol.WorkflowInstanceRecord{
		BpmnProcessID:       w.BpmnProcessID,
		Version:             w.Version,
		WorkflowKey:         w.Key,
		WorkflowInstanceKey: key,
		ElementID:           w.BpmnProcessID,
		FlowScopeKey:        -1,
		BpmnElementType:     protocol.ProcessElement,
	}

	pc.WriteEvent(key, protocol.ElementActivating, v)

	for _, n := range sortedNames(values) {
		setVariable(pc, key, n, values[n], v)
	}

	return v
}

// cancelInstance processes a WORKFLOW_INSTANCE.CANCEL command.
func cancelInstance(pc *processor.Context, ctl *processor.CommandControl) error {
	inst, ok := pc.State.Elements().Get(pc.Record.Key)

	if !ok || inst.Value.FlowScopeKey > 0 || !inst.IsActive() {
		return processor.Reject(
			protocol.NotFound,
			"Expected to cancel a workflow instance with key '%d', but no such workflow was found",
			pc.Record.Key,
		)
	}

	ctl.Accept(protocol.ElementTerminating, &inst.Value)

	return nil
}

// TriggerEvent records that an event caught by the element with the given ID
// occurred for an element instance.
//
// The element is either the instance's own element, a boundary event
// attached to it, or an event that follows an event-based gateway.
func TriggerEvent(
	pc *processor.Context,
	elementInstanceKey int64,
	elementID string,
	eventKey int64,
	variables []byte,
) error {
	if err := CanTriggerEvent(pc, elementInstanceKey); err != nil {
		return err
	}

	inst, _ := pc.State.Elements().Get(elementInstanceKey)

	pc.State.Elements().SetTrigger(elementInstanceKey, &state.EventTrigger{
		ElementID: elementID,
		EventKey:  eventKey,
		Variables: variables,
	})

	pc.WriteEvent(elementInstanceKey, protocol.EventOccurred, &inst.Value)

	return nil
}

// CanTriggerEvent returns an error if TriggerEvent would fail for the given
// element instance.
func CanTriggerEvent(pc *processor.Context, elementInstanceKey int64) error {
	elements := pc.State.Elements()

	inst, ok := elements.Get(elementInstanceKey)
	if !ok || inst.State != protocol.ElementActivated {
		return ErrNotActive
	}

	if _, ok := elements.Trigger(elementInstanceKey); ok {
		return ErrEventPending
	}

	return nil
}
