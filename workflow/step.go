package workflow

import (
	"fmt"

	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// step is the context in which an element handler is executed.
type step struct {
	*engine

	pc       *processor.Context
	instance *state.ElementInstance
	process  *model.Process
	element  *model.Element
}

// handler advances an element instance that has entered a lifecycle state.
type handler func(s *step) error

type handlerKey struct {
	Type   protocol.BpmnElementType
	Intent protocol.Intent
}

// handlers contains the handlers that are specific to an element type.
var handlers = map[handlerKey]handler{
	{protocol.ProcessElement, protocol.ElementActivated}:    (*step).activateScope,
	{protocol.ProcessElement, protocol.ElementCompleted}:    (*step).completeProcess,
	{protocol.ProcessElement, protocol.ElementTerminated}:   (*step).terminateProcess,
	{protocol.SubProcessElement, protocol.ElementActivated}: (*step).activateScope,

	{protocol.ServiceTaskElement, protocol.ElementActivated}:            (*step).createJob,
	{protocol.ReceiveTaskElement, protocol.ElementActivated}:            (*step).awaitEvent,
	{protocol.IntermediateCatchEventElement, protocol.ElementActivated}: (*step).awaitEvent,
	{protocol.EventBasedGatewayElement, protocol.ElementActivated}:      (*step).awaitEvent,

	{protocol.ExclusiveGatewayElement, protocol.ElementCompleted}:  (*step).takeConditionalFlow,
	{protocol.EventBasedGatewayElement, protocol.ElementCompleted}: (*step).takeEventFlow,
}

// defaultHandlers contains the handlers used for element types that have no
// specific handler for a lifecycle state.
var defaultHandlers = map[protocol.Intent]handler{
	protocol.ElementActivating:  (*step).activate,
	protocol.ElementActivated:   (*step).passThrough,
	protocol.EventOccurred:      (*step).occur,
	protocol.ElementCompleting:  (*step).complete,
	protocol.ElementCompleted:   (*step).takeOutgoingFlows,
	protocol.ElementTerminating: (*step).terminate,
	protocol.ElementTerminated:  (*step).leave,
}

func lookupHandler(t protocol.BpmnElementType, i protocol.Intent) handler {
	if h, ok := handlers[handlerKey{t, i}]; ok {
		return h
	}
	return defaultHandlers[i]
}

// handleElementEvent dispatches a lifecycle event to the handler for the
// element's type and the state it has entered.
func (e *engine) handleElementEvent(pc *processor.Context) error {
	rec := pc.Record
	if rec.RecordType != protocol.Event {
		return nil
	}

	inst, ok := pc.State.Elements().Get(rec.Key)
	if !ok {
		// The instance has already left the flow.
		return nil
	}

	expected := rec.Intent
	if expected == protocol.EventOccurred {
		expected = protocol.ElementActivated
	}

	if inst.State != expected {
		// The instance has moved on since the event was written, for example
		// because its flow scope is being terminated.
		return nil
	}

	s, err := e.newStep(pc, inst)
	if err != nil {
		return err
	}

	return lookupHandler(s.element.Type, rec.Intent)(s)
}

func (e *engine) newStep(pc *processor.Context, inst *state.ElementInstance) (*step, error) {
	p, err := loadProcess(pc, inst.Value.WorkflowKey)
	if err != nil {
		return nil, err
	}

	el := p.Element(inst.Value.ElementID)
	if el == nil {
		return nil, fmt.Errorf(
			"workflow %d does not contain an element with ID %q",
			inst.Value.WorkflowKey,
			inst.Value.ElementID,
		)
	}

	return &step{
		engine:   e,
		pc:       pc,
		instance: inst,
		process:  p,
		element:  el,
	}, nil
}

// loadProcess returns the process model of a deployed workflow.
func loadProcess(pc *processor.Context, workflowKey int64) (*model.Process, error) {
	w, ok := pc.State.Deployments().Workflow(workflowKey)
	if !ok {
		return nil, fmt.Errorf("workflow %d is not deployed", workflowKey)
	}

	return pc.State.Deployments().Process(w)
}

// transition writes the event that moves the instance to its next state.
func (s *step) transition(i protocol.Intent) {
	v := s.instance.Value
	s.pc.WriteEvent(s.instance.Key, i, &v)

	// The written event has been applied to the state.
	s.instance.State = i
}

// raiseIncident raises an incident that halts the instance until the incident
// is resolved, at which point the event being handled is written again.
func (s *step) raiseIncident(t protocol.ErrorType, f string, v ...any) {
	inst := s.instance

	s.pc.RaiseIncident(
		&protocol.IncidentRecord{
			ErrorType:           t,
			ErrorMessage:        fmt.Sprintf(f, v...),
			BpmnProcessID:       inst.Value.BpmnProcessID,
			WorkflowKey:         inst.Value.WorkflowKey,
			WorkflowInstanceKey: inst.Value.WorkflowInstanceKey,
			ElementID:           inst.Value.ElementID,
			ElementInstanceKey:  inst.Key,
			VariableScopeKey:    inst.Key,
		},
		s.pc.Record,
	)
}

// activateElement writes the event that activates a new instance of el
// within the given flow scope. It returns the key of the new instance.
func activateElement(
	pc *processor.Context,
	scope *protocol.WorkflowInstanceRecord,
	scopeKey int64,
	el *model.Element,
) int64 {
	key := pc.NextKey()

	pc.WriteEvent(key, protocol.ElementActivating, &protocol.WorkflowInstanceRecord{
		BpmnProcessID:       scope.BpmnProcessID,
		Version:             scope.Version,
		WorkflowKey:         scope.WorkflowKey,
		WorkflowInstanceKey: scope.WorkflowInstanceKey,
		ElementID:           el.ID,
		FlowScopeKey:        scopeKey,
		BpmnElementType:     el.Type,
	})

	return key
}

// moveTrigger moves an event trigger from one key to another.
func moveTrigger(pc *processor.Context, from, to int64) {
	elements := pc.State.Elements()

	if t, ok := elements.Trigger(from); ok {
		elements.RemoveTrigger(from)
		elements.SetTrigger(to, t)
	}
}
