package workflow

import (
	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// occur handles an event that occurred for the instance.
func (s *step) occur() error {
	elements := s.pc.State.Elements()

	t, ok := elements.Trigger(s.instance.Key)
	if !ok {
		return nil
	}

	catch := s.process.Element(t.ElementID)
	if catch == nil || catch.AttachedTo != s.element {
		s.transition(protocol.ElementCompleting)
		return nil
	}

	if catch.Interrupting {
		// The boundary event is activated once the instance is terminated.
		s.instance.InterruptedBy = catch.ID
		elements.Put(s.instance)
		s.transition(protocol.ElementTerminating)
		return nil
	}

	key := activateElement(s.pc, &s.instance.Value, s.instance.Value.FlowScopeKey, catch)
	moveTrigger(s.pc, s.instance.Key, key)

	return nil
}

// complete applies the element's output mappings.
func (s *step) complete() error {
	vars := s.pc.State.Variables()

	payload := vars.Temporary(s.instance.Key)
	if t, ok := s.pc.State.Elements().Trigger(s.instance.Key); ok {
		payload = t.Variables
	}

	if !s.applyOutputs(payload) {
		return nil
	}

	vars.RemoveTemporary(s.instance.Key)
	s.closeEvents()
	s.transition(protocol.ElementCompleted)

	return nil
}

// takeOutgoingFlows takes every outgoing flow of a completed element.
func (s *step) takeOutgoingFlows() error {
	s.leaveVia(s.element.Outgoing...)
	return nil
}

// takeConditionalFlow takes the first outgoing flow of an exclusive gateway
// whose condition is met, or the default flow.
func (s *step) takeConditionalFlow() error {
	if !s.scopeIsActive() {
		s.leaveVia()
		return nil
	}

	var doc map[string]any

	for _, f := range s.element.Outgoing {
		if f == s.element.Default {
			continue
		}

		if f.Condition == "" {
			s.leaveVia(f)
			return nil
		}

		if doc == nil {
			var err error
			doc, err = s.pc.State.Variables().Document(s.instance.Key)
			if err != nil {
				s.raiseIncident(protocol.ConditionError, "unable to read variables: %s", err)
				return nil
			}
		}

		ok, err := s.pc.Expr.Condition(f.Condition, doc)
		if err != nil {
			s.raiseIncident(protocol.ConditionError, "%s", err)
			return nil
		}

		if ok {
			s.leaveVia(f)
			return nil
		}
	}

	if s.element.Default != nil {
		s.leaveVia(s.element.Default)
		return nil
	}

	if len(s.element.Outgoing) == 0 {
		s.leaveVia()
		return nil
	}

	s.raiseIncident(
		protocol.NoOutgoingFlowChosen,
		"expected at least one condition of %s to evaluate to true, or to have a default flow",
		s.element.ID,
	)

	return nil
}

// takeEventFlow takes the flow of an event-based gateway that leads to the
// event that occurred.
func (s *step) takeEventFlow() error {
	t, ok := s.pc.State.Elements().Trigger(s.instance.Key)
	if !ok {
		s.leaveVia()
		return nil
	}

	for _, f := range s.element.Outgoing {
		if f.Target.ID == t.ElementID {
			s.leaveVia(f)
			return nil
		}
	}

	s.leaveVia()
	return nil
}

// completeProcess removes a completed workflow instance.
func (s *step) completeProcess() error {
	removeInstance(s.pc, s.instance.Key)
	return nil
}

// leaveVia takes the given flows, if the flow scope is still active, and
// consumes the instance's token.
//
// An event trigger of the instance travels with the first flow.
func (s *step) leaveVia(flows ...*model.SequenceFlow) {
	scopeKey := s.instance.Value.FlowScopeKey

	if s.scopeIsActive() {
		for i, f := range flows {
			key := s.pc.NextKey()

			s.pc.WriteEvent(key, protocol.SequenceFlowTaken, &protocol.WorkflowInstanceRecord{
				BpmnProcessID:       s.instance.Value.BpmnProcessID,
				Version:             s.instance.Value.Version,
				WorkflowKey:         s.instance.Value.WorkflowKey,
				WorkflowInstanceKey: s.instance.Value.WorkflowInstanceKey,
				ElementID:           f.ID,
				FlowScopeKey:        scopeKey,
				BpmnElementType:     protocol.SequenceFlowElement,
			})

			if i == 0 && s.element.Type == protocol.EventBasedGatewayElement {
				moveTrigger(s.pc, s.instance.Key, key)
			}
		}
	}

	removeInstance(s.pc, s.instance.Key)
	consumeTokens(s.pc, scopeKey, 1)
}

// scopeIsActive returns true if the instance's flow scope is activated.
func (s *step) scopeIsActive() bool {
	scope, ok := s.pc.State.Elements().Get(s.instance.Value.FlowScopeKey)
	return ok && scope.State == protocol.ElementActivated
}

// closeEvents closes the message subscriptions and cancels the timers that
// the instance waits for.
func (s *step) closeEvents() {
	subs := s.pc.State.WorkflowInstanceSubscriptions()

	for _, sub := range subs.ForElement(s.instance.Key) {
		if sub.Status == state.SubscriptionClosing {
			continue
		}

		sub.Status = state.SubscriptionClosing
		sub.SentTime = s.pc.NowMillis()
		subs.Put(sub)

		s.pc.Send(
			s.sender,
			protocol.MessagePartitionID(sub.Record.CorrelationKey, s.pc.PartitionCount),
			keys.None,
			protocol.SubscriptionClose,
			MessageSubscriptionFor(&sub.Record),
		)
	}

	timers := s.pc.State.Timers()

	for _, key := range timers.ForElement(s.instance.Key) {
		if t, ok := timers.Get(key); ok {
			timers.Remove(key)
			s.pc.WriteEvent(key, protocol.TimerCanceled, t)
		}
	}
}
