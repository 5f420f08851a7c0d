package workflow

import (
	"time"

	"github.com/dogmatiq/conductor/internal/expr"
	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// activate applies the element's input mappings.
func (s *step) activate() error {
	if !s.applyInputs() {
		return nil
	}

	s.transition(protocol.ElementActivated)
	return nil
}

// passThrough completes elements that do not wait for anything.
func (s *step) passThrough() error {
	s.transition(protocol.ElementCompleting)
	return nil
}

// activateScope activates the start event of a process or sub-process.
func (s *step) activateScope() error {
	if !s.openEvents() {
		return nil
	}

	start := s.element.NoneStartEvent()

	t, ok := s.pc.State.Elements().Trigger(s.instance.Key)
	if ok && s.element == s.process.Root {
		// The instance was created by a message or timer start event.
		start = s.process.Element(t.ElementID)
	}

	if start == nil {
		s.raiseIncident(
			protocol.UnknownError,
			"expected %s to have a none start event",
			s.element.ID,
		)
		return nil
	}

	key := activateElement(s.pc, &s.instance.Value, s.instance.Key, start)
	if ok {
		moveTrigger(s.pc, s.instance.Key, key)
	}

	return nil
}

// createJob creates the job of a service task.
func (s *step) createJob() error {
	if !s.openEvents() {
		return nil
	}

	def := s.element.Job
	v := s.instance.Value

	s.pc.WriteCommand(keys.None, protocol.JobCreate, &protocol.JobRecord{
		Type:                def.Type,
		Retries:             def.Retries,
		CustomHeaders:       def.Headers,
		ElementInstanceKey:  s.instance.Key,
		WorkflowInstanceKey: v.WorkflowInstanceKey,
		WorkflowKey:         v.WorkflowKey,
		BpmnProcessID:       v.BpmnProcessID,
		ElementID:           v.ElementID,
	})

	return nil
}

// awaitEvent waits for the events of a catch event, receive task or
// event-based gateway.
func (s *step) awaitEvent() error {
	if _, ok := s.pc.State.Elements().Trigger(s.instance.Key); ok {
		// The event occurred before the element was activated, which is the
		// case for the events that follow an event-based gateway.
		s.transition(protocol.ElementCompleting)
		return nil
	}

	s.openEvents()
	return nil
}

// openEvents opens a message subscription or creates a timer for each event
// that the instance waits for.
//
// It returns false if an incident was raised.
func (s *step) openEvents() bool {
	events := s.element.EventElements()
	if len(events) == 0 {
		return true
	}

	correlationKeys, ok := s.correlationKeys(events)
	if !ok {
		return false
	}

	for _, ev := range events {
		if ev.Message != nil {
			s.openSubscription(ev, correlationKeys[ev.ID])
		} else if ev.Timer != nil && !s.createTimer(ev) {
			return false
		}
	}

	return true
}

// correlationKeys evaluates the correlation keys of the message events before
// any subscription is opened.
func (s *step) correlationKeys(events []*model.Element) (map[string]string, bool) {
	var (
		result map[string]string
		doc    map[string]any
	)

	for _, ev := range events {
		if ev.Message == nil {
			continue
		}

		if doc == nil {
			var err error
			doc, err = s.pc.State.Variables().Document(s.instance.Key)
			if err != nil {
				s.raiseIncident(protocol.ExtractValueError, "unable to read variables: %s", err)
				return nil, false
			}
		}

		k, err := s.pc.Expr.CorrelationKey(ev.Message.CorrelationKey, doc)
		if err != nil {
			s.raiseIncident(
				protocol.ExtractValueError,
				"failed to extract the correlation key of %s: %s",
				ev.ID,
				err,
			)
			return nil, false
		}

		if result == nil {
			result = map[string]string{}
		}
		result[ev.ID] = k
	}

	return result, true
}

// openSubscription opens a subscription for the message awaited by ev and
// sends it to the message's partition.
func (s *step) openSubscription(ev *model.Element, correlationKey string) {
	v := s.instance.Value

	sub := &state.WorkflowInstanceSubscription{
		Record: protocol.WorkflowInstanceSubscriptionRecord{
			SubscriptionPartitionID: s.pc.PartitionID,
			WorkflowInstanceKey:     v.WorkflowInstanceKey,
			ElementInstanceKey:      s.instance.Key,
			CloseOnCorrelate:        ev.Type != protocol.BoundaryEventElement || ev.Interrupting,
			BpmnProcessID:           v.BpmnProcessID,
			MessageName:             ev.Message.Name,
			CorrelationKey:          correlationKey,
			CatchElementID:          ev.ID,
		},
		Status:   state.SubscriptionOpening,
		SentTime: s.pc.NowMillis(),
	}

	s.pc.State.WorkflowInstanceSubscriptions().Put(sub)

	s.pc.Send(
		s.sender,
		protocol.MessagePartitionID(correlationKey, s.pc.PartitionCount),
		keys.None,
		protocol.SubscriptionOpen,
		MessageSubscriptionFor(&sub.Record),
	)
}

// MessageSubscriptionFor returns the message subscription record that is sent
// to the message's partition on behalf of a workflow instance subscription.
func MessageSubscriptionFor(r *protocol.WorkflowInstanceSubscriptionRecord) *protocol.MessageSubscriptionRecord {
	return &protocol.MessageSubscriptionRecord{
		SubscriptionPartitionID: r.SubscriptionPartitionID,
		WorkflowInstanceKey:     r.WorkflowInstanceKey,
		ElementInstanceKey:      r.ElementInstanceKey,
		MessageKey:              r.MessageKey,
		CloseOnCorrelate:        r.CloseOnCorrelate,
		BpmnProcessID:           r.BpmnProcessID,
		MessageName:             r.MessageName,
		CorrelationKey:          r.CorrelationKey,
	}
}

// createTimer creates the timer awaited by ev.
//
// It returns false if an incident was raised.
func (s *step) createTimer(ev *model.Element) bool {
	v := s.instance.Value

	due, reps, err := schedule(ev.Timer, s.pc.Now())
	if err != nil {
		s.raiseIncident(protocol.ExtractValueError, "invalid timer of %s: %s", ev.ID, err)
		return false
	}

	key := s.pc.NextKey()
	t := &protocol.TimerRecord{
		ElementInstanceKey:  s.instance.Key,
		WorkflowInstanceKey: v.WorkflowInstanceKey,
		WorkflowKey:         v.WorkflowKey,
		DueDate:             due,
		Repetitions:         reps,
		TargetElementID:     ev.ID,
	}

	s.pc.WriteEvent(key, protocol.TimerCreated, t)
	s.pc.State.Timers().Put(key, t)

	return true
}

// schedule returns the due date and repetitions of a timer that starts at the
// given time.
func schedule(def *model.TimerDefinition, now time.Time) (int64, int32, error) {
	if def.Duration != "" {
		d, err := expr.ParseDuration(def.Duration)
		if err != nil {
			return 0, 0, err
		}
		return now.Add(d).UnixMilli(), 1, nil
	}

	c, err := expr.ParseCycle(def.Cycle)
	if err != nil {
		return 0, 0, err
	}

	return c.Next(now).UnixMilli(), c.Repetitions, nil
}
