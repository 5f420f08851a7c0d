package model

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/conductor/internal/expr"
	"github.com/dogmatiq/conductor/protocol"
)

func validate(e *Element) error {
	if err := validateEvents(e); err != nil {
		return err
	}

	if err := validateFlows(e); err != nil {
		return err
	}

	for _, m := range append(e.Inputs, e.Outputs...) {
		if m.Target == "" {
			return errors.New("mapping target must not be empty")
		}

		if err := expr.Check(m.Source); err != nil {
			return fmt.Errorf("mapping source: %w", err)
		}
	}

	return nil
}

func validateEvents(e *Element) error {
	if e.Job != nil && e.Type != protocol.ServiceTaskElement {
		return errors.New("only service tasks may define a job type")
	}

	if e.Timer != nil {
		if err := expr.CheckTimer(e.Timer.Duration, e.Timer.Cycle); err != nil {
			return err
		}
	}

	if e.Message != nil {
		if e.Message.Name == "" {
			return errors.New("message name must not be empty")
		}

		if e.Type == protocol.StartEventElement {
			if e.Message.CorrelationKey != "" {
				return errors.New("message start events must not define a correlation key")
			}
		} else if err := expr.Check(e.Message.CorrelationKey); err != nil {
			return fmt.Errorf("correlation key: %w", err)
		}
	}

	if e.Message != nil && e.Timer != nil {
		return errors.New("element must not wait for both a message and a timer")
	}

	switch e.Type {
	case protocol.ServiceTaskElement:
		if e.Job == nil {
			return errors.New("service task must define a job type")
		}
		if e.HasEvent() {
			return errors.New("service task must not define an event")
		}

	case protocol.ReceiveTaskElement:
		if e.Message == nil {
			return errors.New("receive task must define a message")
		}
		if e.Timer != nil {
			return errors.New("receive task must not define a timer")
		}

	case protocol.IntermediateCatchEventElement, protocol.BoundaryEventElement:
		if !e.HasEvent() {
			return errors.New("catch event must define a message or a timer")
		}

	case protocol.StartEventElement:
		if e.FlowScope.Type == protocol.SubProcessElement && e.HasEvent() {
			return errors.New("sub-process start events must not define an event")
		}

	default:
		if e.HasEvent() {
			return fmt.Errorf("%s elements must not define an event", e.Type)
		}
	}

	if e.Type == protocol.BoundaryEventElement && e.AttachedTo == nil {
		return errors.New("boundary event must be attached to an activity")
	}

	if e.Type == protocol.SubProcessElement {
		if e.NoneStartEvent() == nil {
			return errors.New("sub-process must have a start event")
		}
	}

	return nil
}

func validateFlows(e *Element) error {
	switch e.Type {
	case protocol.StartEventElement, protocol.BoundaryEventElement:
		if len(e.Incoming) != 0 {
			return fmt.Errorf("%s elements must not have incoming flows", e.Type)
		}
	case protocol.EndEventElement:
		if len(e.Outgoing) != 0 {
			return errors.New("end events must not have outgoing flows")
		}
	case protocol.EventBasedGatewayElement:
		if len(e.Outgoing) < 2 {
			return errors.New("event-based gateway must have at least two outgoing flows")
		}

		for _, f := range e.Outgoing {
			t := f.Target
			if t.Type != protocol.IntermediateCatchEventElement || !t.HasEvent() {
				return fmt.Errorf("event-based gateway target %q must be an intermediate catch event", t.ID)
			}
			if len(t.Incoming) != 1 {
				return fmt.Errorf("event-based gateway target %q must have exactly one incoming flow", t.ID)
			}
		}
	}

	for _, f := range e.Outgoing {
		if f.Condition == "" {
			continue
		}

		if e.Type != protocol.ExclusiveGatewayElement {
			return fmt.Errorf("sequence flow %q: only flows leaving an exclusive gateway may have a condition", f.ID)
		}

		if f == e.Default {
			return fmt.Errorf("sequence flow %q: default flow must not have a condition", f.ID)
		}

		if err := expr.Check(f.Condition); err != nil {
			return fmt.Errorf("sequence flow %q: %w", f.ID, err)
		}
	}

	return nil
}
