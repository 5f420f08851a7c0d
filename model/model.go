// Package model describes executable processes.
//
// A process is deployed as a YAML document that describes a normalized
// process model: its elements, the sequence flows between them, and the
// definitions of their jobs, messages, timers and variable mappings.
package model

import "github.com/dogmatiq/conductor/protocol"

// Process is an executable process.
type Process struct {
	// ID is the BPMN process ID.
	ID string

	// Root is the element that represents the process itself.
	Root *Element

	elements map[string]*Element
	flows    map[string]*SequenceFlow
}

// Element returns the element with the given ID, or nil if there is no such
// element.
func (p *Process) Element(id string) *Element {
	if id == p.ID {
		return p.Root
	}
	return p.elements[id]
}

// Flow returns the sequence flow with the given ID, or nil if there is no
// such flow.
func (p *Process) Flow(id string) *SequenceFlow {
	return p.flows[id]
}

// NoneStartEvent returns the start event that is used when an instance is
// created by a command, or nil if the process can only be started by events.
func (p *Process) NoneStartEvent() *Element {
	return p.Root.NoneStartEvent()
}

// MessageStartEvents returns the process's message start events.
func (p *Process) MessageStartEvents() []*Element {
	var events []*Element
	for _, e := range p.Root.StartEvents {
		if e.Message != nil {
			events = append(events, e)
		}
	}
	return events
}

// TimerStartEvents returns the process's timer start events.
func (p *Process) TimerStartEvents() []*Element {
	var events []*Element
	for _, e := range p.Root.StartEvents {
		if e.Timer != nil {
			events = append(events, e)
		}
	}
	return events
}

// Element is a node of a process, or the process itself.
type Element struct {
	ID   string
	Type protocol.BpmnElementType

	// FlowScope is the process or sub-process that contains the element. It
	// is nil for the process element.
	FlowScope *Element

	Incoming []*SequenceFlow
	Outgoing []*SequenceFlow

	// Default is the flow taken by an exclusive gateway when no condition is
	// met.
	Default *SequenceFlow

	// Children and StartEvents are populated for processes and sub-processes.
	Children    []*Element
	StartEvents []*Element

	// Boundaries are the boundary events attached to an activity.
	Boundaries []*Element

	// AttachedTo is the activity that a boundary event is attached to.
	AttachedTo *Element

	// Interrupting is true if a boundary event terminates the activity it is
	// attached to.
	Interrupting bool

	Job     *JobDefinition
	Message *MessageDefinition
	Timer   *TimerDefinition

	Inputs  []Mapping
	Outputs []Mapping
}

// NoneStartEvent returns the start event of the scope that has no event
// definition.
func (e *Element) NoneStartEvent() *Element {
	for _, s := range e.StartEvents {
		if s.Message == nil && s.Timer == nil {
			return s
		}
	}
	return nil
}

// IsScope returns true if the element contains other elements.
func (e *Element) IsScope() bool {
	return e.Type == protocol.ProcessElement || e.Type == protocol.SubProcessElement
}

// IsActivity returns true if boundary events may be attached to the element.
func (e *Element) IsActivity() bool {
	switch e.Type {
	case protocol.ServiceTaskElement,
		protocol.ReceiveTaskElement,
		protocol.SubProcessElement:
		return true
	}
	return false
}

// HasEvent returns true if the element waits for a message or a timer.
func (e *Element) HasEvent() bool {
	return e.Message != nil || e.Timer != nil
}

// EventElements returns the elements whose events are awaited while the
// element is activated.
//
// For an event-based gateway these are the events that follow it. For other
// elements they are the element itself, if it waits for an event, and its
// boundary events.
func (e *Element) EventElements() []*Element {
	var events []*Element

	if e.Type == protocol.EventBasedGatewayElement {
		for _, f := range e.Outgoing {
			events = append(events, f.Target)
		}
		return events
	}

	if e.HasEvent() && e.Type != protocol.BoundaryEventElement {
		events = append(events, e)
	}

	return append(events, e.Boundaries...)
}

// SequenceFlow connects two elements in the same scope.
type SequenceFlow struct {
	ID        string
	Source    *Element
	Target    *Element
	Condition string
}

// JobDefinition describes the job created for a service task.
type JobDefinition struct {
	Type    string
	Retries int32
	Headers map[string]string
}

// MessageDefinition describes the message awaited by an element.
type MessageDefinition struct {
	Name string

	// CorrelationKey is an expression that is evaluated when the element is
	// activated. It is empty for message start events.
	CorrelationKey string
}

// TimerDefinition describes the timer awaited by an element. Exactly one of
// Duration and Cycle is set.
type TimerDefinition struct {
	Duration string
	Cycle    string
}

// Mapping copies the result of the Source expression to the Target variable.
type Mapping struct {
	Source string
	Target string
}
