package model

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dogmatiq/conductor/protocol"
	"gopkg.in/yaml.v3"
)

// Parse parses the processes in a deployment resource.
func Parse(data []byte) ([]*Process, error) {
	var doc document

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to parse process document: %w", err)
	}

	if len(doc.Processes) == 0 {
		return nil, errors.New("process document does not contain any processes")
	}

	var (
		processes []*Process
		ids       = map[string]struct{}{}
	)

	for _, pd := range doc.Processes {
		if _, ok := ids[pd.ID]; ok {
			return nil, fmt.Errorf("process %q is defined more than once", pd.ID)
		}
		ids[pd.ID] = struct{}{}

		p, err := build(pd)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", pd.ID, err)
		}

		processes = append(processes, p)
	}

	return processes, nil
}

// ParseProcess parses the process with the given ID from a deployment
// resource.
func ParseProcess(data []byte, id string) (*Process, error) {
	processes, err := Parse(data)
	if err != nil {
		return nil, err
	}

	for _, p := range processes {
		if p.ID == id {
			return p, nil
		}
	}

	return nil, fmt.Errorf("process %q is not defined by the resource", id)
}

func build(pd processDocument) (*Process, error) {
	if pd.ID == "" {
		return nil, errors.New("process ID must not be empty")
	}

	p := &Process{
		ID: pd.ID,
		Root: &Element{
			ID:   pd.ID,
			Type: protocol.ProcessElement,
		},
		elements: map[string]*Element{},
		flows:    map[string]*SequenceFlow{},
	}

	if err := buildScope(p, p.Root, pd.Elements, pd.Flows); err != nil {
		return nil, err
	}

	if len(p.Root.StartEvents) == 0 {
		return nil, errors.New("process must have at least one start event")
	}

	return p, nil
}

func buildScope(
	p *Process,
	scope *Element,
	elements []elementDocument,
	flows []flowDocument,
) error {
	docs := map[*Element]elementDocument{}

	for _, ed := range elements {
		e, err := buildElement(p, scope, ed)
		if err != nil {
			return fmt.Errorf("element %q: %w", ed.ID, err)
		}
		docs[e] = ed
	}

	for _, fd := range flows {
		if err := buildFlow(p, scope, fd); err != nil {
			return fmt.Errorf("sequence flow %q: %w", fd.ID, err)
		}
	}

	for _, e := range scope.Children {
		if err := link(p, e, docs[e]); err != nil {
			return fmt.Errorf("element %q: %w", e.ID, err)
		}
	}

	for _, e := range scope.Children {
		if err := validate(e); err != nil {
			return fmt.Errorf("element %q: %w", e.ID, err)
		}
	}

	var none int
	for _, s := range scope.StartEvents {
		if !s.HasEvent() {
			none++
		}
	}

	if none > 1 {
		return errors.New("scope must not have more than one start event without an event definition")
	}

	return nil
}

func buildElement(p *Process, scope *Element, ed elementDocument) (*Element, error) {
	if err := register(p, ed.ID); err != nil {
		return nil, err
	}

	t, ok := elementTypes[ed.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported element type %q", ed.Type)
	}

	e := &Element{
		ID:           ed.ID,
		Type:         t,
		FlowScope:    scope,
		Interrupting: ed.CancelActivity == nil || *ed.CancelActivity,
	}

	p.elements[e.ID] = e
	scope.Children = append(scope.Children, e)

	if t == protocol.StartEventElement {
		scope.StartEvents = append(scope.StartEvents, e)
	}

	if ed.JobType != "" {
		e.Job = &JobDefinition{
			Type:    ed.JobType,
			Retries: DefaultJobRetries,
			Headers: ed.Headers,
		}

		if ed.Retries != nil {
			e.Job.Retries = *ed.Retries
		}
	}

	if ed.Message != nil {
		e.Message = &MessageDefinition{
			Name:           ed.Message.Name,
			CorrelationKey: ed.Message.CorrelationKey,
		}
	}

	if ed.Timer != nil {
		e.Timer = &TimerDefinition{
			Duration: ed.Timer.Duration,
			Cycle:    ed.Timer.Cycle,
		}
	}

	for _, m := range ed.Inputs {
		e.Inputs = append(e.Inputs, Mapping(m))
	}

	for _, m := range ed.Outputs {
		e.Outputs = append(e.Outputs, Mapping(m))
	}

	if t == protocol.SubProcessElement {
		if err := buildScope(p, e, ed.Elements, ed.Flows); err != nil {
			return nil, err
		}
	} else if len(ed.Elements) != 0 || len(ed.Flows) != 0 {
		return nil, errors.New("only sub-processes may contain elements")
	}

	return e, nil
}

func buildFlow(p *Process, scope *Element, fd flowDocument) error {
	if err := register(p, fd.ID); err != nil {
		return err
	}

	source := p.elements[fd.Source]
	if source == nil || source.FlowScope != scope {
		return fmt.Errorf("source %q is not an element in the same scope", fd.Source)
	}

	target := p.elements[fd.Target]
	if target == nil || target.FlowScope != scope {
		return fmt.Errorf("target %q is not an element in the same scope", fd.Target)
	}

	f := &SequenceFlow{
		ID:        fd.ID,
		Source:    source,
		Target:    target,
		Condition: fd.Condition,
	}

	p.flows[f.ID] = f
	source.Outgoing = append(source.Outgoing, f)
	target.Incoming = append(target.Incoming, f)

	return nil
}

func link(p *Process, e *Element, ed elementDocument) error {
	if ed.AttachedTo != "" {
		if e.Type != protocol.BoundaryEventElement {
			return errors.New("only boundary events may be attached to an activity")
		}

		a := p.elements[ed.AttachedTo]
		if a == nil || a.FlowScope != e.FlowScope || !a.IsActivity() {
			return fmt.Errorf("%q is not an activity in the same scope", ed.AttachedTo)
		}

		e.AttachedTo = a
		a.Boundaries = append(a.Boundaries, e)
	}

	if ed.Default != "" {
		if e.Type != protocol.ExclusiveGatewayElement {
			return errors.New("only exclusive gateways may have a default flow")
		}

		for _, f := range e.Outgoing {
			if f.ID == ed.Default {
				e.Default = f
			}
		}

		if e.Default == nil {
			return fmt.Errorf("default flow %q is not an outgoing flow of the gateway", ed.Default)
		}
	}

	return nil
}

func register(p *Process, id string) error {
	if id == "" {
		return errors.New("ID must not be empty")
	}

	if id == p.ID || p.elements[id] != nil || p.flows[id] != nil {
		return fmt.Errorf("ID %q is used more than once", id)
	}

	return nil
}
