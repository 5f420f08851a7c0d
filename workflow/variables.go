package workflow

import (
	"bytes"
	"sort"

	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// applyInputs evaluates the element's input mappings and stores the results
// in the instance's local scope.
//
// It returns false if an incident was raised.
func (s *step) applyInputs() bool {
	if len(s.element.Inputs) == 0 {
		return true
	}

	doc, err := s.pc.State.Variables().Document(s.instance.Key)
	if err != nil {
		s.raiseIncident(protocol.IOMappingError, "unable to read variables: %s", err)
		return false
	}

	values, ok := s.evaluateMappings(s.element.Inputs, doc)
	if !ok {
		return false
	}

	for _, n := range sortedNames(values) {
		setVariable(s.pc, s.instance.Key, n, values[n], &s.instance.Value)
	}

	return true
}

// applyOutputs evaluates the element's output mappings against its variables
// and payload, and propagates the results to the flow scope.
//
// Without output mappings the payload itself is propagated.
//
// It returns false if an incident was raised.
func (s *step) applyOutputs(payload []byte) bool {
	if len(s.element.Outputs) == 0 && len(payload) == 0 {
		return true
	}

	pdoc, err := protocol.UnmarshalDocument(payload)
	if err != nil {
		s.raiseIncident(protocol.IOMappingError, "unable to read payload: %s", err)
		return false
	}

	if len(s.element.Outputs) == 0 {
		values, err := encodeDocument(pdoc)
		if err != nil {
			s.raiseIncident(protocol.IOMappingError, "%s", err)
			return false
		}

		for _, n := range sortedNames(values) {
			propagateVariable(s.pc, s.instance.Key, n, values[n], &s.instance.Value)
		}

		return true
	}

	doc, err := s.pc.State.Variables().Document(s.instance.Key)
	if err != nil {
		s.raiseIncident(protocol.IOMappingError, "unable to read variables: %s", err)
		return false
	}

	for n, v := range pdoc {
		doc[n] = v
	}

	values, ok := s.evaluateMappings(s.element.Outputs, doc)
	if !ok {
		return false
	}

	scope := s.instance.Value.FlowScopeKey
	if scope <= 0 {
		scope = s.instance.Key
	}

	for _, n := range sortedNames(values) {
		propagateVariable(s.pc, scope, n, values[n], &s.instance.Value)
	}

	return true
}

// evaluateMappings evaluates mappings against a variable document. It returns
// the encoded values keyed by target name.
func (s *step) evaluateMappings(mappings []model.Mapping, doc map[string]any) (map[string][]byte, bool) {
	values := map[string][]byte{}

	for _, m := range mappings {
		v, err := s.pc.Expr.Value(m.Source, doc)
		if err != nil {
			s.raiseIncident(
				protocol.IOMappingError,
				"failed to map %q to %q: %s",
				m.Source,
				m.Target,
				err,
			)
			return nil, false
		}

		data, err := protocol.MarshalVariable(v)
		if err != nil {
			s.raiseIncident(
				protocol.IOMappingError,
				"failed to map %q to %q: %s",
				m.Source,
				m.Target,
				err,
			)
			return nil, false
		}

		values[m.Target] = data
	}

	return values, true
}

// updateVariables processes a VARIABLE_DOCUMENT.UPDATE command.
func updateVariables(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.VariableDocumentRecord)

	inst, ok := pc.State.Elements().Get(v.ScopeKey)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to update variables for element with key '%d', but no such element was found",
			v.ScopeKey,
		)
	}

	doc, err := protocol.UnmarshalDocument(v.Document)
	if err != nil {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected document to be a valid variable document: %s",
			err,
		)
	}

	values, err := encodeDocument(doc)
	if err != nil {
		return processor.Reject(protocol.InvalidArgument, "%s", err)
	}

	ctl.Accept(protocol.VariableDocumentUpdated, v)

	for _, n := range sortedNames(values) {
		if v.UpdateSemantics == protocol.Local {
			setVariable(pc, inst.Key, n, values[n], &inst.Value)
		} else {
			propagateVariable(pc, inst.Key, n, values[n], &inst.Value)
		}
	}

	return nil
}

// setVariable sets a variable in the given scope, writing a VARIABLE event if
// its value changed.
func setVariable(
	pc *processor.Context,
	scope int64,
	name string,
	value []byte,
	inst *protocol.WorkflowInstanceRecord,
) {
	vars := pc.State.Variables()

	existing, ok := vars.Get(scope, name)
	if ok && bytes.Equal(existing.Value, value) {
		return
	}

	intent := protocol.VariableUpdated
	key := pc.NextKey()

	if ok {
		key = existing.Key
	} else {
		intent = protocol.VariableCreated
	}

	vars.Set(&state.Variable{
		Key:   key,
		Scope: scope,
		Name:  name,
		Value: value,
	})

	pc.WriteEvent(key, intent, &protocol.VariableRecord{
		Name:                name,
		Value:               value,
		ScopeKey:            scope,
		WorkflowInstanceKey: inst.WorkflowInstanceKey,
		WorkflowKey:         inst.WorkflowKey,
	})
}

// propagateVariable sets a variable in the topmost scope above (and
// including) the given scope that already contains it, or in the root scope
// if none do.
func propagateVariable(
	pc *processor.Context,
	scope int64,
	name string,
	value []byte,
	inst *protocol.WorkflowInstanceRecord,
) {
	vars := pc.State.Variables()

	var chain []int64
	for sc := scope; sc > 0; sc = vars.Parent(sc) {
		chain = append(chain, sc)
	}

	if len(chain) == 0 {
		return
	}

	target := chain[len(chain)-1]
	for i := len(chain) - 1; i >= 0; i-- {
		if _, ok := vars.Get(chain[i], name); ok {
			target = chain[i]
			break
		}
	}

	setVariable(pc, target, name, value, inst)
}

// encodeDocument returns the encoded values of a variable document.
func encodeDocument(doc map[string]any) (map[string][]byte, error) {
	values := make(map[string][]byte, len(doc))

	for n, v := range doc {
		data, err := protocol.MarshalVariable(v)
		if err != nil {
			return nil, err
		}
		values[n] = data
	}

	return values, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
