package workflow

import (
	"github.com/dogmatiq/conductor/protocol"
)

// terminate cancels the work of a terminating instance and terminates its
// children.
func (s *step) terminate() error {
	s.closeEvents()
	s.cancelJob()
	s.resolveIncidents()

	elements := s.pc.State.Elements()

	if s.element.IsScope() {
		for _, child := range elements.Children(s.instance.Key) {
			if child.IsActive() {
				v := child.Value
				s.pc.WriteEvent(child.Key, protocol.ElementTerminating, &v)
			}
		}

		// Tokens waiting at parallel gateways are discarded.
		if n := s.discardJoinTokens(); n > 0 {
			consumeTokens(s.pc, s.instance.Key, n)
			return nil
		}
	}

	if inst, ok := elements.Get(s.instance.Key); ok && inst.ActiveTokens == 0 {
		s.transition(protocol.ElementTerminated)
	}

	return nil
}

// leave consumes the token of a terminated instance, activating the
// interrupting boundary event that caused the termination, if any.
func (s *step) leave() error {
	if id := s.instance.InterruptedBy; id != "" && s.scopeIsActive() {
		boundary := s.process.Element(id)
		key := activateElement(s.pc, &s.instance.Value, s.instance.Value.FlowScopeKey, boundary)
		moveTrigger(s.pc, s.instance.Key, key)
	}

	removeInstance(s.pc, s.instance.Key)
	consumeTokens(s.pc, s.instance.Value.FlowScopeKey, 1)

	return nil
}

// terminateProcess removes a terminated workflow instance.
func (s *step) terminateProcess() error {
	removeInstance(s.pc, s.instance.Key)
	return nil
}

// cancelJob cancels the job of a service task.
func (s *step) cancelJob() {
	if s.instance.JobKey == 0 {
		return
	}

	if j, ok := s.pc.State.Jobs().Get(s.instance.JobKey); ok {
		s.pc.WriteCommand(j.Key, protocol.JobCancel, &j.Record)
	}
}

// resolveIncidents resolves the incident raised for the instance, if any.
func (s *step) resolveIncidents() {
	incidents := s.pc.State.Incidents()

	key, ok := incidents.ForElement(s.instance.Key)
	if !ok {
		return
	}

	if inc, ok := incidents.Get(key); ok {
		incidents.Remove(key)
		s.pc.WriteEvent(key, protocol.IncidentResolved, &inc.Record)
	}
}

// discardJoinTokens removes the tokens waiting at the parallel gateways within
// the instance. It returns the number of tokens removed.
func (s *step) discardJoinTokens() int32 {
	elements := s.pc.State.Elements()

	var n int32
	for _, child := range s.element.Children {
		if child.Type != protocol.ParallelGatewayElement || len(child.Incoming) < 2 {
			continue
		}

		tokens := elements.JoinTokens(s.instance.Key, child.ID)
		if len(tokens) == 0 {
			continue
		}

		for id, c := range tokens {
			n += int32(c)
			for i := 0; i < c; i++ {
				elements.ConsumeJoinTokens(s.instance.Key, child.ID, []string{id})
			}
		}
	}

	return n
}
