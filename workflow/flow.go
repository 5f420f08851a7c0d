package workflow

import (
	"fmt"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
)

// handleSequenceFlowTaken activates the target of a sequence flow.
//
// A parallel gateway with more than one incoming flow is activated once a
// token has arrived on each of its incoming flows.
func (e *engine) handleSequenceFlowTaken(pc *processor.Context) error {
	rec := pc.Record
	if rec.RecordType != protocol.Event {
		return nil
	}

	v := rec.Value.(*protocol.WorkflowInstanceRecord)
	elements := pc.State.Elements()

	scope, ok := elements.Get(v.FlowScopeKey)
	if !ok {
		return nil
	}

	if scope.State != protocol.ElementActivated {
		elements.RemoveTrigger(rec.Key)
		consumeTokens(pc, scope.Key, 1)
		return nil
	}

	p, err := loadProcess(pc, v.WorkflowKey)
	if err != nil {
		return err
	}

	flow := p.Flow(v.ElementID)
	if flow == nil {
		return fmt.Errorf(
			"workflow %d does not contain a sequence flow with ID %q",
			v.WorkflowKey,
			v.ElementID,
		)
	}

	target := flow.Target

	if target.Type == protocol.ParallelGatewayElement && len(target.Incoming) > 1 {
		elements.AddJoinToken(scope.Key, target.ID, flow.ID)
		tokens := elements.JoinTokens(scope.Key, target.ID)

		var flows []string
		for _, in := range target.Incoming {
			if tokens[in.ID] == 0 {
				// The token waits at the gateway.
				return nil
			}
			flows = append(flows, in.ID)
		}

		elements.ConsumeJoinTokens(scope.Key, target.ID, flows)
		activateElement(pc, &scope.Value, scope.Key, target)
		consumeTokens(pc, scope.Key, int32(len(flows)))

		return nil
	}

	key := activateElement(pc, &scope.Value, scope.Key, target)
	moveTrigger(pc, rec.Key, key)
	consumeTokens(pc, scope.Key, 1)

	return nil
}
