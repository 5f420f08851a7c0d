package workflow

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// resolveIncident processes an INCIDENT.RESOLVE command.
//
// A job incident makes the job activatable again. Any other incident writes
// the event that failed, so that it is handled again.
func resolveIncident(pc *processor.Context, ctl *processor.CommandControl) error {
	inc, ok := pc.State.Incidents().Get(pc.Record.Key)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to resolve incident with key '%d', but no such incident was found",
			pc.Record.Key,
		)
	}

	if k := inc.Record.JobKey; k > 0 {
		jobs := pc.State.Jobs()

		j, ok := jobs.Get(k)
		if !ok {
			return processor.Reject(
				protocol.NotFound,
				"Expected to resolve incident with key '%d', but job with key '%d' was not found",
				inc.Key,
				k,
			)
		}

		if j.Record.Retries <= 0 {
			return processor.Reject(
				protocol.InvalidState,
				"Expected to resolve incident with key '%d', but job with key '%d' has no retries left",
				inc.Key,
				k,
			)
		}

		j.Status = state.JobActivatable
		j.RecurAt = 0
		jobs.Put(j)
	}

	pc.State.Incidents().Remove(inc.Key)
	ctl.Accept(protocol.IncidentResolved, &inc.Record)

	if f := inc.FailedRecord; f != nil {
		retry(pc, f)
	}

	return nil
}

// retry writes an event that failed to be handled again.
func retry(pc *processor.Context, f *protocol.Record) {
	v := f.Value.(*protocol.WorkflowInstanceRecord)
	pc.WriteEvent(f.Key, f.Intent, v)

	if f.Intent == protocol.SequenceFlowTaken {
		// The token of the failed flow is still counted by its scope.
		elements := pc.State.Elements()
		if scope, ok := elements.Get(v.FlowScopeKey); ok {
			scope.ActiveTokens--
			elements.Put(scope)
		}
	}
}
