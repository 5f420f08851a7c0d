package job

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// create processes a JOB.CREATE command.
func create(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.JobRecord)

	if v.Type == "" {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to create a job with a non-empty type",
		)
	}

	inst, ok := pc.State.Elements().Get(v.ElementInstanceKey)
	if !ok || inst.State != protocol.ElementActivated {
		return processor.Reject(
			protocol.InvalidState,
			"Expected to create a job for an activated element instance with key '%d', but it is not active",
			v.ElementInstanceKey,
		)
	}

	rec := *v
	r := ctl.Accept(protocol.JobCreated, &rec)

	pc.State.Jobs().Put(&state.Job{
		Key:    r.Key,
		Status: state.JobActivatable,
		Record: rec,
	})

	return nil
}

// complete processes a JOB.COMPLETE command.
//
// The element instance that created the job is completed by the workflow
// processors when the JOB.COMPLETED event is written.
func complete(pc *processor.Context, ctl *processor.CommandControl) error {
	j, err := activated(pc, "complete")
	if err != nil {
		return err
	}

	v := pc.Record.Value.(*protocol.JobRecord)

	rec := j.Record
	rec.Variables = v.Variables

	pc.State.Jobs().Remove(j.Key)
	ctl.Accept(protocol.JobCompleted, &rec)

	return nil
}

// fail processes a JOB.FAIL command.
func fail(pc *processor.Context, ctl *processor.CommandControl) error {
	j, err := activated(pc, "fail")
	if err != nil {
		return err
	}

	v := pc.Record.Value.(*protocol.JobRecord)

	j.Record.Retries = v.Retries
	j.Record.ErrorMessage = v.ErrorMessage
	j.Record.RetryBackoff = v.RetryBackoff
	j.Record.Worker = ""
	j.Record.Deadline = 0
	j.RecurAt = 0

	switch {
	case v.Retries <= 0:
		j.Status = state.JobFailed
	case v.RetryBackoff > 0:
		j.Status = state.JobFailed
		j.RecurAt = pc.NowMillis() + v.RetryBackoff
	default:
		j.Status = state.JobActivatable
	}

	pc.State.Jobs().Put(j)
	ctl.Accept(protocol.JobFailed, &j.Record)

	if v.Retries <= 0 {
		message := v.ErrorMessage
		if message == "" {
			message = "No more retries left."
		}

		raiseIncident(pc, j, protocol.JobNoRetries, message)
	}

	return nil
}

// timeOut processes a JOB.TIME_OUT command.
func timeOut(pc *processor.Context, ctl *processor.CommandControl) error {
	j, err := activated(pc, "time out")
	if err != nil {
		return err
	}

	if j.Record.Deadline > pc.NowMillis() {
		return processor.Reject(
			protocol.InvalidState,
			"Expected to time out activated job with key '%d', but its deadline has not passed",
			j.Key,
		)
	}

	j.Status = state.JobActivatable
	j.Record.Worker = ""
	j.Record.Deadline = 0
	pc.State.Jobs().Put(j)

	ctl.Accept(protocol.JobTimedOut, &j.Record)

	return nil
}

// updateRetries processes a JOB.UPDATE_RETRIES command.
func updateRetries(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.JobRecord)

	j, ok := pc.State.Jobs().Get(pc.Record.Key)
	if !ok {
		return notFound("update retries of", pc.Record.Key)
	}

	if v.Retries < 1 {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to update retries of job with key '%d' with a positive amount of retries, but got %d",
			j.Key,
			v.Retries,
		)
	}

	j.Record.Retries = v.Retries
	pc.State.Jobs().Put(j)

	ctl.Accept(protocol.JobRetriesUpdated, &j.Record)

	return nil
}

// cancel processes a JOB.CANCEL command, which is written when the element
// instance that created the job is terminated.
func cancel(pc *processor.Context, ctl *processor.CommandControl) error {
	j, ok := pc.State.Jobs().Get(pc.Record.Key)
	if !ok {
		return notFound("cancel", pc.Record.Key)
	}

	pc.State.Jobs().Remove(j.Key)
	ctl.Accept(protocol.JobCanceled, &j.Record)

	incidents := pc.State.Incidents()
	if key, ok := incidents.ForJob(j.Key); ok {
		if inc, ok := incidents.Get(key); ok {
			incidents.Remove(key)
			pc.WriteEvent(key, protocol.IncidentResolved, &inc.Record)
		}
	}

	return nil
}

// throwError processes a JOB.THROW_ERROR command.
//
// Error events are not caught, so the job is halted by an incident.
func throwError(pc *processor.Context, ctl *processor.CommandControl) error {
	j, err := activated(pc, "throw an error for")
	if err != nil {
		return err
	}

	v := pc.Record.Value.(*protocol.JobRecord)

	j.Status = state.JobErrorThrown
	j.Record.ErrorCode = v.ErrorCode
	j.Record.ErrorMessage = v.ErrorMessage
	j.Record.Worker = ""
	j.Record.Deadline = 0
	pc.State.Jobs().Put(j)

	ctl.Accept(protocol.JobErrorThrown, &j.Record)

	raiseIncident(
		pc,
		j,
		protocol.UnhandledErrorEvent,
		"An error was thrown with the code '"+v.ErrorCode+"' but not caught.",
	)

	return nil
}

// activated returns the job that the command being processed applies to. The
// command is rejected if the job is not activated.
func activated(pc *processor.Context, verb string) (*state.Job, error) {
	j, ok := pc.State.Jobs().Get(pc.Record.Key)
	if !ok || j.Status != state.JobActivated {
		return nil, notFound(verb, pc.Record.Key)
	}

	return j, nil
}

func notFound(verb string, key int64) error {
	return processor.Reject(
		protocol.NotFound,
		"Expected to %s job with key '%d', but no such job was found",
		verb,
		key,
	)
}

// raiseIncident raises an incident for a job. Job incidents are resolved by
// making the job activatable again, so no failed record is kept.
func raiseIncident(pc *processor.Context, j *state.Job, t protocol.ErrorType, message string) {
	pc.RaiseIncident(
		&protocol.IncidentRecord{
			ErrorType:           t,
			ErrorMessage:        message,
			BpmnProcessID:       j.Record.BpmnProcessID,
			WorkflowKey:         j.Record.WorkflowKey,
			WorkflowInstanceKey: j.Record.WorkflowInstanceKey,
			ElementID:           j.Record.ElementID,
			ElementInstanceKey:  j.Record.ElementInstanceKey,
			JobKey:              j.Key,
			VariableScopeKey:    j.Record.ElementInstanceKey,
		},
		nil,
	)
}
