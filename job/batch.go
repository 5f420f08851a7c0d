package job

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// activateBatch processes a JOB_BATCH.ACTIVATE command.
//
// It activates up to the requested number of activatable jobs of the given
// type, in key order.
func activateBatch(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.JobBatchRecord)

	if v.Type == "" {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to activate jobs with a non-empty type",
		)
	}

	if v.MaxJobsToActivate < 1 {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to activate a positive number of jobs, but got %d",
			v.MaxJobsToActivate,
		)
	}

	if v.Timeout < 1 {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to activate jobs with a positive timeout, but got %d",
			v.Timeout,
		)
	}

	jobs := pc.State.Jobs()
	now := pc.NowMillis()

	// Failed jobs become activatable once their retry backoff has elapsed.
	jobs.VisitRecurring(now+1, func(j *state.Job) bool {
		j.Status = state.JobActivatable
		j.RecurAt = 0
		jobs.Put(j)
		return true
	})

	var activated []*state.Job
	truncated := false

	jobs.VisitActivatable(v.Type, func(j *state.Job) bool {
		if len(activated) == int(v.MaxJobsToActivate) {
			truncated = true
			return false
		}

		activated = append(activated, j)
		return true
	})

	batch := &protocol.JobBatchRecord{
		Type:              v.Type,
		Worker:            v.Worker,
		Timeout:           v.Timeout,
		MaxJobsToActivate: v.MaxJobsToActivate,
		Truncated:         truncated,
	}

	for _, j := range activated {
		doc, err := pc.State.Variables().Document(j.Record.ElementInstanceKey)
		if err != nil {
			return err
		}

		vars, err := protocol.MarshalDocument(doc)
		if err != nil {
			return err
		}

		j.Status = state.JobActivated
		j.Record.Worker = v.Worker
		j.Record.Deadline = now + v.Timeout
		j.Record.Variables = nil
		jobs.Put(j)

		rec := j.Record
		rec.Variables = vars

		batch.JobKeys = append(batch.JobKeys, j.Key)
		batch.Jobs = append(batch.Jobs, rec)
	}

	ctl.Accept(protocol.JobBatchActivated, batch)

	for i, k := range batch.JobKeys {
		pc.WriteEvent(k, protocol.JobActivated, &batch.Jobs[i])
	}

	return nil
}
