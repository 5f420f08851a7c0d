package workflow

import (
	"errors"

	"github.com/dogmatiq/conductor/internal/expr"
	"github.com/dogmatiq/conductor/model"
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// triggerTimer processes a TIMER.TRIGGER command.
func triggerTimer(pc *processor.Context, ctl *processor.CommandControl) error {
	timers := pc.State.Timers()

	t, ok := timers.Get(pc.Record.Key)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to trigger timer with key '%d', but no such timer was found",
			pc.Record.Key,
		)
	}

	if t.ElementInstanceKey > 0 {
		err := CanTriggerEvent(pc, t.ElementInstanceKey)
		if errors.Is(err, ErrEventPending) {
			return processor.Reject(
				protocol.InvalidState,
				"Expected to trigger timer with key '%d', but the element instance has a pending event",
				pc.Record.Key,
			)
		} else if err != nil {
			return processor.Reject(
				protocol.NotFound,
				"Expected to trigger timer with key '%d', but no active element instance with key '%d' was found",
				pc.Record.Key,
				t.ElementInstanceKey,
			)
		}
	}

	p, err := loadProcess(pc, t.WorkflowKey)
	if err != nil {
		return err
	}

	timers.Remove(pc.Record.Key)
	ctl.Accept(protocol.TimerTriggered, t)

	el := p.Element(t.TargetElementID)

	if t.ElementInstanceKey > 0 {
		if err := TriggerEvent(pc, t.ElementInstanceKey, t.TargetElementID, pc.Record.Key, nil); err != nil {
			return err
		}

		if el != nil && el.AttachedTo != nil && !el.Interrupting {
			return rearmTimer(pc, t, el)
		}

		return nil
	}

	w, ok := pc.State.Deployments().Workflow(t.WorkflowKey)
	if !ok {
		return nil
	}

	CreateInstance(pc, w, t.TargetElementID, pc.Record.Key, nil)

	if el != nil {
		return rearmTimer(pc, t, el)
	}

	return nil
}

// rearmTimer creates the next timer of a cycle that has repetitions left.
func rearmTimer(pc *processor.Context, t *protocol.TimerRecord, el *model.Element) error {
	if el.Timer == nil || el.Timer.Cycle == "" {
		return nil
	}

	if t.Repetitions != expr.Infinite && t.Repetitions <= 1 {
		return nil
	}

	c, err := expr.ParseCycle(el.Timer.Cycle)
	if err != nil {
		return err
	}

	next := *t
	next.DueDate = c.Next(pc.Now()).UnixMilli()
	if next.Repetitions != expr.Infinite {
		next.Repetitions--
	}

	key := pc.NextKey()
	pc.WriteEvent(key, protocol.TimerCreated, &next)
	pc.State.Timers().Put(key, &next)

	return nil
}

// checkDueTimers writes a TIMER.TRIGGER command for each timer that is due.
func checkDueTimers(tc *processor.TaskContext) error {
	tc.State.Timers().VisitDue(
		tc.NowMillis(),
		func(key int64, r *protocol.TimerRecord) bool {
			tc.WriteCommand(key, protocol.TimerTrigger, r)
			return true
		},
	)

	return nil
}

// ScheduleStartTimers creates the timers of the timer start events of a newly
// deployed workflow.
func ScheduleStartTimers(pc *processor.Context, w *state.Workflow, p *model.Process) {
	for _, ev := range p.TimerStartEvents() {
		due, reps, err := schedule(ev.Timer, pc.Now())
		if err != nil {
			// The definition is validated when the workflow is deployed.
			continue
		}

		key := pc.NextKey()
		t := &protocol.TimerRecord{
			ElementInstanceKey:  -1,
			WorkflowInstanceKey: -1,
			WorkflowKey:         w.Key,
			DueDate:             due,
			Repetitions:         reps,
			TargetElementID:     ev.ID,
		}

		pc.WriteEvent(key, protocol.TimerCreated, t)
		pc.State.Timers().Put(key, t)
	}
}

// CancelStartTimers cancels the timers of the timer start events of a
// workflow that has been superseded by a newer version.
func CancelStartTimers(pc *processor.Context, workflowKey int64) {
	timers := pc.State.Timers()

	for _, key := range timers.ForWorkflow(workflowKey) {
		if t, ok := timers.Get(key); ok {
			timers.Remove(key)
			pc.WriteEvent(key, protocol.TimerCanceled, t)
		}
	}
}
