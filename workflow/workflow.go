// Package workflow implements the BPMN state machine that advances workflow
// instances.
//
// Each WORKFLOW_INSTANCE event is handled by the handler registered for the
// type of the element it describes and the lifecycle state it enters. Handlers
// never move an element to its next state directly. They write the event for
// the next state, which is handled once it is read back from the log.
//
// The package also processes the commands that create and cancel instances,
// update variables, resolve incidents and trigger timers.
package workflow

import (
	"time"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
)

// DefaultTimerCheckInterval is the default interval at which due timers are
// triggered.
var DefaultTimerCheckInterval = 1 * time.Second

// Config is the configuration of the workflow processors.
type Config struct {
	// Sender delivers commands to other partitions, such as the commands
	// that open and close message subscriptions.
	Sender processor.CommandSender

	// TimerCheckInterval is the interval at which due timers are triggered.
	// If it is zero, DefaultTimerCheckInterval is used.
	TimerCheckInterval time.Duration
}

// Register adds the workflow processors to r.
//
// It returns the tasks that must be run by the stream processor.
func Register(r *processor.Registry, cfg Config) []processor.Task {
	e := &engine{sender: cfg.Sender}

	r.Observe(protocol.WorkflowInstanceValue, applyInstanceEvent)
	r.Observe(protocol.JobValue, applyJobEvent)

	for _, i := range []protocol.Intent{
		protocol.ElementActivating,
		protocol.ElementActivated,
		protocol.ElementCompleting,
		protocol.ElementCompleted,
		protocol.ElementTerminating,
		protocol.ElementTerminated,
		protocol.EventOccurred,
	} {
		r.RegisterFunc(protocol.WorkflowInstanceValue, i, e.handleElementEvent)
	}

	r.RegisterFunc(
		protocol.WorkflowInstanceValue,
		protocol.SequenceFlowTaken,
		e.handleSequenceFlowTaken,
	)

	r.RegisterCommand(
		protocol.WorkflowInstanceCreationValue,
		protocol.WorkflowInstanceCreate,
		createInstance,
	)

	r.RegisterCommand(
		protocol.WorkflowInstanceValue,
		protocol.WorkflowInstanceCancel,
		cancelInstance,
	)

	r.RegisterCommand(
		protocol.VariableDocumentValue,
		protocol.VariableDocumentUpdate,
		updateVariables,
	)

	r.RegisterCommand(
		protocol.IncidentValue,
		protocol.IncidentResolve,
		resolveIncident,
	)

	r.RegisterCommand(
		protocol.TimerValue,
		protocol.TimerTrigger,
		triggerTimer,
	)

	interval := cfg.TimerCheckInterval
	if interval == 0 {
		interval = DefaultTimerCheckInterval
	}

	return []processor.Task{
		{
			Name:     "due timers",
			Interval: interval,
			Run:      checkDueTimers,
		},
	}
}

// engine holds the collaborators of the element handlers.
type engine struct {
	sender processor.CommandSender
}
