package protocol

import "fmt"

// Intent is the verb of a record. Its meaning depends on the record's value
// type.
type Intent uint8

// Deployment intents.
const (
	DeploymentCreate Intent = iota
	DeploymentCreated
	DeploymentDistribute
	DeploymentDistributed
)

// Workflow instance intents.
const (
	ElementActivating Intent = iota
	ElementActivated
	ElementCompleting
	ElementCompleted
	ElementTerminating
	ElementTerminated
	EventOccurred
	SequenceFlowTaken
	WorkflowInstanceCancel
)

// Workflow instance creation intents.
const (
	WorkflowInstanceCreate Intent = iota
	WorkflowInstanceCreated
)

// Job intents.
const (
	JobCreate Intent = iota
	JobCreated
	JobActivated
	JobComplete
	JobCompleted
	JobTimeOut
	JobTimedOut
	JobFail
	JobFailed
	JobUpdateRetries
	JobRetriesUpdated
	JobCancel
	JobCanceled
	JobThrowError
	JobErrorThrown
)

// Job batch intents.
const (
	JobBatchActivate Intent = iota
	JobBatchActivated
)

// Message intents.
const (
	MessagePublish Intent = iota
	MessagePublished
	MessageDelete
	MessageDeleted
)

// Message subscription intents. These apply both to subscriptions held on a
// message's home partition and to the matching workflow instance
// subscriptions held on the instance's partition.
const (
	SubscriptionOpen Intent = iota
	SubscriptionOpened
	SubscriptionCorrelate
	SubscriptionCorrelated
	SubscriptionClose
	SubscriptionClosed
	SubscriptionReject
	SubscriptionRejected
)

// Message start event subscription intents.
const (
	StartEventSubscriptionOpened Intent = iota
	StartEventSubscriptionClosed
)

// Variable intents.
const (
	VariableCreated Intent = iota
	VariableUpdated
)

// Variable document intents.
const (
	VariableDocumentUpdate Intent = iota
	VariableDocumentUpdated
)

// Incident intents.
const (
	IncidentCreated Intent = iota
	IncidentResolve
	IncidentResolved
)

// Timer intents.
const (
	TimerCreated Intent = iota
	TimerTrigger
	TimerTriggered
	TimerCanceled
)

// Deployment distribution intents.
const (
	DistributionComplete Intent = iota
	DistributionCompleted
)

var intentNames = map[ValueType][]string{
	DeploymentValue: {"CREATE", "CREATED", "DISTRIBUTE", "DISTRIBUTED"},
	WorkflowInstanceValue: {
		"ELEMENT_ACTIVATING", "ELEMENT_ACTIVATED",
		"ELEMENT_COMPLETING", "ELEMENT_COMPLETED",
		"ELEMENT_TERMINATING", "ELEMENT_TERMINATED",
		"EVENT_OCCURRED", "SEQUENCE_FLOW_TAKEN", "CANCEL",
	},
	WorkflowInstanceCreationValue: {"CREATE", "CREATED"},
	JobValue: {
		"CREATE", "CREATED", "ACTIVATED", "COMPLETE", "COMPLETED",
		"TIME_OUT", "TIMED_OUT", "FAIL", "FAILED",
		"UPDATE_RETRIES", "RETRIES_UPDATED", "CANCEL", "CANCELED",
		"THROW_ERROR", "ERROR_THROWN",
	},
	JobBatchValue: {"ACTIVATE", "ACTIVATED"},
	MessageValue:  {"PUBLISH", "PUBLISHED", "DELETE", "DELETED"},
	MessageSubscriptionValue: {
		"OPEN", "OPENED", "CORRELATE", "CORRELATED",
		"CLOSE", "CLOSED", "REJECT", "REJECTED",
	},
	WorkflowInstanceSubscriptionValue: {
		"OPEN", "OPENED", "CORRELATE", "CORRELATED",
		"CLOSE", "CLOSED", "REJECT", "REJECTED",
	},
	MessageStartEventSubscriptionValue: {"OPENED", "CLOSED"},
	VariableValue:                      {"CREATED", "UPDATED"},
	VariableDocumentValue:              {"UPDATE", "UPDATED"},
	IncidentValue:                      {"CREATED", "RESOLVE", "RESOLVED"},
	TimerValue:                         {"CREATED", "TRIGGER", "TRIGGERED", "CANCELED"},
	DeploymentDistributionValue:        {"COMPLETE", "COMPLETED"},
}

// IntentName returns the human-readable name of an intent of the given value
// type.
func IntentName(t ValueType, i Intent) string {
	if names, ok := intentNames[t]; ok && int(i) < len(names) {
		return names[i]
	}

	return fmt.Sprintf("Intent(%d)", i)
}
