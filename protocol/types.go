package protocol

import "fmt"

// RecordType distinguishes commands, events and command rejections.
type RecordType uint8

const (
	// Command is a request to change state.
	Command RecordType = iota

	// Event is a fact about a state change that has occurred.
	Event

	// CommandRejection records that a command could not be applied.
	CommandRejection
)

func (t RecordType) String() string {
	switch t {
	case Command:
		return "COMMAND"
	case Event:
		return "EVENT"
	case CommandRejection:
		return "COMMAND_REJECTION"
	default:
		return fmt.Sprintf("RecordType(%d)", t)
	}
}

// ValueType is the domain entity that a record describes.
type ValueType uint8

const (
	// DeploymentValue is the value type of records that describe deployments.
	DeploymentValue ValueType = iota + 1
	WorkflowInstanceValue
	JobValue
	MessageValue
	MessageSubscriptionValue
	WorkflowInstanceSubscriptionValue
	MessageStartEventSubscriptionValue
	VariableValue
	VariableDocumentValue
	IncidentValue
	TimerValue
	DeploymentDistributionValue
	JobBatchValue
	WorkflowInstanceCreationValue
)

var valueTypeNames = map[ValueType]string{
	DeploymentValue:                    "DEPLOYMENT",
	WorkflowInstanceValue:              "WORKFLOW_INSTANCE",
	JobValue:                           "JOB",
	MessageValue:                       "MESSAGE",
	MessageSubscriptionValue:           "MESSAGE_SUBSCRIPTION",
	WorkflowInstanceSubscriptionValue:  "WORKFLOW_INSTANCE_SUBSCRIPTION",
	MessageStartEventSubscriptionValue: "MESSAGE_START_EVENT_SUBSCRIPTION",
	VariableValue:                      "VARIABLE",
	VariableDocumentValue:              "VARIABLE_DOCUMENT",
	IncidentValue:                      "INCIDENT",
	TimerValue:                         "TIMER",
	DeploymentDistributionValue:        "DEPLOYMENT_DISTRIBUTION",
	JobBatchValue:                      "JOB_BATCH",
	WorkflowInstanceCreationValue:      "WORKFLOW_INSTANCE_CREATION",
}

func (t ValueType) String() string {
	if n, ok := valueTypeNames[t]; ok {
		return n
	}

	return fmt.Sprintf("ValueType(%d)", t)
}

// RejectionType classifies the reason a command was rejected.
type RejectionType uint8

const (
	// NoRejection is the rejection type of records that are not rejections.
	NoRejection RejectionType = iota
	NotFound
	InvalidArgument
	InvalidState
	AlreadyExists
	ProcessingError
)

func (t RejectionType) String() string {
	switch t {
	case NoRejection:
		return "NULL_VAL"
	case NotFound:
		return "NOT_FOUND"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case InvalidState:
		return "INVALID_STATE"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case ProcessingError:
		return "PROCESSING_ERROR"
	default:
		return fmt.Sprintf("RejectionType(%d)", t)
	}
}

// BpmnElementType is the type of an element within an executable process.
type BpmnElementType uint8

const (
	UnspecifiedElement BpmnElementType = iota
	ProcessElement
	SubProcessElement
	StartEventElement
	EndEventElement
	IntermediateCatchEventElement
	IntermediateThrowEventElement
	BoundaryEventElement
	ServiceTaskElement
	ReceiveTaskElement
	ExclusiveGatewayElement
	ParallelGatewayElement
	EventBasedGatewayElement
	SequenceFlowElement
)

func (t BpmnElementType) String() string {
	switch t {
	case ProcessElement:
		return "PROCESS"
	case SubProcessElement:
		return "SUB_PROCESS"
	case StartEventElement:
		return "START_EVENT"
	case EndEventElement:
		return "END_EVENT"
	case IntermediateCatchEventElement:
		return "INTERMEDIATE_CATCH_EVENT"
	case IntermediateThrowEventElement:
		return "INTERMEDIATE_THROW_EVENT"
	case BoundaryEventElement:
		return "BOUNDARY_EVENT"
	case ServiceTaskElement:
		return "SERVICE_TASK"
	case ReceiveTaskElement:
		return "RECEIVE_TASK"
	case ExclusiveGatewayElement:
		return "EXCLUSIVE_GATEWAY"
	case ParallelGatewayElement:
		return "PARALLEL_GATEWAY"
	case EventBasedGatewayElement:
		return "EVENT_BASED_GATEWAY"
	case SequenceFlowElement:
		return "SEQUENCE_FLOW"
	default:
		return "UNSPECIFIED"
	}
}

// ErrorType classifies the cause of an incident.
type ErrorType uint8

const (
	UnknownError ErrorType = iota
	IOMappingError
	JobNoRetries
	ConditionError
	ExtractValueError
	UnhandledErrorEvent
	NoOutgoingFlowChosen
)

func (t ErrorType) String() string {
	switch t {
	case IOMappingError:
		return "IO_MAPPING_ERROR"
	case JobNoRetries:
		return "JOB_NO_RETRIES"
	case ConditionError:
		return "CONDITION_ERROR"
	case ExtractValueError:
		return "EXTRACT_VALUE_ERROR"
	case UnhandledErrorEvent:
		return "UNHANDLED_ERROR_EVENT"
	case NoOutgoingFlowChosen:
		return "NO_OUTGOING_FLOW_CHOSEN"
	default:
		return "UNKNOWN"
	}
}

// UpdateSemantics controls how a variable document is applied to a scope.
type UpdateSemantics uint8

const (
	// Propagate writes each variable at the topmost scope that already
	// contains it, or at the workflow instance's root scope.
	Propagate UpdateSemantics = iota

	// Local writes each variable directly to the given scope.
	Local
)
