package model

import "github.com/dogmatiq/conductor/protocol"

// DefaultJobRetries is the number of retries of a job when its service task
// does not specify one.
const DefaultJobRetries = 3

// document is the YAML representation of a deployment resource.
type document struct {
	Processes []processDocument `yaml:"processes"`
}

type processDocument struct {
	ID       string            `yaml:"id"`
	Elements []elementDocument `yaml:"elements"`
	Flows    []flowDocument    `yaml:"flows"`
}

type elementDocument struct {
	ID             string            `yaml:"id"`
	Type           string            `yaml:"type"`
	JobType        string            `yaml:"jobType"`
	Retries        *int32            `yaml:"retries"`
	Headers        map[string]string `yaml:"headers"`
	Message        *messageDocument  `yaml:"message"`
	Timer          *timerDocument    `yaml:"timer"`
	AttachedTo     string            `yaml:"attachedTo"`
	CancelActivity *bool             `yaml:"cancelActivity"`
	Default        string            `yaml:"default"`
	Inputs         []mappingDocument `yaml:"inputs"`
	Outputs        []mappingDocument `yaml:"outputs"`
	Elements       []elementDocument `yaml:"elements"`
	Flows          []flowDocument    `yaml:"flows"`
}

type flowDocument struct {
	ID        string `yaml:"id"`
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Condition string `yaml:"condition"`
}

type messageDocument struct {
	Name           string `yaml:"name"`
	CorrelationKey string `yaml:"correlationKey"`
}

type timerDocument struct {
	Duration string `yaml:"duration"`
	Cycle    string `yaml:"cycle"`
}

type mappingDocument struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

var elementTypes = map[string]protocol.BpmnElementType{
	"subProcess":             protocol.SubProcessElement,
	"startEvent":             protocol.StartEventElement,
	"endEvent":               protocol.EndEventElement,
	"intermediateCatchEvent": protocol.IntermediateCatchEventElement,
	"intermediateThrowEvent": protocol.IntermediateThrowEventElement,
	"boundaryEvent":          protocol.BoundaryEventElement,
	"serviceTask":            protocol.ServiceTaskElement,
	"receiveTask":            protocol.ReceiveTaskElement,
	"exclusiveGateway":       protocol.ExclusiveGatewayElement,
	"parallelGateway":        protocol.ParallelGatewayElement,
	"eventBasedGateway":      protocol.EventBasedGatewayElement,
}
