package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/protocol"
	"google.golang.org/grpc"
)

// CommandRejectedError is returned by a Client when a partition rejects a
// command.
type CommandRejectedError struct {
	Command string
	Type    protocol.RejectionType
	Reason  string
}

func (e CommandRejectedError) Error() string {
	return fmt.Sprintf("%s was rejected (%s): %s", e.Command, e.Type, e.Reason)
}

// executor submits commands to partitions.
type executor interface {
	execute(ctx context.Context, cmd *protocol.Record) (*protocol.Record, error)
	partitionCount(ctx context.Context) (int32, error)
}

// Client submits commands to the partitions of a cluster.
type Client struct {
	exec executor
	next atomic.Uint32
}

// Client returns a client that submits commands to the partitions led by e.
func (e *Engine) Client() *Client {
	return &Client{exec: e}
}

// NewRemoteClient returns a client that submits commands via the command API
// served on conn.
func NewRemoteClient(conn grpc.ClientConnInterface) *Client {
	return &Client{exec: remote{conn}}
}

func (e *Engine) partitionCount(context.Context) (int32, error) {
	return e.opts.PartitionCount, nil
}

// Deploy deploys workflow resources.
//
// It returns the deployment's key and the deployed workflows. The workflows
// may be used on the deployment partition immediately. They are distributed
// to the other partitions asynchronously.
func (c *Client) Deploy(
	ctx context.Context,
	resources ...protocol.DeploymentResource,
) (int64, *protocol.DeploymentRecord, error) {
	res, err := c.send(
		ctx,
		protocol.DeploymentPartitionID,
		keys.None,
		protocol.DeploymentCreate,
		&protocol.DeploymentRecord{Resources: resources},
	)
	if err != nil {
		return 0, nil, err
	}

	return res.Key, res.Value.(*protocol.DeploymentRecord), nil
}

// CreateInstanceCommand describes a new workflow instance.
type CreateInstanceCommand struct {
	// BpmnProcessID is the ID of the process to instantiate. It is ignored
	// if WorkflowKey is set.
	BpmnProcessID string

	// Version is the version of the process to instantiate. If it is zero,
	// the latest version is used.
	Version int32

	// WorkflowKey is the key of the workflow to instantiate.
	WorkflowKey int64

	// Variables are the instance's initial variables.
	Variables map[string]any

	// PartitionID is the partition on which the instance is created. If it is
	// zero, partitions are chosen in turn.
	PartitionID int32
}

// CreateInstance creates a workflow instance.
func (c *Client) CreateInstance(
	ctx context.Context,
	cmd CreateInstanceCommand,
) (*protocol.WorkflowInstanceCreationRecord, error) {
	vars, err := protocol.MarshalDocument(cmd.Variables)
	if err != nil {
		return nil, err
	}

	pid := cmd.PartitionID
	if pid == 0 {
		n, err := c.exec.partitionCount(ctx)
		if err != nil {
			return nil, err
		}
		pid = int32(c.next.Add(1)%uint32(n)) + 1
	}

	res, err := c.send(
		ctx,
		pid,
		keys.None,
		protocol.WorkflowInstanceCreate,
		&protocol.WorkflowInstanceCreationRecord{
			BpmnProcessID: cmd.BpmnProcessID,
			Version:       cmd.Version,
			WorkflowKey:   cmd.WorkflowKey,
			Variables:     vars,
		},
	)
	if err != nil {
		return nil, err
	}

	return res.Value.(*protocol.WorkflowInstanceCreationRecord), nil
}

// CancelInstance terminates a workflow instance.
func (c *Client) CancelInstance(ctx context.Context, instanceKey int64) error {
	_, err := c.send(
		ctx,
		keys.PartitionID(instanceKey),
		instanceKey,
		protocol.WorkflowInstanceCancel,
		&protocol.WorkflowInstanceRecord{},
	)
	return err
}

// PublishMessageCommand describes a message to publish.
type PublishMessageCommand struct {
	Name           string
	CorrelationKey string

	// MessageID, if non-empty, deduplicates the message. A message with the
	// same name, correlation key and ID is rejected while the first is
	// buffered.
	MessageID string

	// TimeToLive is how long the message is buffered for correlation with
	// subscriptions that are opened after it is published.
	TimeToLive time.Duration

	Variables map[string]any
}

// PublishMessage publishes a message on the partition that owns its
// correlation key. It returns the message's key.
func (c *Client) PublishMessage(ctx context.Context, cmd PublishMessageCommand) (int64, error) {
	vars, err := protocol.MarshalDocument(cmd.Variables)
	if err != nil {
		return 0, err
	}

	n, err := c.exec.partitionCount(ctx)
	if err != nil {
		return 0, err
	}

	res, err := c.send(
		ctx,
		protocol.MessagePartitionID(cmd.CorrelationKey, n),
		keys.None,
		protocol.MessagePublish,
		&protocol.MessageRecord{
			Name:           cmd.Name,
			CorrelationKey: cmd.CorrelationKey,
			MessageID:      cmd.MessageID,
			TimeToLive:     cmd.TimeToLive.Milliseconds(),
			Variables:      vars,
		},
	)
	if err != nil {
		return 0, err
	}

	return res.Key, nil
}

// ActivateJobsCommand describes a request to activate jobs.
type ActivateJobsCommand struct {
	Type    string
	Worker  string
	Timeout time.Duration
	MaxJobs int32
}

// ActivatedJob is a job that has been activated for a worker.
type ActivatedJob struct {
	Key int64
	protocol.JobRecord
}

// ActivateJobs activates up to cmd.MaxJobs jobs of the given type.
//
// The partitions are polled in order until enough jobs are activated.
// Partitions that are not led by the engine serving the client are skipped.
func (c *Client) ActivateJobs(ctx context.Context, cmd ActivateJobsCommand) ([]ActivatedJob, error) {
	n, err := c.exec.partitionCount(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []ActivatedJob

	for pid := int32(1); pid <= n; pid++ {
		remaining := cmd.MaxJobs - int32(len(jobs))
		if remaining <= 0 {
			break
		}

		res, err := c.send(
			ctx,
			pid,
			keys.None,
			protocol.JobBatchActivate,
			&protocol.JobBatchRecord{
				Type:              cmd.Type,
				Worker:            cmd.Worker,
				Timeout:           cmd.Timeout.Milliseconds(),
				MaxJobsToActivate: remaining,
			},
		)
		if err != nil {
			var er *codec.ErrorResponse
			if errors.As(err, &er) && er.Code == codec.PartitionLeaderMismatch {
				continue
			}
			return jobs, err
		}

		batch := res.Value.(*protocol.JobBatchRecord)
		for i, k := range batch.JobKeys {
			jobs = append(jobs, ActivatedJob{k, batch.Jobs[i]})
		}
	}

	return jobs, nil
}

// CompleteJob completes an activated job. The variables are merged into the
// workflow instance.
func (c *Client) CompleteJob(ctx context.Context, key int64, variables map[string]any) error {
	vars, err := protocol.MarshalDocument(variables)
	if err != nil {
		return err
	}

	_, err = c.send(
		ctx,
		keys.PartitionID(key),
		key,
		protocol.JobComplete,
		&protocol.JobRecord{Variables: vars},
	)
	return err
}

// FailJob marks an activated job as failed.
//
// The job may be activated again after retryBackoff has elapsed, unless
// retries is zero, in which case an incident is raised.
func (c *Client) FailJob(
	ctx context.Context,
	key int64,
	retries int32,
	message string,
	retryBackoff time.Duration,
) error {
	_, err := c.send(
		ctx,
		keys.PartitionID(key),
		key,
		protocol.JobFail,
		&protocol.JobRecord{
			Retries:      retries,
			ErrorMessage: message,
			RetryBackoff: retryBackoff.Milliseconds(),
		},
	)
	return err
}

// ThrowError reports a business error for an activated job.
func (c *Client) ThrowError(ctx context.Context, key int64, code, message string) error {
	_, err := c.send(
		ctx,
		keys.PartitionID(key),
		key,
		protocol.JobThrowError,
		&protocol.JobRecord{
			ErrorCode:    code,
			ErrorMessage: message,
		},
	)
	return err
}

// UpdateJobRetries sets the number of retries left for a job.
func (c *Client) UpdateJobRetries(ctx context.Context, key int64, retries int32) error {
	_, err := c.send(
		ctx,
		keys.PartitionID(key),
		key,
		protocol.JobUpdateRetries,
		&protocol.JobRecord{Retries: retries},
	)
	return err
}

// SetVariables writes variables to the scope of an element instance.
//
// If local is true every variable is written to the given scope. Otherwise
// each variable is written to the nearest scope that already defines it.
func (c *Client) SetVariables(
	ctx context.Context,
	scopeKey int64,
	variables map[string]any,
	local bool,
) error {
	doc, err := protocol.MarshalDocument(variables)
	if err != nil {
		return err
	}

	sem := protocol.Propagate
	if local {
		sem = protocol.Local
	}

	_, err = c.send(
		ctx,
		keys.PartitionID(scopeKey),
		keys.None,
		protocol.VariableDocumentUpdate,
		&protocol.VariableDocumentRecord{
			ScopeKey:        scopeKey,
			UpdateSemantics: sem,
			Document:        doc,
		},
	)
	return err
}

// ResolveIncident resolves an incident.
func (c *Client) ResolveIncident(ctx context.Context, key int64) error {
	_, err := c.send(
		ctx,
		keys.PartitionID(key),
		key,
		protocol.IncidentResolve,
		&protocol.IncidentRecord{},
	)
	return err
}

// send submits a command and returns the response. It returns a
// CommandRejectedError if the command is rejected.
func (c *Client) send(
	ctx context.Context,
	partitionID int32,
	key int64,
	i protocol.Intent,
	v protocol.Value,
) (*protocol.Record, error) {
	cmd := &protocol.Record{
		SourceRecordPosition: -1,
		Key:                  key,
		PartitionID:          partitionID,
		RecordType:           protocol.Command,
		ValueType:            v.ValueType(),
		Intent:               i,
		Value:                v,
	}

	res, err := c.exec.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if res.RecordType == protocol.CommandRejection {
		return nil, CommandRejectedError{
			Command: cmd.String(),
			Type:    res.RejectionType,
			Reason:  res.RejectionReason,
		}
	}

	return res, nil
}
