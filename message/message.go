// Package message implements message publication and correlation.
//
// A message is published to its home partition, which is chosen by the hash
// of its correlation key. An element instance that awaits a message holds a
// workflow instance subscription on its own partition and a matching message
// subscription on the message's home partition. The two halves communicate
// by sending commands to each other. Delivery is at-least-once, so every
// processor tolerates duplicate commands.
package message

import (
	"fmt"
	"time"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	// DefaultSubscriptionTimeout is the default time after which a command
	// sent to another partition on behalf of a subscription is sent again if
	// it has not been acknowledged.
	DefaultSubscriptionTimeout = 10 * time.Second

	// DefaultExpiryCheckInterval is the default interval at which messages
	// with an elapsed time-to-live are deleted.
	DefaultExpiryCheckInterval = 1 * time.Second
)

// Config is the configuration of the message processors.
type Config struct {
	// Sender delivers commands to other partitions.
	Sender processor.CommandSender

	// SubscriptionTimeout is the time after which an unacknowledged command
	// is sent again. If it is zero, DefaultSubscriptionTimeout is used.
	SubscriptionTimeout time.Duration

	// ExpiryCheckInterval is the interval at which expired messages are
	// deleted. If it is zero, DefaultExpiryCheckInterval is used.
	ExpiryCheckInterval time.Duration
}

// Register adds the message processors to r.
//
// It returns the tasks that must be run by the stream processor.
func Register(r *processor.Registry, cfg Config) []processor.Task {
	c := &correlator{
		sender:  cfg.Sender,
		timeout: cfg.SubscriptionTimeout,
	}

	if c.timeout == 0 {
		c.timeout = DefaultSubscriptionTimeout
	}

	r.RegisterCommand(protocol.MessageValue, protocol.MessagePublish, c.publish)
	r.RegisterCommand(protocol.MessageValue, protocol.MessageDelete, deleteMessage)

	r.RegisterCommand(protocol.MessageSubscriptionValue, protocol.SubscriptionOpen, c.openSubscription)
	r.RegisterCommand(protocol.MessageSubscriptionValue, protocol.SubscriptionCorrelate, c.acknowledgeCorrelation)
	r.RegisterCommand(protocol.MessageSubscriptionValue, protocol.SubscriptionClose, c.closeSubscription)
	r.RegisterCommand(protocol.MessageSubscriptionValue, protocol.SubscriptionReject, c.rejectCorrelation)

	r.RegisterCommand(protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionOpen, acknowledgeOpen)
	r.RegisterCommand(protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionCorrelate, c.correlate)
	r.RegisterCommand(protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionClose, acknowledgeClose)

	interval := cfg.ExpiryCheckInterval
	if interval == 0 {
		interval = DefaultExpiryCheckInterval
	}

	return []processor.Task{
		{
			Name:     "message expiry",
			Interval: interval,
			Run:      deleteExpired,
		},
		{
			Name:     "pending subscriptions",
			Interval: c.timeout,
			Run:      c.resendPending,
		},
	}
}

// correlator holds the collaborators of the subscription processors.
type correlator struct {
	sender  processor.CommandSender
	timeout time.Duration
}

// target identifies the subscription that a message was correlated to.
func target(elementInstanceKey int64, messageName string) string {
	return fmt.Sprintf("%d/%s", elementInstanceKey, messageName)
}

// instanceSubscriptionFor returns the workflow instance subscription record
// that is sent to the subscription partition on behalf of a message
// subscription.
func instanceSubscriptionFor(r *protocol.MessageSubscriptionRecord) *protocol.WorkflowInstanceSubscriptionRecord {
	return &protocol.WorkflowInstanceSubscriptionRecord{
		SubscriptionPartitionID: r.SubscriptionPartitionID,
		WorkflowInstanceKey:     r.WorkflowInstanceKey,
		ElementInstanceKey:      r.ElementInstanceKey,
		MessageKey:              r.MessageKey,
		CloseOnCorrelate:        r.CloseOnCorrelate,
		BpmnProcessID:           r.BpmnProcessID,
		MessageName:             r.MessageName,
		CorrelationKey:          r.CorrelationKey,
		Variables:               r.Variables,
	}
}
