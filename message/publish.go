package message

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/conductor/workflow"
	"github.com/dogmatiq/dodeca/logging"
)

// publish processes a MESSAGE.PUBLISH command.
//
// The message is correlated to every open subscription with a matching name
// and correlation key, and starts an instance of every workflow with a
// matching message start event. It is kept until its time-to-live elapses so
// that it can be correlated to subscriptions that are opened later.
func (c *correlator) publish(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.MessageRecord)
	messages := pc.State.Messages()

	if v.Name == "" {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to publish a message with a non-empty name",
		)
	}

	if v.TimeToLive < 0 {
		return processor.Reject(
			protocol.InvalidArgument,
			"Expected to publish a message with a non-negative time-to-live, but got %d",
			v.TimeToLive,
		)
	}

	if v.MessageID != "" && messages.ExistsID(v.Name, v.MessageID) {
		return processor.Reject(
			protocol.AlreadyExists,
			"Expected to publish a new message with id '%s', but a message with that id was already published",
			v.MessageID,
		)
	}

	m := *v
	m.Deadline = pc.NowMillis() + m.TimeToLive

	r := ctl.Accept(protocol.MessagePublished, &m)
	stored := m.TimeToLive > 0

	if stored {
		messages.Put(r.Key, &m)
	}

	pc.State.MessageSubscriptions().Visit(
		m.Name,
		m.CorrelationKey,
		func(sub *state.MessageSubscription) bool {
			if !sub.Correlating {
				c.correlateMessage(pc, sub, r.Key, &m, stored)
			}
			return true
		},
	)

	startInstances(pc, r.Key, &m, stored)

	return nil
}

// correlateMessage sends a message to the partition of a subscription.
//
// The subscription does not receive other messages until the partition has
// acknowledged or rejected the correlation.
func (c *correlator) correlateMessage(
	pc *processor.Context,
	sub *state.MessageSubscription,
	messageKey int64,
	m *protocol.MessageRecord,
	stored bool,
) {
	if stored {
		pc.State.Messages().MarkCorrelated(
			messageKey,
			target(sub.Record.ElementInstanceKey, sub.Record.MessageName),
		)
	}

	sub.Correlating = true
	sub.SentTime = pc.NowMillis()
	sub.Record.MessageKey = messageKey
	sub.Record.Variables = m.Variables
	pc.State.MessageSubscriptions().Put(sub)

	pc.Send(
		c.sender,
		sub.Record.SubscriptionPartitionID,
		sub.Record.WorkflowInstanceKey,
		protocol.SubscriptionCorrelate,
		instanceSubscriptionFor(&sub.Record),
	)
}

// correlateStored correlates the oldest stored message that has not yet been
// correlated to the subscription.
func (c *correlator) correlateStored(pc *processor.Context, sub *state.MessageSubscription) {
	messages := pc.State.Messages()
	t := target(sub.Record.ElementInstanceKey, sub.Record.MessageName)
	now := pc.NowMillis()

	messages.Visit(
		sub.Record.MessageName,
		sub.Record.CorrelationKey,
		func(key int64, m *protocol.MessageRecord) bool {
			if m.Deadline < now || messages.IsCorrelated(key, t) {
				return true
			}

			c.correlateMessage(pc, sub, key, m, true)
			return false
		},
	)
}

// startInstances creates an instance of each workflow that has a message start
// event for the message.
//
// A message starts at most one instance of each BPMN process.
func startInstances(
	pc *processor.Context,
	messageKey int64,
	m *protocol.MessageRecord,
	stored bool,
) {
	var subs []*protocol.MessageStartEventSubscriptionRecord

	pc.State.MessageStartEventSubscriptions().Visit(
		m.Name,
		func(r *protocol.MessageStartEventSubscriptionRecord) bool {
			subs = append(subs, r)
			return true
		},
	)

	for _, sub := range subs {
		if stored {
			if pc.State.Messages().IsCorrelated(messageKey, sub.BpmnProcessID) {
				continue
			}
			pc.State.Messages().MarkCorrelated(messageKey, sub.BpmnProcessID)
		}

		w, ok := pc.State.Deployments().Workflow(sub.WorkflowKey)
		if !ok {
			logging.Log(
				pc.Logger,
				"message start event subscription refers to unknown workflow %d",
				sub.WorkflowKey,
			)
			continue
		}

		workflow.CreateInstance(pc, w, sub.StartEventID, messageKey, m.Variables)
	}
}

// deleteMessage processes a MESSAGE.DELETE command, which is written when a
// message's time-to-live has elapsed.
func deleteMessage(pc *processor.Context, ctl *processor.CommandControl) error {
	m, ok := pc.State.Messages().Get(pc.Record.Key)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to delete message with key '%d', but no such message was found",
			pc.Record.Key,
		)
	}

	pc.State.Messages().Remove(pc.Record.Key)
	ctl.Accept(protocol.MessageDeleted, m)

	return nil
}
