package message

import (
	"errors"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/conductor/workflow"
)

// acknowledgeOpen processes a WORKFLOW_INSTANCE_SUBSCRIPTION.OPEN command,
// which the message's home partition sends once it has opened the message
// subscription.
func acknowledgeOpen(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.WorkflowInstanceSubscriptionRecord)
	subs := pc.State.WorkflowInstanceSubscriptions()

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok || sub.Status != state.SubscriptionOpening {
		return processor.Reject(
			protocol.NotFound,
			"Expected to open workflow instance subscription for element with key '%d' and message name '%s', but no such subscription is opening",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	sub.Status = state.SubscriptionOpened
	subs.Put(sub)

	ctl.Accept(protocol.SubscriptionOpened, &sub.Record)

	return nil
}

// correlate processes a WORKFLOW_INSTANCE_SUBSCRIPTION.CORRELATE command, which
// the message's home partition sends to deliver a message to the element
// instance.
func (c *correlator) correlate(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.WorkflowInstanceSubscriptionRecord)
	subs := pc.State.WorkflowInstanceSubscriptions()

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok || sub.Status == state.SubscriptionClosing {
		c.reply(pc, v, protocol.SubscriptionReject)

		return processor.Reject(
			protocol.NotFound,
			"Expected to correlate workflow instance subscription for element with key '%d' and message name '%s', but no such subscription was found",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	if sub.Record.MessageKey == v.MessageKey {
		// The acknowledgement was lost, so the home partition sent the
		// message again.
		c.reply(pc, v, protocol.SubscriptionCorrelate)

		return processor.Reject(
			protocol.InvalidState,
			"Expected to correlate message with key '%d' to element with key '%d', but it was already correlated",
			v.MessageKey,
			v.ElementInstanceKey,
		)
	}

	err := workflow.CanTriggerEvent(pc, v.ElementInstanceKey)

	if errors.Is(err, workflow.ErrEventPending) {
		// The home partition sends the message again after the subscription
		// timeout.
		return processor.Reject(
			protocol.InvalidState,
			"Expected to correlate message to element with key '%d', but another event is pending",
			v.ElementInstanceKey,
		)
	} else if err != nil {
		c.reply(pc, v, protocol.SubscriptionReject)

		return processor.Reject(
			protocol.InvalidState,
			"Expected to correlate message to element with key '%d', but the element is not active",
			v.ElementInstanceKey,
		)
	}

	sub.Record.MessageKey = v.MessageKey
	sub.Record.Variables = v.Variables

	ctl.Accept(protocol.SubscriptionCorrelated, &sub.Record)

	if sub.Record.CloseOnCorrelate {
		subs.Remove(v.ElementInstanceKey, v.MessageName)
	} else {
		rec := *sub
		rec.Record.Variables = nil
		subs.Put(&rec)
	}

	c.reply(pc, v, protocol.SubscriptionCorrelate)

	return workflow.TriggerEvent(
		pc,
		v.ElementInstanceKey,
		sub.Record.CatchElementID,
		v.MessageKey,
		v.Variables,
	)
}

// acknowledgeClose processes a WORKFLOW_INSTANCE_SUBSCRIPTION.CLOSE command,
// which the message's home partition sends once it has closed the message
// subscription.
func acknowledgeClose(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.WorkflowInstanceSubscriptionRecord)
	subs := pc.State.WorkflowInstanceSubscriptions()

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to close workflow instance subscription for element with key '%d' and message name '%s', but no such subscription was found",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	subs.Remove(v.ElementInstanceKey, v.MessageName)
	ctl.Accept(protocol.SubscriptionClosed, &sub.Record)

	return nil
}

// reply sends a command to the message's home partition on behalf of a
// workflow instance subscription.
func (c *correlator) reply(
	pc *processor.Context,
	v *protocol.WorkflowInstanceSubscriptionRecord,
	i protocol.Intent,
) {
	pc.Send(
		c.sender,
		protocol.MessagePartitionID(v.CorrelationKey, pc.PartitionCount),
		v.ElementInstanceKey,
		i,
		workflow.MessageSubscriptionFor(v),
	)
}
