package message

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// openSubscription processes a MESSAGE_SUBSCRIPTION.OPEN command on the
// message's home partition.
func (c *correlator) openSubscription(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.MessageSubscriptionRecord)
	subs := pc.State.MessageSubscriptions()

	if _, ok := subs.Get(v.ElementInstanceKey, v.MessageName); ok {
		// The acknowledgement was lost, so the subscription partition sent
		// the command again.
		c.acknowledge(pc, v, protocol.SubscriptionOpen)

		return processor.Reject(
			protocol.InvalidState,
			"Expected to open a new message subscription for element with key '%d' and message name '%s', but there is already a message subscription for that element key and message name opened",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	sub := &state.MessageSubscription{Record: *v}
	sub.Record.MessageKey = 0
	sub.Record.Variables = nil

	subs.Put(sub)
	ctl.Accept(protocol.SubscriptionOpened, &sub.Record)
	c.acknowledge(pc, v, protocol.SubscriptionOpen)

	c.correlateStored(pc, sub)

	return nil
}

// acknowledgeCorrelation processes a MESSAGE_SUBSCRIPTION.CORRELATE command,
// which the subscription partition sends once it has correlated a message.
func (c *correlator) acknowledgeCorrelation(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.MessageSubscriptionRecord)
	subs := pc.State.MessageSubscriptions()

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok || !sub.Correlating || sub.Record.MessageKey != v.MessageKey {
		return processor.Reject(
			protocol.NotFound,
			"Expected to correlate subscription for element with key '%d' and message name '%s', but no such correlation is pending",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	ctl.Accept(protocol.SubscriptionCorrelated, &sub.Record)

	if sub.Record.CloseOnCorrelate {
		subs.Remove(v.ElementInstanceKey, v.MessageName)
		return nil
	}

	sub.Correlating = false
	subs.Put(sub)
	c.correlateStored(pc, sub)

	return nil
}

// rejectCorrelation processes a MESSAGE_SUBSCRIPTION.REJECT command, which the
// subscription partition sends if the element instance can no longer receive
// the message.
func (c *correlator) rejectCorrelation(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.MessageSubscriptionRecord)
	subs := pc.State.MessageSubscriptions()

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok || !sub.Correlating || sub.Record.MessageKey != v.MessageKey {
		return processor.Reject(
			protocol.NotFound,
			"Expected to reject correlation of subscription for element with key '%d' and message name '%s', but no such correlation is pending",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	pc.State.Messages().UnmarkCorrelated(
		v.MessageKey,
		target(v.ElementInstanceKey, v.MessageName),
	)

	sub.Correlating = false
	subs.Put(sub)

	ctl.Accept(protocol.SubscriptionRejected, &sub.Record)

	return nil
}

// closeSubscription processes a MESSAGE_SUBSCRIPTION.CLOSE command.
func (c *correlator) closeSubscription(pc *processor.Context, ctl *processor.CommandControl) error {
	v := pc.Record.Value.(*protocol.MessageSubscriptionRecord)
	subs := pc.State.MessageSubscriptions()

	c.acknowledge(pc, v, protocol.SubscriptionClose)

	sub, ok := subs.Get(v.ElementInstanceKey, v.MessageName)
	if !ok {
		return processor.Reject(
			protocol.NotFound,
			"Expected to close message subscription for element with key '%d' and message name '%s', but no such message subscription exists",
			v.ElementInstanceKey,
			v.MessageName,
		)
	}

	subs.Remove(v.ElementInstanceKey, v.MessageName)
	ctl.Accept(protocol.SubscriptionClosed, &sub.Record)

	return nil
}

// acknowledge sends the acknowledgement of a command to the subscription
// partition.
func (c *correlator) acknowledge(
	pc *processor.Context,
	v *protocol.MessageSubscriptionRecord,
	i protocol.Intent,
) {
	pc.Send(
		c.sender,
		v.SubscriptionPartitionID,
		v.WorkflowInstanceKey,
		i,
		instanceSubscriptionFor(v),
	)
}
