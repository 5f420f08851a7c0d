package message

import (
	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/conductor/workflow"
)

// deleteExpired writes a MESSAGE.DELETE command for each message with an
// elapsed time-to-live.
func deleteExpired(tc *processor.TaskContext) error {
	messages := tc.State.Messages()

	messages.VisitExpired(
		tc.NowMillis(),
		func(key int64) bool {
			if m, ok := messages.Get(key); ok {
				tc.WriteCommand(key, protocol.MessageDelete, m)
			}
			return true
		},
	)

	return nil
}

// resendPending sends the commands of subscriptions that have not been
// acknowledged by the other partition within the subscription timeout.
func (c *correlator) resendPending(tc *processor.TaskContext) error {
	sentBefore := tc.NowMillis() - c.timeout.Milliseconds()

	tc.State.WorkflowInstanceSubscriptions().VisitPending(
		sentBefore,
		func(sub *state.WorkflowInstanceSubscription) bool {
			i := protocol.SubscriptionOpen
			if sub.Status == state.SubscriptionClosing {
				i = protocol.SubscriptionClose
			}

			tc.Send(
				c.sender,
				protocol.MessagePartitionID(sub.Record.CorrelationKey, tc.PartitionCount),
				sub.Record.ElementInstanceKey,
				i,
				workflow.MessageSubscriptionFor(&sub.Record),
			)

			return true
		},
	)

	tc.State.MessageSubscriptions().VisitCorrelating(
		sentBefore,
		func(sub *state.MessageSubscription) bool {
			tc.Send(
				c.sender,
				sub.Record.SubscriptionPartitionID,
				sub.Record.WorkflowInstanceKey,
				protocol.SubscriptionCorrelate,
				instanceSubscriptionFor(&sub.Record),
			)

			return true
		},
	)

	return nil
}
