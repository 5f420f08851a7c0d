package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	messageSubscriptionsBucketKey  = []byte("message-subscriptions")
	subscriptionsByNameBucketKey   = []byte("message-subscriptions.names")
	instanceSubscriptionsBucketKey = []byte("workflow-instance-subscriptions")
	startSubscriptionsBucketKey    = []byte("message-start-event-subscriptions")
)

// MessageSubscription is a subscription held on a message's home partition on
// behalf of an element instance on another (or the same) partition.
type MessageSubscription struct {
	Record protocol.MessageSubscriptionRecord

	// Correlating is true while a correlation has been sent to the
	// subscription partition and has not yet been acknowledged.
	Correlating bool

	// SentTime is the time at which the correlation was last sent, in Unix
	// milliseconds.
	SentTime int64
}

// MessageSubscriptionState is the view of message subscriptions.
type MessageSubscriptionState struct{ t *Tx }

// MessageSubscriptions returns the view of message subscriptions.
func (t *Tx) MessageSubscriptions() MessageSubscriptionState {
	return MessageSubscriptionState{t}
}

// Put stores a subscription.
func (s MessageSubscriptionState) Put(sub *MessageSubscription) {
	r := &sub.Record

	data := encodeEntry(messageSubscriptionTemplate, func(e *codec.Encoder) {
		e.Bool(sub.Correlating)
		e.Int64(sub.SentTime)
		e.EndBlock()
		e.Bytes(marshalValue(r))
	})

	bboltx.Put(
		s.t.bucket(messageSubscriptionsBucketKey),
		subscriptionKey(r.ElementInstanceKey, r.MessageName),
		data,
	)
	bboltx.Add(
		s.t.bucket(subscriptionsByNameBucketKey),
		join(stringKey(r.MessageName), stringKey(r.CorrelationKey), int64Key(r.ElementInstanceKey)),
	)
}

// Get returns the subscription of an element instance to a message.
func (s MessageSubscriptionState) Get(elementInstanceKey int64, messageName string) (*MessageSubscription, bool) {
	data := bboltx.Get(
		s.t.bucket(messageSubscriptionsBucketKey),
		subscriptionKey(elementInstanceKey, messageName),
	)
	if data == nil {
		return nil, false
	}

	return decodeMessageSubscription(data), true
}

// Remove removes a subscription.
func (s MessageSubscriptionState) Remove(elementInstanceKey int64, messageName string) {
	sub, ok := s.Get(elementInstanceKey, messageName)
	if !ok {
		return
	}

	bboltx.Delete(
		s.t.bucket(messageSubscriptionsBucketKey),
		subscriptionKey(elementInstanceKey, messageName),
	)
	bboltx.Delete(
		s.t.bucket(subscriptionsByNameBucketKey),
		join(stringKey(messageName), stringKey(sub.Record.CorrelationKey), int64Key(elementInstanceKey)),
	)
}

// Visit calls fn for each subscription to messages with the given name and
// correlation key.
func (s MessageSubscriptionState) Visit(name, correlationKey string, fn func(sub *MessageSubscription) bool) {
	for _, k := range bboltx.Keys(
		s.t.bucket(subscriptionsByNameBucketKey),
		join(stringKey(name), stringKey(correlationKey)),
	) {
		sub, ok := s.Get(parseInt64Key(k[len(k)-8:]), name)
		if ok && !fn(sub) {
			return
		}
	}
}

// VisitCorrelating calls fn for each subscription with a correlation that was
// sent before the given time and has not been acknowledged.
func (s MessageSubscriptionState) VisitCorrelating(sentBefore int64, fn func(sub *MessageSubscription) bool) {
	var subs []*MessageSubscription

	bboltx.ForEachPrefix(
		s.t.bucket(messageSubscriptionsBucketKey),
		nil,
		func(_, v []byte) bool {
			sub := decodeMessageSubscription(v)
			if sub.Correlating && sub.SentTime < sentBefore {
				subs = append(subs, sub)
			}
			return true
		},
	)

	for _, sub := range subs {
		if !fn(sub) {
			return
		}
	}
}

func decodeMessageSubscription(data []byte) *MessageSubscription {
	sub := &MessageSubscription{}

	decodeEntry(data, messageSubscriptionTemplate, func(d *codec.Decoder) {
		sub.Correlating = d.Bool()
		sub.SentTime = d.Int64()
		d.EndBlock()
		sub.Record = *unmarshalValue[*protocol.MessageSubscriptionRecord](protocol.MessageSubscriptionValue, d.Bytes())
	})

	return sub
}

// SubscriptionStatus is the state of a workflow instance subscription.
type SubscriptionStatus uint8

const (
	// SubscriptionOpening is the status of a subscription that has been sent
	// to the message's home partition but not yet acknowledged.
	SubscriptionOpening SubscriptionStatus = iota + 1

	// SubscriptionOpened is the status of an acknowledged subscription.
	SubscriptionOpened

	// SubscriptionClosing is the status of a subscription whose closure has
	// not yet been acknowledged.
	SubscriptionClosing
)

// WorkflowInstanceSubscription is a subscription held on the partition of the
// element instance that awaits a message.
type WorkflowInstanceSubscription struct {
	Record   protocol.WorkflowInstanceSubscriptionRecord
	Status   SubscriptionStatus
	SentTime int64
}

// WorkflowInstanceSubscriptionState is the view of workflow instance
// subscriptions.
type WorkflowInstanceSubscriptionState struct{ t *Tx }

// WorkflowInstanceSubscriptions returns the view of workflow instance
// subscriptions.
func (t *Tx) WorkflowInstanceSubscriptions() WorkflowInstanceSubscriptionState {
	return WorkflowInstanceSubscriptionState{t}
}

// Put stores a subscription.
func (s WorkflowInstanceSubscriptionState) Put(sub *WorkflowInstanceSubscription) {
	data := encodeEntry(workflowInstanceSubscriptionTemplate, func(e *codec.Encoder) {
		e.Uint8(uint8(sub.Status))
		e.Int64(sub.SentTime)
		e.EndBlock()
		e.Bytes(marshalValue(&sub.Record))
	})

	bboltx.Put(
		s.t.bucket(instanceSubscriptionsBucketKey),
		subscriptionKey(sub.Record.ElementInstanceKey, sub.Record.MessageName),
		data,
	)
}

// Get returns the subscription of an element instance to a message.
func (s WorkflowInstanceSubscriptionState) Get(elementInstanceKey int64, messageName string) (*WorkflowInstanceSubscription, bool) {
	data := bboltx.Get(
		s.t.bucket(instanceSubscriptionsBucketKey),
		subscriptionKey(elementInstanceKey, messageName),
	)
	if data == nil {
		return nil, false
	}

	return decodeInstanceSubscription(data), true
}

// Remove removes a subscription.
func (s WorkflowInstanceSubscriptionState) Remove(elementInstanceKey int64, messageName string) {
	bboltx.Delete(
		s.t.bucket(instanceSubscriptionsBucketKey),
		subscriptionKey(elementInstanceKey, messageName),
	)
}

// ForElement returns the subscriptions of an element instance.
func (s WorkflowInstanceSubscriptionState) ForElement(elementInstanceKey int64) []*WorkflowInstanceSubscription {
	var subs []*WorkflowInstanceSubscription

	bboltx.ForEachPrefix(
		s.t.bucket(instanceSubscriptionsBucketKey),
		int64Key(elementInstanceKey),
		func(_, v []byte) bool {
			subs = append(subs, decodeInstanceSubscription(v))
			return true
		},
	)

	return subs
}

// VisitPending calls fn for each subscription that is opening or closing and
// was last sent before the given time.
func (s WorkflowInstanceSubscriptionState) VisitPending(sentBefore int64, fn func(sub *WorkflowInstanceSubscription) bool) {
	var subs []*WorkflowInstanceSubscription

	bboltx.ForEachPrefix(
		s.t.bucket(instanceSubscriptionsBucketKey),
		nil,
		func(_, v []byte) bool {
			sub := decodeInstanceSubscription(v)
			if sub.Status != SubscriptionOpened && sub.SentTime < sentBefore {
				subs = append(subs, sub)
			}
			return true
		},
	)

	for _, sub := range subs {
		if !fn(sub) {
			return
		}
	}
}

func decodeInstanceSubscription(data []byte) *WorkflowInstanceSubscription {
	sub := &WorkflowInstanceSubscription{}

	decodeEntry(data, workflowInstanceSubscriptionTemplate, func(d *codec.Decoder) {
		sub.Status = SubscriptionStatus(d.Uint8())
		sub.SentTime = d.Int64()
		d.EndBlock()
		sub.Record = *unmarshalValue[*protocol.WorkflowInstanceSubscriptionRecord](protocol.WorkflowInstanceSubscriptionValue, d.Bytes())
	})

	return sub
}

func subscriptionKey(elementInstanceKey int64, messageName string) []byte {
	return join(int64Key(elementInstanceKey), []byte(messageName))
}

// MessageStartEventSubscriptionState is the view of the message start events
// of the latest version of each deployed workflow.
type MessageStartEventSubscriptionState struct{ t *Tx }

// MessageStartEventSubscriptions returns the view of message start event
// subscriptions.
func (t *Tx) MessageStartEventSubscriptions() MessageStartEventSubscriptionState {
	return MessageStartEventSubscriptionState{t}
}

// Put stores a subscription.
func (s MessageStartEventSubscriptionState) Put(r *protocol.MessageStartEventSubscriptionRecord) {
	bboltx.Put(
		s.t.bucket(startSubscriptionsBucketKey),
		join(stringKey(r.MessageName), int64Key(r.WorkflowKey)),
		marshalValue(r),
	)
}

// Remove removes a subscription.
func (s MessageStartEventSubscriptionState) Remove(messageName string, workflowKey int64) {
	bboltx.Delete(
		s.t.bucket(startSubscriptionsBucketKey),
		join(stringKey(messageName), int64Key(workflowKey)),
	)
}

// Visit calls fn for each subscription to messages with the given name.
func (s MessageStartEventSubscriptionState) Visit(messageName string, fn func(r *protocol.MessageStartEventSubscriptionRecord) bool) {
	s.visit(stringKey(messageName), fn)
}

// ForProcess returns the subscriptions of workflows with the given BPMN
// process ID.
func (s MessageStartEventSubscriptionState) ForProcess(bpmnProcessID string) []*protocol.MessageStartEventSubscriptionRecord {
	var subs []*protocol.MessageStartEventSubscriptionRecord

	s.visit(nil, func(r *protocol.MessageStartEventSubscriptionRecord) bool {
		if r.BpmnProcessID == bpmnProcessID {
			subs = append(subs, r)
		}
		return true
	})

	return subs
}

func (s MessageStartEventSubscriptionState) visit(prefix []byte, fn func(r *protocol.MessageStartEventSubscriptionRecord) bool) {
	var subs []*protocol.MessageStartEventSubscriptionRecord

	bboltx.ForEachPrefix(
		s.t.bucket(startSubscriptionsBucketKey),
		prefix,
		func(_, v []byte) bool {
			subs = append(subs, unmarshalValue[*protocol.MessageStartEventSubscriptionRecord](
				protocol.MessageStartEventSubscriptionValue,
				v,
			))
			return true
		},
	)

	for _, r := range subs {
		if !fn(r) {
			return
		}
	}
}
