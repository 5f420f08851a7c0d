package state

import (
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	messagesBucketKey          = []byte("messages")
	messageNamesBucketKey      = []byte("messages.names")
	messageDeadlinesBucketKey  = []byte("messages.deadlines")
	messageIDsBucketKey        = []byte("messages.ids")
	messageCorrelatedBucketKey = []byte("messages.correlated")
)

// MessageState is the view of published messages that are buffered until
// their time-to-live elapses.
type MessageState struct{ t *Tx }

// Messages returns the view of messages.
func (t *Tx) Messages() MessageState {
	return MessageState{t}
}

// Put stores a message.
func (s MessageState) Put(key int64, m *protocol.MessageRecord) {
	bboltx.Put(s.t.bucket(messagesBucketKey), int64Key(key), marshalValue(m))
	bboltx.Add(
		s.t.bucket(messageNamesBucketKey),
		join(stringKey(m.Name), stringKey(m.CorrelationKey), int64Key(key)),
	)
	bboltx.Add(
		s.t.bucket(messageDeadlinesBucketKey),
		join(int64Key(m.Deadline), int64Key(key)),
	)

	if m.MessageID != "" {
		bboltx.Put(
			s.t.bucket(messageIDsBucketKey),
			join(stringKey(m.Name), []byte(m.MessageID)),
			int64Key(key),
		)
	}
}

// Get returns the message with the given key.
func (s MessageState) Get(key int64) (*protocol.MessageRecord, bool) {
	data := bboltx.Get(s.t.bucket(messagesBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	return unmarshalValue[*protocol.MessageRecord](protocol.MessageValue, data), true
}

// Remove removes a message and the record of the instances it correlated to.
func (s MessageState) Remove(key int64) {
	m, ok := s.Get(key)
	if !ok {
		return
	}

	bboltx.Delete(s.t.bucket(messagesBucketKey), int64Key(key))
	bboltx.Delete(
		s.t.bucket(messageNamesBucketKey),
		join(stringKey(m.Name), stringKey(m.CorrelationKey), int64Key(key)),
	)
	bboltx.Delete(
		s.t.bucket(messageDeadlinesBucketKey),
		join(int64Key(m.Deadline), int64Key(key)),
	)

	if m.MessageID != "" {
		bboltx.Delete(
			s.t.bucket(messageIDsBucketKey),
			join(stringKey(m.Name), []byte(m.MessageID)),
		)
	}

	b := s.t.bucket(messageCorrelatedBucketKey)
	for _, k := range bboltx.Keys(b, int64Key(key)) {
		bboltx.Delete(b, k)
	}
}

// ExistsID returns true if a message with the given name and message ID is
// stored.
func (s MessageState) ExistsID(name, messageID string) bool {
	return bboltx.Has(
		s.t.bucket(messageIDsBucketKey),
		join(stringKey(name), []byte(messageID)),
	)
}

// Visit calls fn for each message with the given name and correlation key, in
// the order they were published.
func (s MessageState) Visit(name, correlationKey string, fn func(key int64, m *protocol.MessageRecord) bool) {
	for _, k := range bboltx.Keys(
		s.t.bucket(messageNamesBucketKey),
		join(stringKey(name), stringKey(correlationKey)),
	) {
		key := parseInt64Key(k[len(k)-8:])
		if m, ok := s.Get(key); ok && !fn(key, m) {
			return
		}
	}
}

// VisitExpired calls fn for the key of each message with a deadline before
// now.
func (s MessageState) VisitExpired(now int64, fn func(key int64) bool) {
	bboltx.ForEachPrefix(
		s.t.bucket(messageDeadlinesBucketKey),
		nil,
		func(k, _ []byte) bool {
			if parseInt64Key(k) >= now {
				return false
			}
			return fn(parseInt64Key(k[8:]))
		},
	)
}

// MarkCorrelated records that a message was correlated to a workflow
// instance, or was used to start an instance of a BPMN process.
//
// target is the workflow instance key or the BPMN process ID.
func (s MessageState) MarkCorrelated(key int64, target string) {
	bboltx.Add(
		s.t.bucket(messageCorrelatedBucketKey),
		join(int64Key(key), []byte(target)),
	)
}

// IsCorrelated returns true if the message was correlated to the target.
func (s MessageState) IsCorrelated(key int64, target string) bool {
	return bboltx.Has(
		s.t.bucket(messageCorrelatedBucketKey),
		join(int64Key(key), []byte(target)),
	)
}

// UnmarkCorrelated removes the record that a message was correlated to the
// target, so that it may be correlated to the target again.
func (s MessageState) UnmarkCorrelated(key int64, target string) {
	bboltx.Delete(
		s.t.bucket(messageCorrelatedBucketKey),
		join(int64Key(key), []byte(target)),
	)
}
