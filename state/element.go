package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	elementsBucketKey = []byte("element-instances")
	childrenBucketKey = []byte("element-instances.children")
	joinsBucketKey    = []byte("element-instances.joins")
	triggersBucketKey = []byte("element-instances.triggers")
)

// ElementInstance is the runtime state of an element within a workflow
// instance.
type ElementInstance struct {
	Key int64

	// State is the intent of the last lifecycle event applied to the
	// instance.
	State protocol.Intent
	Value protocol.WorkflowInstanceRecord

	// ActiveTokens is the number of tokens within a flow scope that have not
	// yet been consumed.
	ActiveTokens int32

	// JobKey is the key of the job created for a service task.
	JobKey int64

	// InterruptedBy is the ID of the boundary event that is terminating the
	// instance.
	InterruptedBy string
}

// IsActive returns true if the instance has not yet started completing or
// terminating.
func (e *ElementInstance) IsActive() bool {
	return e.State == protocol.ElementActivating ||
		e.State == protocol.ElementActivated
}

// ElementState is the view of element instances.
type ElementState struct{ t *Tx }

// Elements returns the view of element instances.
func (t *Tx) Elements() ElementState {
	return ElementState{t}
}

// Put stores an element instance.
func (s ElementState) Put(i *ElementInstance) {
	data := encodeEntry(elementTemplate, func(e *codec.Encoder) {
		e.Int64(i.Key)
		e.Uint8(uint8(i.State))
		e.Int32(i.ActiveTokens)
		e.Int64(i.JobKey)
		e.EndBlock()
		e.Bytes(marshalValue(&i.Value))
		e.String(i.InterruptedBy)
	})

	bboltx.Put(s.t.bucket(elementsBucketKey), int64Key(i.Key), data)

	if i.Value.FlowScopeKey > 0 {
		bboltx.Add(
			s.t.bucket(childrenBucketKey),
			join(int64Key(i.Value.FlowScopeKey), int64Key(i.Key)),
		)
	}
}

// Get returns the element instance with the given key.
func (s ElementState) Get(key int64) (*ElementInstance, bool) {
	if key <= 0 {
		return nil, false
	}

	data := bboltx.Get(s.t.bucket(elementsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	i := &ElementInstance{}
	decodeEntry(data, elementTemplate, func(d *codec.Decoder) {
		i.Key = d.Int64()
		i.State = protocol.Intent(d.Uint8())
		i.ActiveTokens = d.Int32()
		i.JobKey = d.Int64()
		d.EndBlock()
		i.Value = *unmarshalValue[*protocol.WorkflowInstanceRecord](protocol.WorkflowInstanceValue, d.Bytes())
		i.InterruptedBy = d.String()
	})

	return i, true
}

// Remove removes an element instance and its event trigger.
func (s ElementState) Remove(key int64) {
	i, ok := s.Get(key)
	if !ok {
		return
	}

	bboltx.Delete(s.t.bucket(elementsBucketKey), int64Key(key))
	bboltx.Delete(s.t.bucket(triggersBucketKey), int64Key(key))

	if i.Value.FlowScopeKey > 0 {
		bboltx.Delete(
			s.t.bucket(childrenBucketKey),
			join(int64Key(i.Value.FlowScopeKey), int64Key(key)),
		)
	}

	for _, k := range bboltx.Keys(s.t.bucket(joinsBucketKey), int64Key(key)) {
		bboltx.Delete(s.t.bucket(joinsBucketKey), k)
	}
}

// Children returns the element instances within the given flow scope, in key
// order.
func (s ElementState) Children(flowScopeKey int64) []*ElementInstance {
	var children []*ElementInstance

	for _, k := range bboltx.Keys(s.t.bucket(childrenBucketKey), int64Key(flowScopeKey)) {
		if c, ok := s.Get(parseInt64Key(k[8:])); ok {
			children = append(children, c)
		}
	}

	return children
}

// AddJoinToken records that a token arrived at a parallel gateway via the
// given flow.
func (s ElementState) AddJoinToken(flowScopeKey int64, gatewayID, flowID string) {
	b := s.t.bucket(joinsBucketKey)
	k := join(int64Key(flowScopeKey), stringKey(gatewayID), []byte(flowID))

	n := int64(0)
	if v := bboltx.Get(b, k); v != nil {
		n = parseInt64Key(v)
	}

	bboltx.Put(b, k, int64Key(n+1))
}

// JoinTokens returns the number of tokens waiting at a parallel gateway,
// keyed by the flow they arrived on.
func (s ElementState) JoinTokens(flowScopeKey int64, gatewayID string) map[string]int {
	tokens := map[string]int{}
	prefix := join(int64Key(flowScopeKey), stringKey(gatewayID))

	bboltx.ForEachPrefix(
		s.t.bucket(joinsBucketKey),
		prefix,
		func(k, v []byte) bool {
			tokens[string(k[len(prefix):])] = int(parseInt64Key(v))
			return true
		},
	)

	return tokens
}

// ConsumeJoinTokens removes one token for each of the given flows.
func (s ElementState) ConsumeJoinTokens(flowScopeKey int64, gatewayID string, flowIDs []string) {
	b := s.t.bucket(joinsBucketKey)

	for _, id := range flowIDs {
		k := join(int64Key(flowScopeKey), stringKey(gatewayID), []byte(id))

		v := bboltx.Get(b, k)
		if v == nil {
			continue
		}

		if n := parseInt64Key(v) - 1; n > 0 {
			bboltx.Put(b, k, int64Key(n))
		} else {
			bboltx.Delete(b, k)
		}
	}
}

// EventTrigger is an event that occurred for an element instance, which is
// applied when the instance handles the EVENT_OCCURRED record.
type EventTrigger struct {
	// ElementID is the ID of the element that caught the event. It may differ
	// from the instance's element, for example for boundary events and the
	// events following an event-based gateway.
	ElementID string
	EventKey  int64
	Variables []byte
}

// SetTrigger stores the event trigger of an element instance.
func (s ElementState) SetTrigger(key int64, t *EventTrigger) {
	data := encodeEntry(triggerTemplate, func(e *codec.Encoder) {
		e.Int64(t.EventKey)
		e.EndBlock()
		e.String(t.ElementID)
		e.Bytes(t.Variables)
	})

	bboltx.Put(s.t.bucket(triggersBucketKey), int64Key(key), data)
}

// Trigger returns the event trigger of an element instance.
func (s ElementState) Trigger(key int64) (*EventTrigger, bool) {
	data := bboltx.Get(s.t.bucket(triggersBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	t := &EventTrigger{}
	decodeEntry(data, triggerTemplate, func(d *codec.Decoder) {
		t.EventKey = d.Int64()
		d.EndBlock()
		t.ElementID = d.String()
		t.Variables = d.Bytes()
	})

	return t, true
}

// RemoveTrigger removes the event trigger of an element instance.
func (s ElementState) RemoveTrigger(key int64) {
	bboltx.Delete(s.t.bucket(triggersBucketKey), int64Key(key))
}
