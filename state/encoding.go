package state

import (
	"encoding/binary"

	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

// schemaID is the schema of the entries stored in the state.
const schemaID uint16 = 3

// Template IDs of the entries stored in the state.
const (
	workflowTemplate uint16 = iota + 1
	elementTemplate
	triggerTemplate
	variableTemplate
	jobTemplate
	messageSubscriptionTemplate
	workflowInstanceSubscriptionTemplate
	incidentTemplate
	pendingDeploymentTemplate
)

func encodeEntry(template uint16, fn func(e *codec.Encoder)) []byte {
	e := codec.NewEncoder(schemaID, template, 1)
	fn(e)
	return e.Finish()
}

func decodeEntry(data []byte, template uint16, fn func(d *codec.Decoder)) {
	d, err := codec.NewDecoder(data, schemaID, template)
	bboltx.Must(err)
	fn(d)
	bboltx.Must(d.Err())
}

func marshalValue(v protocol.Value) []byte {
	return protocol.MarshalValue(v)
}

func unmarshalValue[T protocol.Value](t protocol.ValueType, data []byte) T {
	v, err := protocol.UnmarshalValue(t, data)
	bboltx.Must(err)
	return v.(T)
}

// int64Key returns a key component that sorts in numeric order for
// non-negative values.
func int64Key(v int64) []byte {
	return bboltx.Uint64Key(uint64(v))
}

// parseInt64Key parses the int64 key component at the start of k.
func parseInt64Key(k []byte) int64 {
	return int64(bboltx.ParseUint64Key(k))
}

// stringKey returns a length-prefixed key component, such that no component is
// a prefix of another.
func stringKey(s string) []byte {
	k := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(s)), uint16(len(s)))
	return append(k, s...)
}

// join concatenates key components.
func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}

	k := make([]byte, 0, n)
	for _, p := range parts {
		k = append(k, p...)
	}

	return k
}
