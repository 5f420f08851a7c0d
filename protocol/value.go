package protocol

import (
	"fmt"

	"github.com/dogmatiq/conductor/codec"
)

// SchemaID is the schema of records and record values.
const SchemaID uint16 = 0

const valueVersion uint16 = 1

// Value is the typed payload of a record.
type Value interface {
	// ValueType returns the value type that this value describes.
	ValueType() ValueType

	encodeValue(e *codec.Encoder)
	decodeValue(d *codec.Decoder)
}

// MarshalValue returns the binary representation of v.
//
// Each value is a complete message in its own right, identified by a template
// ID that is equal to its value type.
func MarshalValue(v Value) []byte {
	e := codec.NewEncoder(SchemaID, uint16(v.ValueType()), valueVersion)
	v.encodeValue(e)
	return e.Finish()
}

// UnmarshalValue returns the value of type t represented by b.
func UnmarshalValue(t ValueType, b []byte) (Value, error) {
	v, err := NewValue(t)
	if err != nil {
		return nil, err
	}

	d, err := codec.NewDecoder(b, SchemaID, uint16(t))
	if err != nil {
		return nil, err
	}

	v.decodeValue(d)

	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("unable to decode %s value: %w", t, err)
	}

	return v, nil
}

// NewValue returns a new zero-value of the given type.
func NewValue(t ValueType) (Value, error) {
	switch t {
	case DeploymentValue:
		return &DeploymentRecord{}, nil
	case WorkflowInstanceValue:
		return &WorkflowInstanceRecord{}, nil
	case WorkflowInstanceCreationValue:
		return &WorkflowInstanceCreationRecord{}, nil
	case JobValue:
		return &JobRecord{}, nil
	case JobBatchValue:
		return &JobBatchRecord{}, nil
	case MessageValue:
		return &MessageRecord{}, nil
	case MessageSubscriptionValue:
		return &MessageSubscriptionRecord{}, nil
	case WorkflowInstanceSubscriptionValue:
		return &WorkflowInstanceSubscriptionRecord{}, nil
	case MessageStartEventSubscriptionValue:
		return &MessageStartEventSubscriptionRecord{}, nil
	case VariableValue:
		return &VariableRecord{}, nil
	case VariableDocumentValue:
		return &VariableDocumentRecord{}, nil
	case IncidentValue:
		return &IncidentRecord{}, nil
	case TimerValue:
		return &TimerRecord{}, nil
	case DeploymentDistributionValue:
		return &DeploymentDistributionRecord{}, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %s", t)
	}
}

func encodeHeaders(e *codec.Encoder, h map[string]string) {
	e.Count(len(h))
	for _, k := range sortedKeys(h) {
		e.String(k)
		e.String(h[k])
	}
}

func decodeHeaders(d *codec.Decoder) map[string]string {
	n := d.Count()
	if n == 0 {
		return nil
	}

	h := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k := d.String()
		h[k] = d.String()
	}

	return h
}
