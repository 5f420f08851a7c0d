package protocol

import (
	"fmt"

	"github.com/dogmatiq/conductor/codec"
)

// RecordTemplateID is the template ID of an encoded Record.
const RecordTemplateID uint16 = 100

const recordVersion uint16 = 1

// Record is an entry in a partition's log.
type Record struct {
	// Position is the record's offset within the log. It is assigned by the
	// log when the record is appended.
	Position int64

	// SourceRecordPosition is the position of the record that caused this
	// record to be written, or -1 if it was not caused by another record.
	SourceRecordPosition int64

	// Key identifies the entity that the record describes, or -1.
	Key int64

	// Timestamp is the time at which the record was written, in Unix
	// milliseconds.
	Timestamp int64

	PartitionID     int32
	RecordType      RecordType
	ValueType       ValueType
	Intent          Intent
	RejectionType   RejectionType
	RejectionReason string

	// RequestID and RequestStreamID identify the client request that a
	// command was submitted by. RequestID is zero if there is no request to
	// respond to.
	RequestID       int64
	RequestStreamID int32

	Value Value
}

// HasRequest returns true if the record carries request metadata.
func (r *Record) HasRequest() bool {
	return r.RequestID > 0
}

// Is returns true if the record has the given type, value type and intent.
func (r *Record) Is(rt RecordType, vt ValueType, i Intent) bool {
	return r.RecordType == rt && r.ValueType == vt && r.Intent == i
}

// IntentName returns the human-readable name of the record's intent.
func (r *Record) IntentName() string {
	return IntentName(r.ValueType, r.Intent)
}

func (r *Record) String() string {
	return fmt.Sprintf("%s %s.%s", r.RecordType, r.ValueType, r.IntentName())
}

// TryWrap returns true if b contains an encoded Record.
func (r *Record) TryWrap(b []byte) bool {
	return codec.TryWrap(b, SchemaID, RecordTemplateID)
}

// MarshalBinary returns the binary representation of the record.
func (r *Record) MarshalBinary() ([]byte, error) {
	if r.Value == nil {
		return nil, fmt.Errorf("can not marshal %s record without a value", r.ValueType)
	}

	if r.Value.ValueType() != r.ValueType {
		return nil, fmt.Errorf(
			"can not marshal %s record with a %s value",
			r.ValueType,
			r.Value.ValueType(),
		)
	}

	e := codec.NewEncoder(SchemaID, RecordTemplateID, recordVersion)
	e.Int64(r.Position)
	e.Int64(r.SourceRecordPosition)
	e.Int64(r.Key)
	e.Int64(r.Timestamp)
	e.Int32(r.PartitionID)
	e.Uint8(uint8(r.RecordType))
	e.Uint8(uint8(r.ValueType))
	e.Uint8(uint8(r.Intent))
	e.Uint8(uint8(r.RejectionType))
	e.Int64(r.RequestID)
	e.Int32(r.RequestStreamID)
	e.String(r.RejectionReason)
	e.Bytes(MarshalValue(r.Value))

	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *Record) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, SchemaID, RecordTemplateID)
	if err != nil {
		return err
	}

	r.Position = d.Int64()
	r.SourceRecordPosition = d.Int64()
	r.Key = d.Int64()
	r.Timestamp = d.Int64()
	r.PartitionID = d.Int32()
	r.RecordType = RecordType(d.Uint8())
	r.ValueType = ValueType(d.Uint8())
	r.Intent = Intent(d.Uint8())
	r.RejectionType = RejectionType(d.Uint8())
	r.RequestID = d.Int64()
	r.RequestStreamID = d.Int32()
	r.RejectionReason = d.String()
	value := d.Bytes()

	if err := d.Err(); err != nil {
		return fmt.Errorf("unable to decode record: %w", err)
	}

	r.Value, err = UnmarshalValue(r.ValueType, value)
	return err
}

// UnmarshalRecord returns the record represented by b.
func UnmarshalRecord(b []byte) (*Record, error) {
	r := &Record{}
	return r, r.UnmarshalBinary(b)
}
