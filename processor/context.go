package processor

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor/internal/expr"
	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
)

// Context is the environment in which a single record is processed.
//
// The records written via a context are staged, and are appended to the log
// only if the processing step is committed.
type Context struct {
	// Record is the record being processed.
	Record *protocol.Record

	// State is the transaction in which the record is processed.
	State *state.Tx

	// PartitionID is the ID of the partition that owns the log.
	PartitionID int32

	// PartitionCount is the number of partitions in the cluster.
	PartitionCount int32

	// Expr evaluates expressions embedded in process models.
	Expr *expr.Evaluator

	// Logger is the target for log messages produced while processing.
	Logger logging.Logger

	registry    *Registry
	written     []*protocol.Record
	response    *protocol.Record
	sideEffects []SideEffect
}

// SideEffect is a function that is executed after a processing step has been
// committed. Side effects are not executed while the state is being rebuilt.
type SideEffect func(ctx context.Context) error

// Now returns the time at which the record being processed was written.
func (pc *Context) Now() time.Time {
	return time.UnixMilli(pc.Record.Timestamp)
}

// NowMillis returns the time at which the record being processed was written,
// in Unix milliseconds.
func (pc *Context) NowMillis() int64 {
	return pc.Record.Timestamp
}

// NextKey returns a new unique key.
func (pc *Context) NextKey() int64 {
	return pc.State.NextKey(pc.PartitionID)
}

// IsLocal returns true if the entity with the given key was created on this
// partition.
func (pc *Context) IsLocal(key int64) bool {
	return keys.PartitionID(key) == pc.PartitionID
}

// WriteEvent stages an event.
func (pc *Context) WriteEvent(key int64, i protocol.Intent, v protocol.Value) *protocol.Record {
	return pc.write(protocol.Event, key, i, v)
}

// WriteCommand stages a command.
func (pc *Context) WriteCommand(key int64, i protocol.Intent, v protocol.Value) *protocol.Record {
	return pc.write(protocol.Command, key, i, v)
}

// WriteRejection stages the rejection of the command being processed, and
// responds to the command's request, if any.
func (pc *Context) WriteRejection(rt protocol.RejectionType, reason string) *protocol.Record {
	cmd := pc.Record

	r := pc.write(protocol.CommandRejection, cmd.Key, cmd.Intent, cmd.Value)
	r.RejectionType = rt
	r.RejectionReason = reason

	pc.Respond(r)

	return r
}

// Respond sets the response to the request that submitted the record being
// processed. It has no effect if the record carries no request.
func (pc *Context) Respond(r *protocol.Record) {
	if !pc.Record.HasRequest() {
		return
	}

	res := *r
	res.RequestID = pc.Record.RequestID
	res.RequestStreamID = pc.Record.RequestStreamID
	pc.response = &res
}

// SideEffect adds a function to execute once the processing step is
// committed.
func (pc *Context) SideEffect(fn SideEffect) {
	pc.sideEffects = append(pc.sideEffects, fn)
}

// Written returns the records staged so far.
func (pc *Context) Written() []*protocol.Record {
	return pc.written
}

func (pc *Context) write(
	rt protocol.RecordType,
	key int64,
	i protocol.Intent,
	v protocol.Value,
) *protocol.Record {
	r := &protocol.Record{
		SourceRecordPosition: pc.Record.Position,
		Key:                  key,
		Timestamp:            pc.Record.Timestamp,
		PartitionID:          pc.PartitionID,
		RecordType:           rt,
		ValueType:            v.ValueType(),
		Intent:               i,
		Value:                v,
	}

	pc.written = append(pc.written, r)

	if pc.registry != nil {
		pc.registry.notify(pc, r)
	}

	return r
}
