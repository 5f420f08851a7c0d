package processor

import (
	"context"

	"github.com/dogmatiq/conductor/protocol"
)

// ResponseWriter sends responses to the clients that submitted commands.
type ResponseWriter interface {
	// WriteResponse sends r to the client identified by its request ID and
	// request stream ID.
	WriteResponse(r *protocol.Record)
}

// CommandSender sends commands to the logs of other partitions.
type CommandSender interface {
	// SendCommand appends a command to the log of the given partition.
	SendCommand(ctx context.Context, partitionID int32, r *protocol.Record) error
}

// Send stages a command to be sent to another partition once the processing
// step is committed.
//
// The command is never sent while the state is being rebuilt. Commands sent
// between partitions are delivered at least once, so their processors must
// tolerate duplicates.
func (pc *Context) Send(
	s CommandSender,
	partitionID int32,
	key int64,
	i protocol.Intent,
	v protocol.Value,
) {
	r := newCommand(partitionID, key, i, v)

	pc.SideEffect(func(ctx context.Context) error {
		return s.SendCommand(ctx, partitionID, r)
	})
}

// Send stages a command to be sent to another partition once the task has
// completed.
func (tc *TaskContext) Send(
	s CommandSender,
	partitionID int32,
	key int64,
	i protocol.Intent,
	v protocol.Value,
) {
	r := newCommand(partitionID, key, i, v)

	tc.SideEffect(func(ctx context.Context) error {
		return s.SendCommand(ctx, partitionID, r)
	})
}

func newCommand(partitionID int32, key int64, i protocol.Intent, v protocol.Value) *protocol.Record {
	return &protocol.Record{
		SourceRecordPosition: -1,
		Key:                  key,
		PartitionID:          partitionID,
		RecordType:           protocol.Command,
		ValueType:            v.ValueType(),
		Intent:               i,
		Value:                v,
	}
}
