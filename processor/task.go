package processor

import (
	"time"

	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
)

// Task is a function that the stream processor runs periodically, such as
// the checks for timed out jobs and due timers.
//
// Tasks inspect the state and write commands to the log. They never modify
// the state directly.
type Task struct {
	// Name is a short description of the task, used in log messages.
	Name string

	// Interval is the time between executions of the task.
	Interval time.Duration

	// Run executes the task.
	Run func(tc *TaskContext) error
}

// TaskContext is the environment in which a task is executed.
type TaskContext struct {
	// State is a read-only view of the state.
	State *state.Tx

	// PartitionID is the ID of the partition that owns the log.
	PartitionID int32

	// PartitionCount is the number of partitions in the cluster.
	PartitionCount int32

	// Logger is the target for log messages produced by the task.
	Logger logging.Logger

	now         time.Time
	written     []*protocol.Record
	sideEffects []SideEffect
}

// Now returns the current time.
func (tc *TaskContext) Now() time.Time {
	return tc.now
}

// NowMillis returns the current time in Unix milliseconds.
func (tc *TaskContext) NowMillis() int64 {
	return tc.now.UnixMilli()
}

// WriteCommand stages a command to append to the log.
func (tc *TaskContext) WriteCommand(key int64, i protocol.Intent, v protocol.Value) {
	tc.written = append(tc.written, &protocol.Record{
		SourceRecordPosition: -1,
		Key:                  key,
		PartitionID:          tc.PartitionID,
		RecordType:           protocol.Command,
		ValueType:            v.ValueType(),
		Intent:               i,
		Value:                v,
	})
}

// SideEffect adds a function to execute after the task's commands have been
// appended.
func (tc *TaskContext) SideEffect(fn SideEffect) {
	tc.sideEffects = append(tc.sideEffects, fn)
}
