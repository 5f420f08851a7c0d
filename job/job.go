// Package job implements the processors of the job lifecycle.
//
// Jobs are created by service tasks. Workers activate them in batches,
// then complete them or report a failure. Activated jobs that are not
// completed before their deadline become activatable again.
package job

import (
	"time"

	"github.com/dogmatiq/conductor/processor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// DefaultTimeoutCheckInterval is the default interval at which activated jobs
// are checked for expired deadlines.
var DefaultTimeoutCheckInterval = 10 * time.Second

// Config is the configuration of the job processors.
type Config struct {
	// TimeoutCheckInterval is the interval at which activated jobs are
	// checked for expired deadlines. If it is zero,
	// DefaultTimeoutCheckInterval is used.
	TimeoutCheckInterval time.Duration
}

// Register adds the job processors to r.
//
// It returns the tasks that must be run by the stream processor.
func Register(r *processor.Registry, cfg Config) []processor.Task {
	r.RegisterCommand(protocol.JobValue, protocol.JobCreate, create)
	r.RegisterCommand(protocol.JobValue, protocol.JobComplete, complete)
	r.RegisterCommand(protocol.JobValue, protocol.JobFail, fail)
	r.RegisterCommand(protocol.JobValue, protocol.JobTimeOut, timeOut)
	r.RegisterCommand(protocol.JobValue, protocol.JobUpdateRetries, updateRetries)
	r.RegisterCommand(protocol.JobValue, protocol.JobCancel, cancel)
	r.RegisterCommand(protocol.JobValue, protocol.JobThrowError, throwError)
	r.RegisterCommand(protocol.JobBatchValue, protocol.JobBatchActivate, activateBatch)

	interval := cfg.TimeoutCheckInterval
	if interval == 0 {
		interval = DefaultTimeoutCheckInterval
	}

	return []processor.Task{
		{
			Name:     "job timeouts",
			Interval: interval,
			Run:      checkTimeouts,
		},
	}
}

// checkTimeouts writes a JOB.TIME_OUT command for each activated job with an
// expired deadline.
func checkTimeouts(tc *processor.TaskContext) error {
	tc.State.Jobs().VisitTimedOut(
		tc.NowMillis(),
		func(j *state.Job) bool {
			tc.WriteCommand(j.Key, protocol.JobTimeOut, &j.Record)
			return true
		},
	)

	return nil
}
