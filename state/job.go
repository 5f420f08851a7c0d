package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	jobsBucketKey        = []byte("jobs")
	activatableBucketKey = []byte("jobs.activatable")
	deadlinesBucketKey   = []byte("jobs.deadlines")
	backoffBucketKey     = []byte("jobs.backoff")
)

// JobStatus is the state of a job.
type JobStatus uint8

const (
	// JobActivatable is the status of a job that may be activated by a
	// worker.
	JobActivatable JobStatus = iota + 1

	// JobActivated is the status of a job that has been activated by a
	// worker and has not yet timed out.
	JobActivated

	// JobFailed is the status of a job that failed without retries, or that
	// is waiting for its retry backoff to elapse.
	JobFailed

	// JobErrorThrown is the status of a job for which a worker has thrown an
	// error.
	JobErrorThrown
)

// Job is the state of a job.
type Job struct {
	Key    int64
	Status JobStatus
	Record protocol.JobRecord

	// RecurAt is the time at which a failed job with retries remaining
	// becomes activatable, in Unix milliseconds.
	RecurAt int64
}

// JobState is the view of jobs.
type JobState struct{ t *Tx }

// Jobs returns the view of jobs.
func (t *Tx) Jobs() JobState {
	return JobState{t}
}

// Get returns the job with the given key.
func (s JobState) Get(key int64) (*Job, bool) {
	data := bboltx.Get(s.t.bucket(jobsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	j := &Job{}
	decodeEntry(data, jobTemplate, func(d *codec.Decoder) {
		j.Key = d.Int64()
		j.Status = JobStatus(d.Uint8())
		j.RecurAt = d.Int64()
		d.EndBlock()
		j.Record = *unmarshalValue[*protocol.JobRecord](protocol.JobValue, d.Bytes())
	})

	return j, true
}

// Put stores a job, maintaining the indexes used to find activatable, timed
// out and recurring jobs.
func (s JobState) Put(j *Job) {
	s.unindex(j.Key)

	data := encodeEntry(jobTemplate, func(e *codec.Encoder) {
		e.Int64(j.Key)
		e.Uint8(uint8(j.Status))
		e.Int64(j.RecurAt)
		e.EndBlock()
		e.Bytes(marshalValue(&j.Record))
	})

	bboltx.Put(s.t.bucket(jobsBucketKey), int64Key(j.Key), data)

	switch j.Status {
	case JobActivatable:
		bboltx.Add(
			s.t.bucket(activatableBucketKey),
			join(stringKey(j.Record.Type), int64Key(j.Key)),
		)
	case JobActivated:
		bboltx.Add(
			s.t.bucket(deadlinesBucketKey),
			join(int64Key(j.Record.Deadline), int64Key(j.Key)),
		)
	case JobFailed:
		if j.RecurAt > 0 {
			bboltx.Add(
				s.t.bucket(backoffBucketKey),
				join(int64Key(j.RecurAt), int64Key(j.Key)),
			)
		}
	}
}

// Remove removes a job.
func (s JobState) Remove(key int64) {
	s.unindex(key)
	bboltx.Delete(s.t.bucket(jobsBucketKey), int64Key(key))
}

// VisitActivatable calls fn for each activatable job of the given type, in
// key order.
func (s JobState) VisitActivatable(jobType string, fn func(j *Job) bool) {
	for _, k := range bboltx.Keys(s.t.bucket(activatableBucketKey), stringKey(jobType)) {
		j, ok := s.Get(parseInt64Key(k[len(k)-8:]))
		if ok && !fn(j) {
			return
		}
	}
}

// VisitTimedOut calls fn for each activated job with a deadline before now.
func (s JobState) VisitTimedOut(now int64, fn func(j *Job) bool) {
	s.visitBefore(deadlinesBucketKey, now, fn)
}

// VisitRecurring calls fn for each failed job whose retry backoff elapsed
// before now.
func (s JobState) VisitRecurring(now int64, fn func(j *Job) bool) {
	s.visitBefore(backoffBucketKey, now, fn)
}

func (s JobState) visitBefore(bucket []byte, now int64, fn func(j *Job) bool) {
	for _, k := range bboltx.Keys(s.t.bucket(bucket), nil) {
		if parseInt64Key(k) >= now {
			return
		}

		j, ok := s.Get(parseInt64Key(k[8:]))
		if ok && !fn(j) {
			return
		}
	}
}

func (s JobState) unindex(key int64) {
	j, ok := s.Get(key)
	if !ok {
		return
	}

	bboltx.Delete(
		s.t.bucket(activatableBucketKey),
		join(stringKey(j.Record.Type), int64Key(key)),
	)
	bboltx.Delete(
		s.t.bucket(deadlinesBucketKey),
		join(int64Key(j.Record.Deadline), int64Key(key)),
	)
	bboltx.Delete(
		s.t.bucket(backoffBucketKey),
		join(int64Key(j.RecurAt), int64Key(key)),
	)
}
