package protocol

import "github.com/dogmatiq/conductor/codec"

// JobRecord is the value of JOB records.
type JobRecord struct {
	Type          string
	Worker        string
	Retries       int32
	Deadline      int64
	RetryBackoff  int64
	ErrorMessage  string
	ErrorCode     string
	CustomHeaders map[string]string
	Variables     []byte

	ElementInstanceKey  int64
	WorkflowInstanceKey int64
	WorkflowKey         int64
	BpmnProcessID       string
	ElementID           string
}

// ValueType returns JobValue.
func (*JobRecord) ValueType() ValueType { return JobValue }

func (r *JobRecord) encodeValue(e *codec.Encoder) {
	e.Int32(r.Retries)
	e.Int64(r.Deadline)
	e.Int64(r.RetryBackoff)
	e.Int64(r.ElementInstanceKey)
	e.Int64(r.WorkflowInstanceKey)
	e.Int64(r.WorkflowKey)
	e.String(r.Type)
	e.String(r.Worker)
	e.String(r.ErrorMessage)
	e.String(r.ErrorCode)
	encodeHeaders(e, r.CustomHeaders)
	e.Bytes(r.Variables)
	e.String(r.BpmnProcessID)
	e.String(r.ElementID)
}

func (r *JobRecord) decodeValue(d *codec.Decoder) {
	r.Retries = d.Int32()
	r.Deadline = d.Int64()
	r.RetryBackoff = d.Int64()
	r.ElementInstanceKey = d.Int64()
	r.WorkflowInstanceKey = d.Int64()
	r.WorkflowKey = d.Int64()
	r.Type = d.String()
	r.Worker = d.String()
	r.ErrorMessage = d.String()
	r.ErrorCode = d.String()
	r.CustomHeaders = decodeHeaders(d)
	r.Variables = d.Bytes()
	r.BpmnProcessID = d.String()
	r.ElementID = d.String()
}

// JobBatchRecord is the value of JOB_BATCH records.
type JobBatchRecord struct {
	Type              string
	Worker            string
	Timeout           int64
	MaxJobsToActivate int32
	Truncated         bool
	JobKeys           []int64
	Jobs              []JobRecord
}

// ValueType returns JobBatchValue.
func (*JobBatchRecord) ValueType() ValueType { return JobBatchValue }

func (r *JobBatchRecord) encodeValue(e *codec.Encoder) {
	e.Int64(r.Timeout)
	e.Int32(r.MaxJobsToActivate)
	e.Bool(r.Truncated)
	e.String(r.Type)
	e.String(r.Worker)
	e.Int64s(r.JobKeys)
	e.Count(len(r.Jobs))
	for i := range r.Jobs {
		e.Bytes(MarshalValue(&r.Jobs[i]))
	}
}

func (r *JobBatchRecord) decodeValue(d *codec.Decoder) {
	r.Timeout = d.Int64()
	r.MaxJobsToActivate = d.Int32()
	r.Truncated = d.Bool()
	r.Type = d.String()
	r.Worker = d.String()
	r.JobKeys = d.Int64s()
	r.Jobs = nil
	for i, n := 0, d.Count(); i < n; i++ {
		v, err := UnmarshalValue(JobValue, d.Bytes())
		if err != nil {
			continue
		}
		r.Jobs = append(r.Jobs, *v.(*JobRecord))
	}
}
