package state

import (
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/protocol"
)

var (
	incidentsBucketKey        = []byte("incidents")
	incidentsElementBucketKey = []byte("incidents.elements")
	incidentsJobBucketKey     = []byte("incidents.jobs")
)

// Incident is an unresolved incident.
type Incident struct {
	Key    int64
	Record protocol.IncidentRecord

	// FailedRecord is the workflow instance event that could not be
	// processed. It is nil for job incidents.
	FailedRecord *protocol.Record
}

// IncidentState is the view of unresolved incidents.
type IncidentState struct{ t *Tx }

// Incidents returns the view of incidents.
func (t *Tx) Incidents() IncidentState {
	return IncidentState{t}
}

// Put stores an incident.
func (s IncidentState) Put(i *Incident) {
	var failed []byte
	if i.FailedRecord != nil {
		var err error
		failed, err = i.FailedRecord.MarshalBinary()
		bboltx.Must(err)
	}

	data := encodeEntry(incidentTemplate, func(e *codec.Encoder) {
		e.Int64(i.Key)
		e.EndBlock()
		e.Bytes(marshalValue(&i.Record))
		e.Bytes(failed)
	})

	bboltx.Put(s.t.bucket(incidentsBucketKey), int64Key(i.Key), data)

	if i.Record.JobKey > 0 {
		bboltx.Put(s.t.bucket(incidentsJobBucketKey), int64Key(i.Record.JobKey), int64Key(i.Key))
	} else if i.Record.ElementInstanceKey > 0 {
		bboltx.Put(s.t.bucket(incidentsElementBucketKey), int64Key(i.Record.ElementInstanceKey), int64Key(i.Key))
	}
}

// Get returns the incident with the given key.
func (s IncidentState) Get(key int64) (*Incident, bool) {
	data := bboltx.Get(s.t.bucket(incidentsBucketKey), int64Key(key))
	if data == nil {
		return nil, false
	}

	i := &Incident{}
	decodeEntry(data, incidentTemplate, func(d *codec.Decoder) {
		i.Key = d.Int64()
		d.EndBlock()
		i.Record = *unmarshalValue[*protocol.IncidentRecord](protocol.IncidentValue, d.Bytes())

		if failed := d.Bytes(); failed != nil {
			r, err := protocol.UnmarshalRecord(failed)
			bboltx.Must(err)
			i.FailedRecord = r
		}
	})

	return i, true
}

// Remove removes an incident.
func (s IncidentState) Remove(key int64) {
	i, ok := s.Get(key)
	if !ok {
		return
	}

	bboltx.Delete(s.t.bucket(incidentsBucketKey), int64Key(key))

	if i.Record.JobKey > 0 {
		bboltx.Delete(s.t.bucket(incidentsJobBucketKey), int64Key(i.Record.JobKey))
	} else if i.Record.ElementInstanceKey > 0 {
		bboltx.Delete(s.t.bucket(incidentsElementBucketKey), int64Key(i.Record.ElementInstanceKey))
	}
}

// ForElement returns the key of the incident raised for an element instance.
func (s IncidentState) ForElement(elementInstanceKey int64) (int64, bool) {
	return s.lookup(incidentsElementBucketKey, elementInstanceKey)
}

// ForJob returns the key of the incident raised for a job.
func (s IncidentState) ForJob(jobKey int64) (int64, bool) {
	return s.lookup(incidentsJobBucketKey, jobKey)
}

func (s IncidentState) lookup(bucket []byte, key int64) (int64, bool) {
	v := bboltx.Get(s.t.bucket(bucket), int64Key(key))
	if v == nil {
		return 0, false
	}
	return parseInt64Key(v), true
}
