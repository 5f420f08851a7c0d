package processor

import (
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
)

// RaiseIncident stages an INCIDENT.CREATED event and records the incident in
// the state.
//
// failed is the workflow instance event that is re-applied when the incident
// is resolved. It is nil for incidents raised for jobs.
func (pc *Context) RaiseIncident(rec *protocol.IncidentRecord, failed *protocol.Record) int64 {
	key := pc.NextKey()

	if failed != nil {
		rec.FailedRecordPosition = failed.Position
	}

	pc.WriteEvent(key, protocol.IncidentCreated, rec)
	pc.State.Incidents().Put(&state.Incident{
		Key:          key,
		Record:       *rec,
		FailedRecord: failed,
	})

	return key
}

// incidentFor returns the incident record for a failure to process r.
func incidentFor(r *protocol.Record, cause error) *protocol.IncidentRecord {
	inc := &protocol.IncidentRecord{
		ErrorType:    protocol.UnknownError,
		ErrorMessage: cause.Error(),
	}

	switch v := r.Value.(type) {
	case *protocol.WorkflowInstanceRecord:
		inc.BpmnProcessID = v.BpmnProcessID
		inc.WorkflowKey = v.WorkflowKey
		inc.WorkflowInstanceKey = v.WorkflowInstanceKey
		inc.ElementID = v.ElementID
		inc.ElementInstanceKey = r.Key
		inc.VariableScopeKey = r.Key
	case *protocol.JobRecord:
		inc.BpmnProcessID = v.BpmnProcessID
		inc.WorkflowKey = v.WorkflowKey
		inc.WorkflowInstanceKey = v.WorkflowInstanceKey
		inc.ElementID = v.ElementID
		inc.ElementInstanceKey = v.ElementInstanceKey
		inc.VariableScopeKey = v.ElementInstanceKey
	}

	return inc
}
