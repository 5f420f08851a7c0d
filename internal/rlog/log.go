// Package rlog renders records as single-line log messages.
package rlog

import (
	"fmt"
	"time"

	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/dodeca/logging"
)

// FormatKey formats a record key for logging.
func FormatKey(k int64) string {
	if k < 0 {
		return ""
	}
	return fmt.Sprintf("key %#x", k)
}

// LogProcess logs a debug message indicating that a record is being
// processed.
//
// replay is true if the record is processed only to rebuild the state.
func LogProcess(log logging.Logger, r *protocol.Record, replay bool) {
	if !logging.IsDebug(log) {
		return
	}

	icon := ProcessIcon
	if replay {
		icon = ReprocessIcon
	}

	logging.Debug(log, "%s", recordLine(r, icon, ""))
}

// LogWrite logs a debug message indicating that a record was appended to the
// log.
func LogWrite(log logging.Logger, r *protocol.Record) {
	if !logging.IsDebug(log) {
		return
	}

	icon := Icon("")
	if r.RecordType == protocol.CommandRejection {
		icon = RejectIcon
	}

	logging.Debug(log, "%s", recordLine(r, WriteIcon, icon, r.RejectionReason))
}

// LogRetry logs a message indicating that the processing of a record failed
// and will be retried.
func LogRetry(log logging.Logger, r *protocol.Record, cause error, delay time.Duration) {
	logging.LogString(
		log,
		recordLine(
			r,
			RetryIcon,
			ErrorIcon,
			cause.Error(),
			fmt.Sprintf("next retry in %s", delay),
		),
	)
}

// LogFailure logs a message indicating that a processor failed to process a
// record, such that an incident was raised.
func LogFailure(log logging.Logger, r *protocol.Record, cause error) {
	logging.LogString(
		log,
		recordLine(r, ProcessIcon, ErrorIcon, cause.Error()),
	)
}

// LogSystem logs an informational message about the internals of the engine.
func LogSystem(log logging.Logger, f string, v ...any) {
	logging.LogString(
		log,
		Line{
			Icons: []Icon{SystemIcon, ""},
			Text:  []string{fmt.Sprintf(f, v...)},
		}.String(),
	)
}

func recordLine(r *protocol.Record, primary, secondary Icon, text ...string) string {
	return Line{
		Labels: []Label{
			PositionIcon.Position(r.Position),
			SourceIcon.Position(r.SourceRecordPosition),
		},
		Icons: []Icon{primary, secondary},
		Text:  append([]string{r.String(), FormatKey(r.Key)}, text...),
	}.String()
}
