// Package processor implements the stream processor, which consumes the
// records of a partition's log, applies them to the partition's state and
// appends their follow-up records to the log.
package processor

import (
	"fmt"

	"github.com/dogmatiq/conductor/protocol"
)

// Processor processes records of a specific value type and intent.
type Processor interface {
	Process(pc *Context) error
}

// Func is an adaptor that allows ordinary functions to be used as
// processors.
type Func func(pc *Context) error

// Process calls fn(pc).
func (fn Func) Process(pc *Context) error {
	return fn(pc)
}

// WriteObserver is notified of each record staged by a processor, before the
// processor returns.
//
// Observers apply the effects of events that must be visible to the rest of
// the processing step, such as the lifecycle state of element instances.
type WriteObserver func(pc *Context, r *protocol.Record)

type registryKey struct {
	ValueType protocol.ValueType
	Intent    protocol.Intent
}

// Registry is a set of processors, keyed by the value type and intent of the
// records they process.
type Registry struct {
	processors map[registryKey]Processor
	observers  map[protocol.ValueType][]WriteObserver
}

// Register adds a processor for the records with the given value type and
// intent.
//
// It panics if a processor is already registered for the same value type and
// intent.
func (r *Registry) Register(vt protocol.ValueType, i protocol.Intent, p Processor) {
	k := registryKey{vt, i}

	if _, ok := r.processors[k]; ok {
		panic(fmt.Sprintf(
			"a processor is already registered for %s.%s records",
			vt,
			protocol.IntentName(vt, i),
		))
	}

	if r.processors == nil {
		r.processors = map[registryKey]Processor{}
	}

	r.processors[k] = p
}

// RegisterFunc adds a function as the processor for the records with the
// given value type and intent.
func (r *Registry) RegisterFunc(vt protocol.ValueType, i protocol.Intent, fn func(pc *Context) error) {
	r.Register(vt, i, Func(fn))
}

// RegisterCommand adds a command processor for the commands with the given
// value type and intent.
func (r *Registry) RegisterCommand(vt protocol.ValueType, i protocol.Intent, fn CommandFunc) {
	r.Register(vt, i, fn)
}

// Observe adds an observer that is notified of each staged record with the
// given value type.
func (r *Registry) Observe(vt protocol.ValueType, o WriteObserver) {
	if r.observers == nil {
		r.observers = map[protocol.ValueType][]WriteObserver{}
	}

	r.observers[vt] = append(r.observers[vt], o)
}

// Lookup returns the processor for the given record.
//
// Command rejections are never processed.
func (r *Registry) Lookup(rec *protocol.Record) (Processor, bool) {
	if rec.RecordType == protocol.CommandRejection {
		return nil, false
	}

	p, ok := r.processors[registryKey{rec.ValueType, rec.Intent}]
	return p, ok
}

func (r *Registry) notify(pc *Context, rec *protocol.Record) {
	for _, o := range r.observers[rec.ValueType] {
		o(pc, rec)
	}
}
