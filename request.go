package conductor

import (
	"sync"

	"github.com/dogmatiq/conductor/protocol"
)

// requestStreamID is the request stream ID of the commands submitted by an
// engine's clients.
const requestStreamID int32 = 1

// responseRouter delivers the responses written by the stream processors to
// the clients waiting for them.
//
// It implements processor.ResponseWriter.
type responseRouter struct {
	m       sync.Mutex
	next    int64
	waiting map[int64]chan *protocol.Record
}

// register allocates a request ID. The response to the request is sent on the
// returned channel. done must be called once the response is no longer
// needed.
func (r *responseRouter) register() (id int64, res <-chan *protocol.Record, done func()) {
	r.m.Lock()
	defer r.m.Unlock()

	r.next++
	id = r.next

	ch := make(chan *protocol.Record, 1)

	if r.waiting == nil {
		r.waiting = map[int64]chan *protocol.Record{}
	}
	r.waiting[id] = ch

	return id, ch, func() {
		r.m.Lock()
		defer r.m.Unlock()
		delete(r.waiting, id)
	}
}

// WriteResponse sends res to the client waiting for it, if any.
func (r *responseRouter) WriteResponse(res *protocol.Record) {
	if res.RequestStreamID != requestStreamID {
		return
	}

	r.m.Lock()
	ch, ok := r.waiting[res.RequestID]
	delete(r.waiting, res.RequestID)
	r.m.Unlock()

	if ok {
		ch <- res
	}
}
