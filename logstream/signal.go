package logstream

import "sync"

// Signal wakes goroutines that are waiting for records to be appended.
//
// The zero value is ready to use.
type Signal struct {
	m  sync.Mutex
	ch chan struct{}
}

// Wait returns a channel that is closed the next time Broadcast() is called.
func (s *Signal) Wait() <-chan struct{} {
	s.m.Lock()
	defer s.m.Unlock()

	if s.ch == nil {
		s.ch = make(chan struct{})
	}

	return s.ch
}

// Broadcast wakes all goroutines that are waiting.
func (s *Signal) Broadcast() {
	s.m.Lock()
	defer s.m.Unlock()

	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

// CommitListeners is a set of functions that are notified when a log's commit
// position advances.
//
// The zero value is ready to use.
type CommitListeners struct {
	m    sync.Mutex
	next int
	fns  map[int]func(int64)
}

// Add registers fn. It returns a function that removes the registration.
func (l *CommitListeners) Add(fn func(int64)) func() {
	l.m.Lock()
	defer l.m.Unlock()

	if l.fns == nil {
		l.fns = map[int]func(int64){}
	}

	id := l.next
	l.next++
	l.fns[id] = fn

	return func() {
		l.m.Lock()
		defer l.m.Unlock()
		delete(l.fns, id)
	}
}

// Notify calls each registered function with the given position.
func (l *CommitListeners) Notify(position int64) {
	l.m.Lock()
	fns := make([]func(int64), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.m.Unlock()

	for _, fn := range fns {
		fn(position)
	}
}
