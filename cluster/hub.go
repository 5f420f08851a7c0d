package cluster

import (
	"context"
	"sync"
)

// Hub connects cluster members that run within the same process.
//
// The zero value is ready to use.
type Hub struct {
	m        sync.RWMutex
	handlers map[MemberID]map[string]RequestHandler
	topics   map[string]map[int]TopicHandler
	next     int
}

// Member returns the services of the member with the given ID.
func (h *Hub) Member(id MemberID) *Member {
	h.m.Lock()
	defer h.m.Unlock()

	if h.handlers == nil {
		h.handlers = map[MemberID]map[string]RequestHandler{}
	}

	if _, ok := h.handlers[id]; !ok {
		h.handlers[id] = map[string]RequestHandler{}
	}

	return &Member{h, id}
}

func (h *Hub) request(ctx context.Context, to MemberID, subject string, payload []byte) ([]byte, error) {
	h.m.RLock()
	handlers, ok := h.handlers[to]
	var handler RequestHandler
	if ok {
		handler = handlers[subject]
	}
	h.m.RUnlock()

	if !ok {
		return nil, UnknownMemberError{to}
	}

	if handler == nil {
		return nil, ErrNoHandler
	}

	return handler(ctx, clone(payload))
}

func (h *Hub) handle(id MemberID, subject string, handler RequestHandler) func() {
	h.m.Lock()
	defer h.m.Unlock()

	h.handlers[id][subject] = handler

	return func() {
		h.m.Lock()
		defer h.m.Unlock()
		delete(h.handlers[id], subject)
	}
}

func (h *Hub) publish(topic string, payload []byte) {
	h.m.RLock()
	subs := make([]TopicHandler, 0, len(h.topics[topic]))
	for _, fn := range h.topics[topic] {
		subs = append(subs, fn)
	}
	h.m.RUnlock()

	for _, fn := range subs {
		go fn(clone(payload))
	}
}

func (h *Hub) subscribe(topic string, fn TopicHandler) func() {
	h.m.Lock()
	defer h.m.Unlock()

	if h.topics == nil {
		h.topics = map[string]map[int]TopicHandler{}
	}

	if h.topics[topic] == nil {
		h.topics[topic] = map[int]TopicHandler{}
	}

	id := h.next
	h.next++
	h.topics[topic][id] = fn

	return func() {
		h.m.Lock()
		defer h.m.Unlock()
		delete(h.topics[topic], id)
	}
}

// Member is a member of a Hub. It implements Messaging and EventService.
type Member struct {
	hub *Hub
	id  MemberID
}

// ID returns the member's ID.
func (m *Member) ID() MemberID {
	return m.id
}

// Request sends a request to a member and blocks until it replies.
func (m *Member) Request(ctx context.Context, to MemberID, subject string, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return m.hub.request(ctx, to, subject, payload)
}

// Handle registers the handler for requests with the given subject.
func (m *Member) Handle(subject string, h RequestHandler) func() {
	return m.hub.handle(m.id, subject, h)
}

// Publish sends a message to the subscribers of a topic.
func (m *Member) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.hub.publish(topic, payload)
	return nil
}

// Subscribe registers the handler for messages published on a topic.
func (m *Member) Subscribe(topic string, h TopicHandler) func() {
	return m.hub.subscribe(topic, h)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
