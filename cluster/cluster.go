// Package cluster defines the services through which the members of a cluster
// communicate with each other.
package cluster

import (
	"context"
	"errors"
	"fmt"
)

// MemberID is the identity of a member of the cluster.
type MemberID string

// ErrNoHandler is returned by Messaging.Request() if the receiving member has
// no handler for the request's subject.
var ErrNoHandler = errors.New("no handler is registered for the subject")

// UnknownMemberError is returned when a request is sent to a member that is
// not part of the cluster.
type UnknownMemberError struct {
	Member MemberID
}

func (e UnknownMemberError) Error() string {
	return fmt.Sprintf("unknown cluster member: %s", e.Member)
}

// RequestHandler handles a request and returns the payload of the reply.
type RequestHandler func(ctx context.Context, payload []byte) ([]byte, error)

// TopicHandler handles a message published on a topic.
type TopicHandler func(payload []byte)

// Messaging sends requests to specific members of the cluster.
type Messaging interface {
	// Request sends a request to a member and blocks until it replies.
	Request(ctx context.Context, to MemberID, subject string, payload []byte) ([]byte, error)

	// Handle registers the handler for requests with the given subject. It
	// returns a function that removes the registration.
	Handle(subject string, h RequestHandler) (cancel func())
}

// EventService publishes messages to every member of the cluster that
// subscribes to a topic.
type EventService interface {
	// Publish sends a message to the subscribers of a topic. Delivery is
	// asynchronous and best-effort.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers the handler for messages published on a topic. It
	// returns a function that removes the registration.
	Subscribe(topic string, h TopicHandler) (cancel func())
}

// Topology provides the current leader of each partition.
type Topology interface {
	// LocalMember returns the ID of the local member.
	LocalMember() MemberID

	// Leader returns the member that leads the given partition.
	Leader(partitionID int32) (MemberID, bool)
}

// StaticTopology is a Topology with fixed partition leaders.
type StaticTopology struct {
	Local   MemberID
	Leaders map[int32]MemberID
}

// LocalMember returns t.Local.
func (t *StaticTopology) LocalMember() MemberID {
	return t.Local
}

// Leader returns the member that leads the given partition.
func (t *StaticTopology) Leader(partitionID int32) (MemberID, bool) {
	id, ok := t.Leaders[partitionID]
	return id, ok
}
