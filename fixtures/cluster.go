package fixtures

import (
	"context"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/protocol"
)

// MessagingStub is a test implementation of the cluster.Messaging interface.
type MessagingStub struct {
	cluster.Messaging

	RequestFunc func(ctx context.Context, to cluster.MemberID, subject string, payload []byte) ([]byte, error)
}

// Request sends a request to another member and returns its response.
func (m *MessagingStub) Request(
	ctx context.Context,
	to cluster.MemberID,
	subject string,
	payload []byte,
) ([]byte, error) {
	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, to, subject, payload)
	}

	if m.Messaging != nil {
		return m.Messaging.Request(ctx, to, subject, payload)
	}

	return nil, nil
}

// CommandSenderStub is a test implementation of the
// processor.CommandSender interface.
type CommandSenderStub struct {
	SendCommandFunc func(ctx context.Context, partitionID int32, r *protocol.Record) error
}

// SendCommand appends a command to the log of the given partition.
func (s *CommandSenderStub) SendCommand(
	ctx context.Context,
	partitionID int32,
	r *protocol.Record,
) error {
	if s.SendCommandFunc != nil {
		return s.SendCommandFunc(ctx, partitionID, r)
	}

	return nil
}
