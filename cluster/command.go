package cluster

import (
	"context"
	"fmt"

	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"k8s.io/utils/clock"
)

// CommandSubject returns the subject of requests that carry commands for the
// given partition.
func CommandSubject(partitionID int32) string {
	return fmt.Sprintf("command-%d", partitionID)
}

// CommandSender sends commands to the leaders of other partitions.
type CommandSender struct {
	Messaging Messaging
	Topology  Topology
}

// SendCommand appends a command to the log of the given partition.
func (s *CommandSender) SendCommand(ctx context.Context, partitionID int32, r *protocol.Record) error {
	leader, ok := s.Topology.Leader(partitionID)
	if !ok {
		return fmt.Errorf("partition %d has no leader", partitionID)
	}

	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}

	res, err := s.Messaging.Request(ctx, leader, CommandSubject(partitionID), data)
	if err != nil {
		return fmt.Errorf("unable to send command to partition %d: %w", partitionID, err)
	}

	var er codec.ErrorResponse
	if er.TryWrap(res) {
		if err := er.UnmarshalBinary(res); err != nil {
			return err
		}
		return &er
	}

	return nil
}

// ServeCommands handles requests that carry commands for the partition that
// owns the given log, by appending the commands to the log. Each command is
// stamped with the current time of c.
//
// It returns a function that stops handling requests.
func ServeCommands(m Messaging, log logstream.Log, c clock.PassiveClock) (cancel func()) {
	return m.Handle(
		CommandSubject(log.PartitionID()),
		func(ctx context.Context, payload []byte) ([]byte, error) {
			r, err := protocol.UnmarshalRecord(payload)
			if err != nil {
				return codec.Errorf(codec.MalformedRequest, "%s", err).MarshalBinary()
			}

			if r.RecordType != protocol.Command {
				return codec.Errorf(
					codec.UnsupportedMessage,
					"expected a command, got %s",
					r.RecordType,
				).MarshalBinary()
			}

			r.PartitionID = log.PartitionID()
			r.Timestamp = c.Now().UnixMilli()

			if _, err := log.Append(ctx, r); err != nil {
				return codec.Errorf(codec.InternalError, "%s", err).MarshalBinary()
			}

			return nil, nil
		},
	)
}
