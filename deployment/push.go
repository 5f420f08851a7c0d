package deployment

import (
	"context"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"k8s.io/utils/clock"
)

// ServePush handles push requests from the deployment partition by appending
// a DEPLOYMENT.CREATE command to the log of the target partition.
//
// logs returns the log of each partition led by the local member. A push to
// any other partition is answered with a PARTITION_LEADER_MISMATCH error.
//
// It returns a function that stops handling requests.
func ServePush(
	m cluster.Messaging,
	logs func(partitionID int32) (logstream.Log, bool),
	c clock.PassiveClock,
) (cancel func()) {
	return m.Handle(
		PushSubject,
		func(ctx context.Context, payload []byte) ([]byte, error) {
			var req PushRequest
			if err := req.UnmarshalBinary(payload); err != nil {
				return codec.Errorf(codec.MalformedRequest, "%s", err).MarshalBinary()
			}

			log, ok := logs(req.PartitionID)
			if !ok {
				return codec.Errorf(
					codec.PartitionLeaderMismatch,
					"this member is not the leader of partition %d",
					req.PartitionID,
				).MarshalBinary()
			}

			cmd := &protocol.Record{
				SourceRecordPosition: -1,
				Key:                  req.DeploymentKey,
				Timestamp:            c.Now().UnixMilli(),
				PartitionID:          req.PartitionID,
				RecordType:           protocol.Command,
				ValueType:            protocol.DeploymentValue,
				Intent:               protocol.DeploymentCreate,
				Value:                req.Deployment,
			}

			if _, err := log.Append(ctx, cmd); err != nil {
				return codec.Errorf(codec.InternalError, "%s", err).MarshalBinary()
			}

			return (&PushResponse{
				PartitionID:   req.PartitionID,
				DeploymentKey: req.DeploymentKey,
			}).MarshalBinary()
		},
	)
}
