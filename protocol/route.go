package protocol

import "hash/fnv"

// DeploymentPartitionID is the ID of the partition that creates deployments
// and distributes them to the other partitions.
const DeploymentPartitionID int32 = 1

// MessagePartitionID returns the ID of the partition that stores the messages
// and message subscriptions with the given correlation key.
//
// Partition IDs begin at 1.
func MessagePartitionID(correlationKey string, partitionCount int32) int32 {
	h := fnv.New32a()
	h.Write([]byte(correlationKey)) // nolint:errcheck
	return int32(h.Sum32()%uint32(partitionCount)) + 1
}
