// Package keys defines the layout of the 64-bit keys that identify entities.
//
// The upper bits of a key encode the partition on which it was generated and
// the lower bits hold a per-partition counter, so keys are unique across the
// whole cluster without coordination.
package keys

const (
	// CounterBits is the number of low-order bits used by the per-partition
	// counter.
	CounterBits = 51

	// MaxCounter is the largest counter value that can be encoded in a key.
	MaxCounter = 1<<CounterBits - 1

	// None is the key used by records that do not describe an entity.
	None int64 = -1
)

// Encode returns the key for the given partition and counter value.
func Encode(partitionID int32, counter int64) int64 {
	if counter < 0 || counter > MaxCounter {
		panic("key counter is out of range")
	}

	return int64(partitionID)<<CounterBits | counter
}

// PartitionID returns the partition on which k was generated.
func PartitionID(k int64) int32 {
	return int32(k >> CounterBits)
}

// Counter returns the per-partition counter value of k.
func Counter(k int64) int64 {
	return k & MaxCounter
}
