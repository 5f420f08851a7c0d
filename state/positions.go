package state

import (
	"github.com/dogmatiq/conductor/internal/x/bboltx"
	"github.com/dogmatiq/conductor/keys"
)

var (
	// metadataBucketKey is the key of the bucket that contains the positions
	// of the stream processor and the key generator's counter.
	metadataBucketKey = []byte("metadata")

	lastProcessedKey = []byte("last-processed-position")
	lastWrittenKey   = []byte("last-written-position")
	keyCounterKey    = []byte("key-counter")
)

// LastProcessedPosition returns the position of the last record that was
// processed, or -1 if no record has been processed.
func (t *Tx) LastProcessedPosition() int64 {
	return t.metadata(lastProcessedKey, -1)
}

// LastWrittenPosition returns the position of the last record that was written
// by the stream processor, or -1 if no record has been written.
func (t *Tx) LastWrittenPosition() int64 {
	return t.metadata(lastWrittenKey, -1)
}

// SetPositions records the positions of the last processed and last written
// records.
func (t *Tx) SetPositions(processed, written int64) {
	b := t.bucket(metadataBucketKey)
	bboltx.Put(b, lastProcessedKey, int64Key(processed))
	bboltx.Put(b, lastWrittenKey, int64Key(written))
}

// NextKey returns a new key for an entity created on the given partition.
func (t *Tx) NextKey(partitionID int32) int64 {
	n := t.metadata(keyCounterKey, 0) + 1
	bboltx.Put(t.bucket(metadataBucketKey), keyCounterKey, int64Key(n))
	return keys.Encode(partitionID, n)
}

func (t *Tx) metadata(k []byte, def int64) int64 {
	v := bboltx.Get(t.bucket(metadataBucketKey), k)
	if v == nil {
		return def
	}

	return parseInt64Key(v)
}
