package snapshot

import (
	"fmt"

	"github.com/dogmatiq/conductor/codec"
)

// schemaID is the schema of the snapshot transfer messages.
const schemaID uint16 = 5

const (
	restoreRequestTemplate uint16 = iota + 1
	chunkTemplate
	invalidRestoreResponseTemplate
)

// RestoreSubject returns the subject of requests that fetch the chunks of a
// partition's snapshots.
func RestoreSubject(partitionID int32) string {
	return fmt.Sprintf("snapshot-restore-%d", partitionID)
}

// ReplicationTopic returns the topic on which the leader of a partition
// publishes the chunks of each new snapshot.
func ReplicationTopic(partitionID int32) string {
	return fmt.Sprintf("snapshot-replication-%d", partitionID)
}

// RestoreRequest requests a single chunk of a snapshot.
type RestoreRequest struct {
	// SnapshotID identifies the snapshot. If it is empty, the latest valid
	// snapshot is used.
	SnapshotID string
	ChunkIndex int32
}

// MarshalBinary returns the binary representation of the request.
func (r *RestoreRequest) MarshalBinary() ([]byte, error) {
	e := codec.NewEncoder(schemaID, restoreRequestTemplate, 1)
	e.Int32(r.ChunkIndex)
	e.String(r.SnapshotID)
	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *RestoreRequest) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, schemaID, restoreRequestTemplate)
	if err != nil {
		return err
	}

	r.ChunkIndex = d.Int32()
	r.SnapshotID = d.String()

	return d.Err()
}

// Chunk is a single file of a snapshot. It is the response to a
// RestoreRequest, and the message published when a snapshot is replicated.
type Chunk struct {
	SnapshotID  string
	TotalChunks int32
	ChunkName   string
	Checksum    uint32
	Content     []byte
}

// TryWrap returns true if b contains an encoded Chunk.
func (c *Chunk) TryWrap(b []byte) bool {
	return codec.TryWrap(b, schemaID, chunkTemplate)
}

// Verify returns ErrChecksumMismatch if the chunk's content does not match
// its checksum.
func (c *Chunk) Verify() error {
	if Checksum(c.Content) != c.Checksum {
		return fmt.Errorf(
			"chunk %q of snapshot %s: %w",
			c.ChunkName,
			c.SnapshotID,
			ErrChecksumMismatch,
		)
	}
	return nil
}

// MarshalBinary returns the binary representation of the chunk.
func (c *Chunk) MarshalBinary() ([]byte, error) {
	e := codec.NewEncoder(schemaID, chunkTemplate, 1)
	e.Int32(c.TotalChunks)
	e.Int64(int64(c.Checksum))
	e.String(c.SnapshotID)
	e.String(c.ChunkName)
	e.Bytes(c.Content)
	return e.Finish(), nil
}

// UnmarshalBinary populates c from its binary representation.
func (c *Chunk) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, schemaID, chunkTemplate)
	if err != nil {
		return err
	}

	c.TotalChunks = d.Int32()
	c.Checksum = uint32(d.Int64())
	c.SnapshotID = d.String()
	c.ChunkName = d.String()
	c.Content = d.Bytes()

	return d.Err()
}

// InvalidRestoreResponse is the response to a RestoreRequest that can not be
// served, such as a request for a snapshot that no longer exists.
type InvalidRestoreResponse struct {
	Reason string
}

// TryWrap returns true if b contains an encoded InvalidRestoreResponse.
func (r *InvalidRestoreResponse) TryWrap(b []byte) bool {
	return codec.TryWrap(b, schemaID, invalidRestoreResponseTemplate)
}

func (r *InvalidRestoreResponse) Error() string {
	return "invalid snapshot restore request: " + r.Reason
}

// MarshalBinary returns the binary representation of the response.
func (r *InvalidRestoreResponse) MarshalBinary() ([]byte, error) {
	e := codec.NewEncoder(schemaID, invalidRestoreResponseTemplate, 1)
	e.String(r.Reason)
	return e.Finish(), nil
}

// UnmarshalBinary populates r from its binary representation.
func (r *InvalidRestoreResponse) UnmarshalBinary(b []byte) error {
	d, err := codec.NewDecoder(b, schemaID, invalidRestoreResponseTemplate)
	if err != nil {
		return err
	}

	r.Reason = d.String()

	return d.Err()
}
