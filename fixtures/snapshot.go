package fixtures

import (
	"context"

	"github.com/dogmatiq/conductor/snapshot"
)

// SnapshotterStub is a test implementation of the snapshot.Snapshotter
// interface.
type SnapshotterStub struct {
	snapshot.Snapshotter

	TakeTempSnapshotFunc        func(position int64) error
	MoveValidSnapshotFunc       func(position int64) error
	EnforceRetentionPolicyFunc  func() error
	ReplicateLatestSnapshotFunc func() error
	TakeSnapshotFunc            func(position int64) error
}

// TakeTempSnapshot writes a pending snapshot with the given lower bound
// position.
func (s *SnapshotterStub) TakeTempSnapshot(position int64) error {
	if s.TakeTempSnapshotFunc != nil {
		return s.TakeTempSnapshotFunc(position)
	}

	if s.Snapshotter != nil {
		return s.Snapshotter.TakeTempSnapshot(position)
	}

	return nil
}

// MoveValidSnapshot makes the pending snapshot with the given position valid.
func (s *SnapshotterStub) MoveValidSnapshot(position int64) error {
	if s.MoveValidSnapshotFunc != nil {
		return s.MoveValidSnapshotFunc(position)
	}

	if s.Snapshotter != nil {
		return s.Snapshotter.MoveValidSnapshot(position)
	}

	return nil
}

// EnforceRetentionPolicy deletes old snapshots.
func (s *SnapshotterStub) EnforceRetentionPolicy() error {
	if s.EnforceRetentionPolicyFunc != nil {
		return s.EnforceRetentionPolicyFunc()
	}

	if s.Snapshotter != nil {
		return s.Snapshotter.EnforceRetentionPolicy()
	}

	return nil
}

// ReplicateLatestSnapshot publishes the latest valid snapshot.
func (s *SnapshotterStub) ReplicateLatestSnapshot() error {
	if s.ReplicateLatestSnapshotFunc != nil {
		return s.ReplicateLatestSnapshotFunc()
	}

	if s.Snapshotter != nil {
		return s.Snapshotter.ReplicateLatestSnapshot()
	}

	return nil
}

// TakeSnapshot writes a valid snapshot with the given lower bound position.
func (s *SnapshotterStub) TakeSnapshot(position int64) error {
	if s.TakeSnapshotFunc != nil {
		return s.TakeSnapshotFunc(position)
	}

	if s.Snapshotter != nil {
		return s.Snapshotter.TakeSnapshot(position)
	}

	return nil
}

// PositionsStub is a test implementation of the snapshot.Positions
// interface.
type PositionsStub struct {
	snapshot.Positions

	LastProcessedPositionFunc func(ctx context.Context) (int64, error)
	LastWrittenPositionFunc   func(ctx context.Context) (int64, error)
}

// LastProcessedPosition returns the position of the last processed record.
func (s *PositionsStub) LastProcessedPosition(ctx context.Context) (int64, error) {
	if s.LastProcessedPositionFunc != nil {
		return s.LastProcessedPositionFunc(ctx)
	}

	if s.Positions != nil {
		return s.Positions.LastProcessedPosition(ctx)
	}

	return 0, nil
}

// LastWrittenPosition returns the position of the last written record.
func (s *PositionsStub) LastWrittenPosition(ctx context.Context) (int64, error) {
	if s.LastWrittenPositionFunc != nil {
		return s.LastWrittenPositionFunc(ctx)
	}

	if s.Positions != nil {
		return s.Positions.LastWrittenPosition(ctx)
	}

	return 0, nil
}
