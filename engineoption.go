package conductor

import (
	"time"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/job"
	"github.com/dogmatiq/conductor/message"
	"github.com/dogmatiq/conductor/snapshot"
	"github.com/dogmatiq/conductor/workflow"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

var (
	// DefaultPartitionCount is the default number of partitions in the
	// cluster.
	//
	// It is overridden by the WithPartitions() option.
	DefaultPartitionCount int32 = 1

	// DefaultDataDirectory is the default directory in which the engine
	// stores its logs, state and snapshots.
	//
	// It is overridden by the WithDataDirectory() option.
	DefaultDataDirectory = "/var/lib/conductor"

	// DefaultBackoff is the default backoff strategy for retrying records that
	// could not be processed because of an infrastructure failure.
	//
	// It is overridden by the WithBackoff() option.
	DefaultBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Minute),
	)

	// DefaultSnapshotPeriod is the default interval at which each partition
	// attempts to take a snapshot of its state.
	//
	// It is overridden by the WithSnapshotPeriod() option.
	DefaultSnapshotPeriod = snapshot.DefaultRate

	// DefaultMaxSnapshots is the default number of valid snapshots kept for
	// each partition.
	//
	// It is overridden by the WithMaxSnapshots() option.
	DefaultMaxSnapshots = snapshot.DefaultMaxSnapshots

	// DefaultTimerCheckInterval is the default interval at which due timers
	// are triggered.
	//
	// It is overridden by the WithTimerCheckInterval() option.
	DefaultTimerCheckInterval = workflow.DefaultTimerCheckInterval

	// DefaultJobTimeoutCheckInterval is the default interval at which
	// activated jobs are checked for expired deadlines.
	//
	// It is overridden by the WithJobTimeoutCheckInterval() option.
	DefaultJobTimeoutCheckInterval = job.DefaultTimeoutCheckInterval

	// DefaultSubscriptionTimeout is the default time after which an
	// unacknowledged command sent to another partition on behalf of a
	// message subscription is sent again.
	//
	// It is overridden by the WithSubscriptionTimeout() option.
	DefaultSubscriptionTimeout = message.DefaultSubscriptionTimeout

	// DefaultLogger is the default target for log messages produced by the
	// engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithNodeID returns an engine option that sets the ID of the engine within
// the cluster.
//
// If this option is omitted or id is empty a random ID is generated.
func WithNodeID(id string) EngineOption {
	return func(opts *engineOptions) {
		opts.NodeID = cluster.MemberID(id)
	}
}

// WithPartitions returns an engine option that sets the number of partitions
// in the cluster.
//
// Every engine in the cluster must be configured with the same number of
// partitions. If this option is omitted or n is zero, DefaultPartitionCount
// is used.
func WithPartitions(n int32) EngineOption {
	if n < 0 {
		panic("partition count must not be negative")
	}

	return func(opts *engineOptions) {
		opts.PartitionCount = n
	}
}

// WithDataDirectory returns an engine option that sets the directory in which
// the engine stores its logs, state and snapshots.
//
// If this option is omitted or dir is empty, DefaultDataDirectory is used.
func WithDataDirectory(dir string) EngineOption {
	return func(opts *engineOptions) {
		opts.DataDirectory = dir
	}
}

// WithMemoryStorage returns an engine option that keeps the partition logs in
// memory.
//
// The partition state and snapshots are kept in a temporary directory that
// is removed when the engine stops. Nothing survives a restart.
func WithMemoryStorage() EngineOption {
	return func(opts *engineOptions) {
		opts.MemoryStorage = true
	}
}

// WithHub returns an engine option that connects the engine to other engines
// in the same process.
//
// members is the IDs of every engine in the cluster, including this one.
// Each engine must be configured with WithNodeID(). Partitions are assigned
// to the members in the order of their IDs.
func WithHub(h *cluster.Hub, members ...string) EngineOption {
	return func(opts *engineOptions) {
		opts.Hub = h
		opts.HubMembers = members
	}
}

// WithClock returns an engine option that sets the clock used to timestamp
// records and to schedule timers.
//
// If this option is omitted or c is nil, the system clock is used.
func WithClock(c clock.WithTickerAndDelayedExecution) EngineOption {
	return func(opts *engineOptions) {
		opts.Clock = c
	}
}

// WithBackoff returns an engine option that sets the backoff strategy used to
// delay the processing of a record after an infrastructure failure.
//
// If this option is omitted or s is nil DefaultBackoff is used.
func WithBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.Backoff = s
	}
}

// WithSnapshotPeriod returns an engine option that sets the interval at which
// each partition attempts to take a snapshot of its state.
//
// If this option is omitted or d is zero DefaultSnapshotPeriod is used.
func WithSnapshotPeriod(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.SnapshotPeriod = d
	}
}

// WithMaxSnapshots returns an engine option that sets the number of valid
// snapshots kept for each partition.
//
// If this option is omitted or n is zero DefaultMaxSnapshots is used.
func WithMaxSnapshots(n int) EngineOption {
	if n < 0 {
		panic("snapshot count must not be negative")
	}

	return func(opts *engineOptions) {
		opts.MaxSnapshots = n
	}
}

// WithTimerCheckInterval returns an engine option that sets the interval at
// which due timers are triggered.
//
// If this option is omitted or d is zero DefaultTimerCheckInterval is used.
func WithTimerCheckInterval(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.TimerCheckInterval = d
	}
}

// WithJobTimeoutCheckInterval returns an engine option that sets the interval
// at which activated jobs are checked for expired deadlines.
//
// If this option is omitted or d is zero DefaultJobTimeoutCheckInterval is
// used.
func WithJobTimeoutCheckInterval(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.JobTimeoutCheckInterval = d
	}
}

// WithSubscriptionTimeout returns an engine option that sets the time after
// which an unacknowledged command sent on behalf of a message subscription is
// sent again.
//
// If this option is omitted or d is zero DefaultSubscriptionTimeout is used.
func WithSubscriptionTimeout(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.SubscriptionTimeout = d
	}
}

// WithLogger returns an engine option that sets the target for log messages
// produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// engineOptions is a container for a fully-resolved set of engine options.
type engineOptions struct {
	NodeID                  cluster.MemberID
	PartitionCount          int32
	DataDirectory           string
	MemoryStorage           bool
	Hub                     *cluster.Hub
	HubMembers              []string
	Clock                   clock.WithTickerAndDelayedExecution
	Backoff                 backoff.Strategy
	SnapshotPeriod          time.Duration
	MaxSnapshots            int
	TimerCheckInterval      time.Duration
	JobTimeoutCheckInterval time.Duration
	SubscriptionTimeout     time.Duration
	Logger                  logging.Logger
	Network                 *networkOptions
}

// resolveEngineOptions returns a fully-populated set of engine options built
// from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if opts.NodeID == "" {
		opts.NodeID = cluster.MemberID(uuid.NewString())
	}

	if opts.PartitionCount == 0 {
		opts.PartitionCount = DefaultPartitionCount
	}

	if opts.DataDirectory == "" {
		opts.DataDirectory = DefaultDataDirectory
	}

	if opts.Hub != nil && opts.Network != nil {
		panic("WithHub() and WithNetworking() are mutually exclusive")
	}

	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}

	if opts.SnapshotPeriod == 0 {
		opts.SnapshotPeriod = DefaultSnapshotPeriod
	}

	if opts.MaxSnapshots == 0 {
		opts.MaxSnapshots = DefaultMaxSnapshots
	}

	if opts.TimerCheckInterval == 0 {
		opts.TimerCheckInterval = DefaultTimerCheckInterval
	}

	if opts.JobTimeoutCheckInterval == 0 {
		opts.JobTimeoutCheckInterval = DefaultJobTimeoutCheckInterval
	}

	if opts.SubscriptionTimeout == 0 {
		opts.SubscriptionTimeout = DefaultSubscriptionTimeout
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}

// members returns the IDs of every member of the cluster, including the local
// member.
func (opts *engineOptions) members() []cluster.MemberID {
	ids := []cluster.MemberID{opts.NodeID}

	add := func(id cluster.MemberID) {
		for _, x := range ids {
			if x == id {
				return
			}
		}
		ids = append(ids, id)
	}

	if opts.Network != nil {
		for id := range opts.Network.Members {
			add(cluster.MemberID(id))
		}
	}

	for _, id := range opts.HubMembers {
		add(cluster.MemberID(id))
	}

	return ids
}
