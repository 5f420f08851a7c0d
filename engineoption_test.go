package conductor

import (
	"time"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"
)

var _ = Describe("func WithNodeID()", func() {
	It("sets the node ID", func() {
		opts := resolveEngineOptions(
			WithNodeID("<node>"),
		)

		Expect(opts.NodeID).To(Equal(cluster.MemberID("<node>")))
	})

	It("generates a random ID if the option is omitted", func() {
		a := resolveEngineOptions()
		b := resolveEngineOptions()

		Expect(a.NodeID).NotTo(BeEmpty())
		Expect(a.NodeID).NotTo(Equal(b.NodeID))
	})
})

var _ = Describe("func WithPartitions()", func() {
	It("sets the partition count", func() {
		opts := resolveEngineOptions(
			WithPartitions(5),
		)

		Expect(opts.PartitionCount).To(BeEquivalentTo(5))
	})

	It("uses the default if the count is zero", func() {
		opts := resolveEngineOptions(
			WithPartitions(0),
		)

		Expect(opts.PartitionCount).To(Equal(DefaultPartitionCount))
	})

	It("panics if the count is negative", func() {
		Expect(func() {
			WithPartitions(-1)
		}).To(PanicWith("partition count must not be negative"))
	})
})

var _ = Describe("func WithDataDirectory()", func() {
	It("sets the data directory", func() {
		opts := resolveEngineOptions(
			WithDataDirectory("/tmp/data"),
		)

		Expect(opts.DataDirectory).To(Equal("/tmp/data"))
	})

	It("uses the default if the directory is empty", func() {
		opts := resolveEngineOptions(
			WithDataDirectory(""),
		)

		Expect(opts.DataDirectory).To(Equal(DefaultDataDirectory))
	})
})

var _ = Describe("func WithMemoryStorage()", func() {
	It("enables memory storage", func() {
		opts := resolveEngineOptions(
			WithMemoryStorage(),
		)

		Expect(opts.MemoryStorage).To(BeTrue())
	})

	It("does not enable memory storage if the option is omitted", func() {
		opts := resolveEngineOptions()

		Expect(opts.MemoryStorage).To(BeFalse())
	})
})

var _ = Describe("func WithHub()", func() {
	It("sets the hub and its members", func() {
		h := &cluster.Hub{}

		opts := resolveEngineOptions(
			WithNodeID("a"),
			WithHub(h, "a", "b"),
		)

		Expect(opts.Hub).To(BeIdenticalTo(h))
		Expect(opts.members()).To(ConsistOf(
			cluster.MemberID("a"),
			cluster.MemberID("b"),
		))
	})

	It("panics if networking is also enabled", func() {
		Expect(func() {
			resolveEngineOptions(
				WithHub(&cluster.Hub{}),
				WithNetworking(),
			)
		}).To(PanicWith("WithHub() and WithNetworking() are mutually exclusive"))
	})
})

var _ = Describe("func WithClock()", func() {
	It("sets the clock", func() {
		c := clocktesting.NewFakeClock(time.Now())

		opts := resolveEngineOptions(
			WithClock(c),
		)

		Expect(opts.Clock).To(BeIdenticalTo(c))
	})

	It("uses the system clock if the clock is nil", func() {
		opts := resolveEngineOptions(
			WithClock(nil),
		)

		Expect(opts.Clock).NotTo(BeNil())
	})
})

var _ = Describe("func WithBackoff()", func() {
	It("sets the backoff strategy", func() {
		p := backoff.Constant(10 * time.Second)

		opts := resolveEngineOptions(
			WithBackoff(p),
		)

		Expect(opts.Backoff(nil, 1)).To(Equal(10 * time.Second))
	})

	It("uses the default if the strategy is nil", func() {
		opts := resolveEngineOptions(
			WithBackoff(nil),
		)

		Expect(opts.Backoff).NotTo(BeNil())
	})
})

var _ = Describe("duration options", func() {
	DescribeTable(
		"it sets the duration",
		func(
			option func(time.Duration) EngineOption,
			field func(*engineOptions) time.Duration,
		) {
			opts := resolveEngineOptions(option(10 * time.Minute))
			Expect(field(opts)).To(Equal(10 * time.Minute))
		},
		Entry(
			"WithSnapshotPeriod()",
			WithSnapshotPeriod,
			func(o *engineOptions) time.Duration { return o.SnapshotPeriod },
		),
		Entry(
			"WithTimerCheckInterval()",
			WithTimerCheckInterval,
			func(o *engineOptions) time.Duration { return o.TimerCheckInterval },
		),
		Entry(
			"WithJobTimeoutCheckInterval()",
			WithJobTimeoutCheckInterval,
			func(o *engineOptions) time.Duration { return o.JobTimeoutCheckInterval },
		),
		Entry(
			"WithSubscriptionTimeout()",
			WithSubscriptionTimeout,
			func(o *engineOptions) time.Duration { return o.SubscriptionTimeout },
		),
	)

	DescribeTable(
		"it uses the default if the duration is zero",
		func(
			option func(time.Duration) EngineOption,
			field func(*engineOptions) time.Duration,
			def time.Duration,
		) {
			opts := resolveEngineOptions(option(0))
			Expect(field(opts)).To(Equal(def))
		},
		Entry(
			"WithSnapshotPeriod()",
			WithSnapshotPeriod,
			func(o *engineOptions) time.Duration { return o.SnapshotPeriod },
			DefaultSnapshotPeriod,
		),
		Entry(
			"WithTimerCheckInterval()",
			WithTimerCheckInterval,
			func(o *engineOptions) time.Duration { return o.TimerCheckInterval },
			DefaultTimerCheckInterval,
		),
		Entry(
			"WithJobTimeoutCheckInterval()",
			WithJobTimeoutCheckInterval,
			func(o *engineOptions) time.Duration { return o.JobTimeoutCheckInterval },
			DefaultJobTimeoutCheckInterval,
		),
		Entry(
			"WithSubscriptionTimeout()",
			WithSubscriptionTimeout,
			func(o *engineOptions) time.Duration { return o.SubscriptionTimeout },
			DefaultSubscriptionTimeout,
		),
	)

	DescribeTable(
		"it panics if the duration is negative",
		func(option func(time.Duration) EngineOption) {
			Expect(func() {
				option(-1)
			}).To(PanicWith("duration must not be negative"))
		},
		Entry("WithSnapshotPeriod()", WithSnapshotPeriod),
		Entry("WithTimerCheckInterval()", WithTimerCheckInterval),
		Entry("WithJobTimeoutCheckInterval()", WithJobTimeoutCheckInterval),
		Entry("WithSubscriptionTimeout()", WithSubscriptionTimeout),
	)
})

var _ = Describe("func WithMaxSnapshots()", func() {
	It("sets the number of snapshots to keep", func() {
		opts := resolveEngineOptions(
			WithMaxSnapshots(7),
		)

		Expect(opts.MaxSnapshots).To(Equal(7))
	})

	It("uses the default if the number is zero", func() {
		opts := resolveEngineOptions(
			WithMaxSnapshots(0),
		)

		Expect(opts.MaxSnapshots).To(Equal(DefaultMaxSnapshots))
	})

	It("panics if the number is negative", func() {
		Expect(func() {
			WithMaxSnapshots(-1)
		}).To(PanicWith("snapshot count must not be negative"))
	})
})

var _ = Describe("func WithLogger()", func() {
	It("sets the logger", func() {
		l := &logging.BufferedLogger{}

		opts := resolveEngineOptions(
			WithLogger(l),
		)

		Expect(opts.Logger).To(BeIdenticalTo(l))
	})

	It("uses the default if the logger is nil", func() {
		opts := resolveEngineOptions(
			WithLogger(nil),
		)

		Expect(opts.Logger).To(Equal(DefaultLogger))
	})
})
