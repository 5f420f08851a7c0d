package snapshot_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dogmatiq/conductor/fixtures"
	"github.com/dogmatiq/conductor/logstream/memorylog"
	. "github.com/dogmatiq/conductor/snapshot"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"
)

var _ = Describe("type Director", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		clock     *clocktesting.FakeClock
		log       *memorylog.Log
		positions *fixtures.PositionsStub
		snapshots *fixtures.SnapshotterStub
		director  *Director
		result    chan error

		m     sync.Mutex
		calls []string
	)

	record := func(f string, v ...any) {
		m.Lock()
		defer m.Unlock()
		calls = append(calls, fmt.Sprintf(f, v...))
	}

	recorded := func() []string {
		m.Lock()
		defer m.Unlock()
		return append([]string(nil), calls...)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		calls = nil
		clock = clocktesting.NewFakeClock(time.Now())
		log = &memorylog.Log{Partition: 1, ManualCommit: true}

		positions = &fixtures.PositionsStub{
			LastProcessedPositionFunc: func(context.Context) (int64, error) {
				return 25, nil
			},
			LastWrittenPositionFunc: func(context.Context) (int64, error) {
				return 99, nil
			},
		}

		snapshots = &fixtures.SnapshotterStub{
			TakeTempSnapshotFunc: func(p int64) error {
				record("temp %d", p)
				return nil
			},
			MoveValidSnapshotFunc: func(p int64) error {
				record("valid %d", p)
				return nil
			},
			EnforceRetentionPolicyFunc: func() error {
				record("retention")
				return nil
			},
			ReplicateLatestSnapshotFunc: func() error {
				record("replicate")
				return nil
			},
			TakeSnapshotFunc: func(p int64) error {
				record("snapshot %d", p)
				return nil
			},
		}

		director = &Director{
			Processor: positions,
			Snapshots: snapshots,
			Log:       log,
			Rate:      time.Minute,
			Clock:     clock,
			Logger:    &logging.BufferedLogger{},
		}

		result = make(chan error, 1)
	})

	start := func() {
		ctx, cancel, d, res := ctx, cancel, director, result
		done := make(chan struct{})

		go func() {
			defer close(done)
			res <- d.Run(ctx)
		}()

		DeferCleanup(func() {
			cancel()
			Eventually(done).Should(BeClosed())
		})

		Eventually(clock.HasWaiters).Should(BeTrue())
	}

	tick := func() {
		clock.Step(time.Minute)
	}

	Describe("func Run()", func() {
		It("makes the snapshot valid only once the last written position is committed", func() {
			start()
			tick()

			Eventually(recorded).Should(Equal([]string{"temp 25"}))

			log.Commit(98)
			Consistently(recorded, 100*time.Millisecond).Should(Equal([]string{"temp 25"}))

			log.Commit(99)
			Eventually(recorded).Should(Equal([]string{
				"temp 25",
				"valid 25",
				"retention",
				"replicate",
			}))
		})

		It("makes the snapshot valid immediately if the last written position is already committed", func() {
			log.Commit(100)

			start()
			tick()

			Eventually(recorded).Should(Equal([]string{
				"temp 25",
				"valid 25",
				"retention",
				"replicate",
			}))
		})

		It("does not take another snapshot if the processor has not made progress", func() {
			log.Commit(99)

			start()
			tick()

			Eventually(recorded).Should(HaveLen(4))

			tick()
			Consistently(recorded, 100*time.Millisecond).Should(HaveLen(4))
		})

		It("does not take a snapshot while another is pending", func() {
			start()
			tick()

			Eventually(recorded).Should(HaveLen(1))

			positions.LastProcessedPositionFunc = func(context.Context) (int64, error) {
				return 30, nil
			}

			tick()
			Consistently(recorded, 100*time.Millisecond).Should(HaveLen(1))
		})

		It("retries on the next tick if the snapshot can not be made valid", func() {
			fail := true
			snapshots.MoveValidSnapshotFunc = func(p int64) error {
				record("valid %d", p)
				if fail {
					fail = false
					return fmt.Errorf("<error>")
				}
				return nil
			}

			log.Commit(99)

			start()
			tick()

			Eventually(recorded).Should(Equal([]string{"temp 25", "valid 25"}))

			tick()

			Eventually(recorded).Should(Equal([]string{
				"temp 25",
				"valid 25",
				"temp 25",
				"valid 25",
				"retention",
				"replicate",
			}))
		})

		It("does not take a snapshot if the processor has not processed beyond the last valid snapshot", func() {
			director.LastValidPosition = 25

			start()
			tick()

			Consistently(recorded, 100*time.Millisecond).Should(BeEmpty())
		})

		It("takes a final snapshot when it stops", func() {
			log.Commit(99)
			director.LastValidPosition = 10

			start()
			cancel()

			Eventually(result).Should(Receive(Equal(context.Canceled)))
			Expect(recorded()).To(Equal([]string{"snapshot 25"}))
		})

		It("does not take a final snapshot if the written records are not committed", func() {
			log.Commit(98)
			director.LastValidPosition = 10

			start()
			cancel()

			Eventually(result).Should(Receive(Equal(context.Canceled)))
			Expect(recorded()).To(BeEmpty())
		})
	})
})
