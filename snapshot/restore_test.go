package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/fixtures"
	. "github.com/dogmatiq/conductor/snapshot"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type RestoreClient", func() {
	var (
		ctx      context.Context
		hub      *cluster.Hub
		leader   *Controller
		follower *Controller
		client   *RestoreClient
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		hub = &cluster.Hub{}

		var store *state.Store
		leader, store = newController()
		follower, _ = newController()

		err := store.Update(func(tx *state.Tx) {
			tx.SetPositions(25, 99)
		})
		Expect(err).ShouldNot(HaveOccurred())

		err = leader.TakeSnapshot(25)
		Expect(err).ShouldNot(HaveOccurred())

		s, _, err := leader.LatestSnapshot()
		Expect(err).ShouldNot(HaveOccurred())

		err = os.WriteFile(filepath.Join(s.Dir, "extra.bin"), []byte("<extra>"), 0600)
		Expect(err).ShouldNot(HaveOccurred())

		server := &RestoreServer{
			PartitionID:        1,
			Controller:         leader,
			MaxConcurrentReads: 1,
			Logger:             &logging.BufferedLogger{},
		}
		DeferCleanup(server.Serve(hub.Member("leader")))

		client = &RestoreClient{
			PartitionID: 1,
			Messaging:   hub.Member("follower"),
			Controller:  follower,
			Logger:      &logging.BufferedLogger{},
		}
	})

	Describe("func Restore()", func() {
		It("fetches every chunk of the latest snapshot", func() {
			res, err := client.Restore(ctx, "leader", "")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Snapshot.Position).To(BeEquivalentTo(25))
			Expect(res.LastProcessedPosition).To(BeEquivalentTo(25))
			Expect(res.LastWrittenPosition).To(BeEquivalentTo(99))

			chunks, err := res.Snapshot.Chunks()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(chunks).To(Equal([]string{"extra.bin", StateFileName}))

			content, err := os.ReadFile(filepath.Join(res.Snapshot.Dir, "extra.bin"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(content).To(Equal([]byte("<extra>")))

			Expect(follower.Exists(FormatID(25))).To(BeTrue())
		})

		It("does not fetch a snapshot that already exists locally", func() {
			_, err := client.Restore(ctx, "leader", FormatID(25))
			Expect(err).ShouldNot(HaveOccurred())

			client.Messaging = &fixtures.MessagingStub{
				RequestFunc: func(context.Context, cluster.MemberID, string, []byte) ([]byte, error) {
					return nil, errors.New("<unexpected request>")
				},
			}

			res, err := client.Restore(ctx, "leader", FormatID(25))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.Snapshot.Position).To(BeEquivalentTo(25))
		})

		It("returns an error if the snapshot does not exist", func() {
			_, err := client.Restore(ctx, "leader", FormatID(50))

			var invalid *InvalidRestoreResponse
			Expect(errors.As(err, &invalid)).To(BeTrue())
		})

		It("fails and cleans up if a chunk is corrupted", func() {
			client.Messaging = &fixtures.MessagingStub{
				Messaging: hub.Member("follower"),
				RequestFunc: func(
					ctx context.Context,
					to cluster.MemberID,
					subject string,
					payload []byte,
				) ([]byte, error) {
					res, err := hub.Member("follower").Request(ctx, to, subject, payload)
					if err != nil {
						return nil, err
					}

					var c Chunk
					Expect(c.UnmarshalBinary(res)).To(Succeed())

					if c.ChunkName == StateFileName {
						c.Content = append(c.Content, 0)
					}

					return c.MarshalBinary()
				},
			}

			_, err := client.Restore(ctx, "leader", "")
			Expect(err).To(MatchError(ErrChecksumMismatch))

			Expect(follower.Exists(FormatID(25))).To(BeFalse())

			entries, err := os.ReadDir(filepath.Join(follower.Dir, "pending"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})

var _ = Describe("type Receiver", func() {
	It("assembles replicated snapshots", func() {
		hub := &cluster.Hub{}

		leader, store := newController()
		follower, _ := newController()

		err := store.Update(func(tx *state.Tx) {
			tx.SetPositions(25, 99)
		})
		Expect(err).ShouldNot(HaveOccurred())

		leader.Replicator = &Replicator{
			PartitionID: 1,
			Events:      hub.Member("leader"),
		}

		receiver := &Receiver{
			PartitionID: 1,
			Events:      hub.Member("follower"),
			Controller:  follower,
			Logger:      &logging.BufferedLogger{},
		}
		DeferCleanup(receiver.Start())

		err = leader.TakeSnapshot(25)
		Expect(err).ShouldNot(HaveOccurred())

		err = leader.ReplicateLatestSnapshot()
		Expect(err).ShouldNot(HaveOccurred())

		Eventually(func() bool {
			return follower.Exists(FormatID(25))
		}).Should(BeTrue())

		s, _, err := follower.LatestSnapshot()
		Expect(err).ShouldNot(HaveOccurred())

		processed, written := positionsOf(s)
		Expect(processed).To(BeEquivalentTo(25))
		Expect(written).To(BeEquivalentTo(99))
	})
})
