package grpccluster_test

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dogmatiq/conductor/cluster"
	. "github.com/dogmatiq/conductor/cluster/grpccluster"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

var _ = Describe("type Transport", func() {
	var (
		ctx  context.Context
		a, b *Transport
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		listeners := map[string]*bufconn.Listener{
			"member-a": bufconn.Listen(1024 * 1024),
			"member-b": bufconn.Listen(1024 * 1024),
		}

		dialer := grpc.WithContextDialer(
			func(ctx context.Context, addr string) (net.Conn, error) {
				if lis, ok := listeners[addr]; ok {
					return lis.DialContext(ctx)
				}
				return nil, errors.New("no such listener")
			},
		)

		members := map[cluster.MemberID]string{
			"a": "member-a",
			"b": "member-b",
		}

		a = &Transport{
			Local:       "a",
			Members:     members,
			DialOptions: []grpc.DialOption{dialer},
			Logger:      logging.DiscardLogger{},
		}

		b = &Transport{
			Local:       "b",
			Members:     members,
			DialOptions: []grpc.DialOption{dialer},
			Logger:      logging.DiscardLogger{},
		}

		for addr, t := range map[string]*Transport{"member-a": a, "member-b": b} {
			s := grpc.NewServer()
			t.Register(s)

			lis := listeners[addr]
			go s.Serve(lis)

			DeferCleanup(s.Stop)
			DeferCleanup(t.Close)
		}
	})

	Describe("func Request()", func() {
		It("calls the handler registered by the recipient", func() {
			b.Handle("<subject>", func(_ context.Context, payload []byte) ([]byte, error) {
				return append(payload, '!'), nil
			})

			res, err := a.Request(ctx, "b", "<subject>", []byte("hello"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res).To(Equal([]byte("hello!")))
		})

		It("can send a request to the local member", func() {
			a.Handle("<subject>", func(context.Context, []byte) ([]byte, error) {
				return []byte("local"), nil
			})

			res, err := a.Request(ctx, "a", "<subject>", nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res).To(Equal([]byte("local")))
		})

		It("returns an error if the handler fails", func() {
			b.Handle("<subject>", func(context.Context, []byte) ([]byte, error) {
				return nil, errors.New("<error>")
			})

			_, err := a.Request(ctx, "b", "<subject>", nil)
			Expect(err).To(MatchError(ContainSubstring("<error>")))
		})

		It("returns ErrNoHandler if the recipient has no handler for the subject", func() {
			_, err := a.Request(ctx, "b", "<subject>", nil)
			Expect(err).To(Equal(cluster.ErrNoHandler))
		})

		It("returns an error if the recipient is not a member", func() {
			_, err := a.Request(ctx, "c", "<subject>", nil)
			Expect(err).To(Equal(cluster.UnknownMemberError{Member: "c"}))
		})
	})

	Describe("func Publish()", func() {
		It("delivers the message to the subscribers of every member", func() {
			received := make(chan string, 2)

			a.Subscribe("<topic>", func(p []byte) { received <- "a:" + string(p) })
			b.Subscribe("<topic>", func(p []byte) { received <- "b:" + string(p) })

			err := a.Publish(ctx, "<topic>", []byte("hello"))
			Expect(err).ShouldNot(HaveOccurred())

			var messages []string
			for i := 0; i < 2; i++ {
				var m string
				Eventually(received).Should(Receive(&m))
				messages = append(messages, m)
			}

			Expect(messages).To(ConsistOf("a:hello", "b:hello"))
		})

		It("does not deliver to removed subscriptions", func() {
			received := make(chan []byte, 1)

			cancel := b.Subscribe("<topic>", func(p []byte) { received <- p })
			cancel()

			err := a.Publish(ctx, "<topic>", []byte("hello"))
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(received, 100*time.Millisecond).ShouldNot(Receive())
		})
	})
})
