// Package logtest contains a suite of behavioral tests shared by every
// logstream.Log implementation.
package logtest

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Out is the output of the setup function passed to Declare().
type Out struct {
	// Log is the log under test.
	Log logstream.Log

	// Teardown, if non-nil, is called after each test.
	Teardown func()
}

// NewRecord returns a command record for use in log tests.
func NewRecord(key int64) *protocol.Record {
	return &protocol.Record{
		SourceRecordPosition: -1,
		Key:                  key,
		RecordType:           protocol.Command,
		ValueType:            protocol.MessageValue,
		Intent:               protocol.MessagePublish,
		Value: &protocol.MessageRecord{
			Name:           "<name>",
			CorrelationKey: "<key>",
		},
	}
}

// Declare declares generic behavioral tests for a specific log
// implementation.
func Declare(setup func(ctx context.Context) Out) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		out    Out
	)

	ginkgo.BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		out = setup(ctx)
	})

	ginkgo.AfterEach(func() {
		if out.Teardown != nil {
			out.Teardown()
		}

		cancel()
	})

	ginkgo.Describe("func Append()", func() {
		ginkgo.It("assigns contiguous positions starting at 1", func() {
			a, b := NewRecord(1), NewRecord(2)

			pos, err := out.Log.Append(ctx, a, b)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(pos).To(gomega.BeEquivalentTo(2))
			gomega.Expect(a.Position).To(gomega.BeEquivalentTo(1))
			gomega.Expect(b.Position).To(gomega.BeEquivalentTo(2))
			gomega.Expect(out.Log.LastPosition()).To(gomega.BeEquivalentTo(2))
		})

		ginkgo.It("continues from the last position", func() {
			_, err := out.Log.Append(ctx, NewRecord(1))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			pos, err := out.Log.Append(ctx, NewRecord(2))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(pos).To(gomega.BeEquivalentTo(2))
		})
	})

	ginkgo.Describe("func Open()", func() {
		ginkgo.It("reads records after the given position", func() {
			_, err := out.Log.Append(ctx, NewRecord(1), NewRecord(2), NewRecord(3))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			cur, err := out.Log.Open(ctx, 1)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			defer cur.Close()

			r, err := cur.Next(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(r.Position).To(gomega.BeEquivalentTo(2))
			gomega.Expect(r.Key).To(gomega.BeEquivalentTo(2))

			r, err = cur.Next(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(r.Position).To(gomega.BeEquivalentTo(3))
		})

		ginkgo.It("blocks until a record is appended", func() {
			cur, err := out.Log.Open(ctx, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			defer cur.Close()

			go func() {
				time.Sleep(20 * time.Millisecond)
				out.Log.Append(ctx, NewRecord(1))
			}()

			r, err := cur.Next(ctx)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(r.Position).To(gomega.BeEquivalentTo(1))
		})

		ginkgo.It("returns ErrCursorClosed if the cursor is closed while blocked", func() {
			cur, err := out.Log.Open(ctx, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			go func() {
				time.Sleep(20 * time.Millisecond)
				cur.Close()
			}()

			_, err = cur.Next(ctx)
			gomega.Expect(err).To(gomega.Equal(logstream.ErrCursorClosed))
		})

		ginkgo.It("returns an error if the context is canceled while blocked", func() {
			cur, err := out.Log.Open(ctx, 0)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			defer cur.Close()

			ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			_, err = cur.Next(ctx)
			gomega.Expect(err).To(gomega.Equal(context.DeadlineExceeded))
		})
	})

	ginkgo.Describe("func OnCommit()", func() {
		ginkgo.It("stops notifying after the registration is canceled", func() {
			var positions []int64
			stop := out.Log.OnCommit(func(p int64) {
				positions = append(positions, p)
			})

			_, err := out.Log.Append(ctx, NewRecord(1))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			stop()

			_, err = out.Log.Append(ctx, NewRecord(2))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			gomega.Expect(positions).To(gomega.Equal([]int64{1}))
		})
	})
}
