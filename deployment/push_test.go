package deployment_test

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor/cluster"
	"github.com/dogmatiq/conductor/codec"
	. "github.com/dogmatiq/conductor/deployment"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/logstream/memorylog"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"
)

var _ = Describe("func ServePush()", func() {
	var (
		ctx    context.Context
		member *cluster.Member
		log    *memorylog.Log
		clock  *clocktesting.FakeClock
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		hub := &cluster.Hub{}
		member = hub.Member("member-2")
		log = &memorylog.Log{Partition: 2}
		clock = clocktesting.NewFakeClock(time.UnixMilli(1_000_000))

		DeferCleanup(ServePush(
			member,
			func(id int32) (logstream.Log, bool) {
				return log, id == 2
			},
			clock,
		))
	})

	push := func(id int32) []byte {
		req, err := (&PushRequest{
			PartitionID:   id,
			DeploymentKey: deploymentKey,
			Deployment: &protocol.DeploymentRecord{
				Resources: []protocol.DeploymentResource{
					{Name: "process.yaml", Content: []byte("<content>")},
				},
			},
		}).MarshalBinary()
		Expect(err).ShouldNot(HaveOccurred())

		res, err := member.Request(ctx, "member-2", PushSubject, req)
		Expect(err).ShouldNot(HaveOccurred())

		return res
	}

	It("appends a DEPLOYMENT.CREATE command to the partition's log", func() {
		res := push(2)

		var ack PushResponse
		Expect(ack.TryWrap(res)).To(BeTrue())
		Expect(ack.UnmarshalBinary(res)).To(Succeed())
		Expect(ack).To(Equal(PushResponse{
			PartitionID:   2,
			DeploymentKey: deploymentKey,
		}))

		records := log.Records()
		Expect(records).To(HaveLen(1))

		cmd := records[0]
		Expect(cmd.String()).To(Equal("COMMAND DEPLOYMENT.CREATE"))
		Expect(cmd.Key).To(Equal(deploymentKey))
		Expect(cmd.Timestamp).To(Equal(clock.Now().UnixMilli()))
		Expect(cmd.Value.(*protocol.DeploymentRecord).Resources).To(HaveLen(1))
	})

	It("replies with an error if the partition is not led by the member", func() {
		res := push(3)

		var er codec.ErrorResponse
		Expect(er.TryWrap(res)).To(BeTrue())
		Expect(er.UnmarshalBinary(res)).To(Succeed())
		Expect(er.Code).To(Equal(codec.PartitionLeaderMismatch))
		Expect(log.Records()).To(BeEmpty())
	})

	It("replies with an error if the request is malformed", func() {
		res, err := member.Request(ctx, "member-2", PushSubject, []byte("<malformed>"))
		Expect(err).ShouldNot(HaveOccurred())

		var er codec.ErrorResponse
		Expect(er.UnmarshalBinary(res)).To(Succeed())
		Expect(er.Code).To(Equal(codec.MalformedRequest))
	})
})
