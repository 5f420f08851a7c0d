package conductor_test

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/codec"
	"github.com/dogmatiq/conductor/internal/testing/enginetest"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const process = `
processes:
  - id: approval
    elements:
      - id: start
        type: startEvent
      - id: review
        type: serviceTask
        jobType: review
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: review }
      - { id: f2, source: review, target: end }
`

var _ = Describe("func RegisterCommandAPI()", func() {
	var (
		ctx      context.Context
		engine   *enginetest.Engine
		listener net.Listener
		gserver  *grpc.Server
		conn     *grpc.ClientConn
		client   *conductor.Client
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		engine = enginetest.Run(conductor.WithPartitions(2))

		var err error
		listener, err = net.Listen("tcp", ":")
		Expect(err).ShouldNot(HaveOccurred())

		gserver = grpc.NewServer()
		conductor.RegisterCommandAPI(gserver, engine.Engine)

		go gserver.Serve(listener)

		conn, err = grpc.Dial(
			listener.Addr().String(),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		Expect(err).ShouldNot(HaveOccurred())

		client = conductor.NewRemoteClient(conn)
	})

	AfterEach(func() {
		if conn != nil {
			conn.Close()
		}

		if gserver != nil {
			gserver.Stop()
		}

		if listener != nil {
			listener.Close()
		}
	})

	It("executes commands on the engine", func() {
		key, rec, err := client.Deploy(
			ctx,
			protocol.DeploymentResource{
				Name:    "approval.yaml",
				Content: []byte(process),
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(rec.Workflows).To(HaveLen(1))

		err = engine.WaitForDeployment(ctx, key)
		Expect(err).ShouldNot(HaveOccurred())

		inst, err := client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: "approval",
				PartitionID:   2,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		engine.WaitFor(ctx, 2, enginetest.Is(protocol.Event, protocol.JobValue, protocol.JobCreated))

		jobs, err := client.ActivateJobs(
			ctx,
			conductor.ActivateJobsCommand{
				Type:    "review",
				Worker:  "<worker>",
				Timeout: time.Minute,
				MaxJobs: 5,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].WorkflowInstanceKey).To(Equal(inst.WorkflowInstanceKey))

		err = client.CompleteJob(ctx, jobs[0].Key, nil)
		Expect(err).ShouldNot(HaveOccurred())

		engine.WaitFor(ctx, 2, enginetest.Element("approval", protocol.ElementCompleted))
	})

	It("returns rejections as errors", func() {
		_, err := client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{BpmnProcessID: "<unknown>"},
		)

		var rejected conductor.CommandRejectedError
		Expect(errors.As(err, &rejected)).To(BeTrue())
		Expect(rejected.Type).To(Equal(protocol.NotFound))
	})

	It("returns an error response if the partition does not exist", func() {
		_, err := client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: "approval",
				PartitionID:   3,
			},
		)

		var er *codec.ErrorResponse
		Expect(errors.As(err, &er)).To(BeTrue())
		Expect(er.Code).To(Equal(codec.PartitionLeaderMismatch))
	})

	It("replies with an error response if the request is malformed", func() {
		out := &wrapperspb.BytesValue{}
		err := conn.Invoke(
			ctx,
			"/conductor.CommandAPI/Execute",
			wrapperspb.Bytes([]byte("<garbage>")),
			out,
		)
		Expect(err).ShouldNot(HaveOccurred())

		var er codec.ErrorResponse
		Expect(er.UnmarshalBinary(out.GetValue())).To(Succeed())
		Expect(er.Code).To(Equal(codec.MalformedRequest))
	})
})
