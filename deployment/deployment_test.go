package deployment_test

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/internal/testing/enginetest"
	. "github.com/dogmatiq/conductor/internal/x/gomegax"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const process = `
processes:
  - id: invoice
    elements:
      - id: start
        type: startEvent
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: end }
`

const revisedProcess = `
processes:
  - id: invoice
    elements:
      - id: start
        type: startEvent
      - id: finish
        type: endEvent
    flows:
      - { id: f1, source: start, target: finish }
`

var _ = Describe("deployment processing", func() {
	var (
		ctx    context.Context
		engine *enginetest.Engine
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		engine = enginetest.Run(conductor.WithPartitions(3))
	})

	It("assigns the first version to a new process", func() {
		rec := engine.Deploy(ctx, "invoice.yaml", process)

		Expect(rec.Workflows).To(HaveLen(1))
		Expect(rec.Workflows[0].BpmnProcessID).To(Equal("invoice"))
		Expect(rec.Workflows[0].Version).To(BeEquivalentTo(1))
		Expect(rec.Workflows[0].ResourceName).To(Equal("invoice.yaml"))
	})

	It("does not create a new version if the resource is unchanged", func() {
		first := engine.Deploy(ctx, "invoice.yaml", process)
		second := engine.Deploy(ctx, "invoice.yaml", process)

		Expect(second.Workflows).To(EqualRecord(first.Workflows))
	})

	It("creates a new version if the resource has changed", func() {
		first := engine.Deploy(ctx, "invoice.yaml", process)
		second := engine.Deploy(ctx, "invoice.yaml", revisedProcess)

		Expect(second.Workflows[0].Version).To(BeEquivalentTo(2))
		Expect(second.Workflows[0].WorkflowKey).NotTo(Equal(first.Workflows[0].WorkflowKey))
	})

	It("distributes the deployment to every partition", func() {
		rec := engine.Deploy(ctx, "invoice.yaml", process)

		for pid := int32(2); pid <= 3; pid++ {
			r := engine.WaitFor(
				ctx,
				pid,
				enginetest.Is(protocol.Event, protocol.DeploymentValue, protocol.DeploymentCreated),
			)

			Expect(r.Value.(*protocol.DeploymentRecord).Workflows).To(EqualRecord(rec.Workflows))

			_, err := engine.Client.CreateInstance(
				ctx,
				conductor.CreateInstanceCommand{
					BpmnProcessID: "invoice",
					PartitionID:   pid,
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			engine.WaitFor(ctx, pid, enginetest.Element("invoice", protocol.ElementCompleted))
		}
	})

	It("creates instances of a specific version", func() {
		engine.Deploy(ctx, "invoice.yaml", process)
		engine.Deploy(ctx, "invoice.yaml", revisedProcess)

		rec, err := engine.Client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: "invoice",
				Version:       1,
				PartitionID:   1,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(rec.Version).To(BeEquivalentTo(1))

		engine.WaitFor(ctx, 1, enginetest.Element("end", protocol.ElementCompleted))
	})

	It("rejects a deployment without resources", func() {
		_, _, err := engine.Client.Deploy(ctx)

		Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
		Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.InvalidArgument))
	})

	It("rejects a deployment with an invalid resource", func() {
		_, _, err := engine.Client.Deploy(
			ctx,
			protocol.DeploymentResource{
				Name:    "invalid.yaml",
				Content: []byte("processes: ["),
			},
		)

		Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
		Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.InvalidArgument))
		Expect(err).To(MatchError(ContainSubstring("invalid.yaml")))
	})
})
