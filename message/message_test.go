package message_test

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/internal/testing/enginetest"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const catchProcess = `
processes:
  - id: shipping
    elements:
      - id: start
        type: startEvent
      - id: wait
        type: intermediateCatchEvent
        message:
          name: msg
          correlationKey: key
        outputs:
          - { source: foo, target: msg }
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: wait }
      - { id: f2, source: wait, target: end }
`

const startProcess = `
processes:
  - id: fulfilment
    elements:
      - id: start
        type: startEvent
        message:
          name: order-placed
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: end }
`

var _ = Describe("message correlation", func() {
	var (
		ctx    context.Context
		engine *enginetest.Engine
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)
	})

	createInstance := func(pid int32, key string) int64 {
		GinkgoHelper()

		rec, err := engine.Client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: "shipping",
				Variables:     map[string]any{"key": key},
				PartitionID:   pid,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		return rec.WorkflowInstanceKey
	}

	publish := func(key string, ttl time.Duration) {
		GinkgoHelper()

		_, err := engine.Client.PublishMessage(
			ctx,
			conductor.PublishMessageCommand{
				Name:           "msg",
				CorrelationKey: key,
				TimeToLive:     ttl,
				Variables:      map[string]any{"foo": "bar"},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
	}

	subscriptionOpened := func(pid int32) {
		GinkgoHelper()

		engine.WaitFor(
			ctx,
			pid,
			enginetest.Is(
				protocol.Event,
				protocol.WorkflowInstanceSubscriptionValue,
				protocol.SubscriptionOpened,
			),
		)
	}

	expectVariable := func(pid int32, instanceKey int64) {
		GinkgoHelper()

		r := engine.WaitFor(ctx, pid, func(r *protocol.Record) bool {
			if !r.Is(protocol.Event, protocol.VariableValue, protocol.VariableCreated) {
				return false
			}
			return r.Value.(*protocol.VariableRecord).Name == "msg"
		})

		v := r.Value.(*protocol.VariableRecord)
		Expect(v.ScopeKey).To(Equal(instanceKey))

		x, err := protocol.UnmarshalVariable(v.Value)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(x).To(Equal("bar"))

		engine.WaitFor(ctx, pid, enginetest.Element("shipping", protocol.ElementCompleted))
	}

	When("there is a single partition", func() {
		BeforeEach(func() {
			engine = enginetest.Run()
			engine.Deploy(ctx, "shipping.yaml", catchProcess)
		})

		It("correlates a message to an open subscription and applies the output mappings", func() {
			key := createInstance(1, "key")
			subscriptionOpened(1)

			publish("key", 0)

			expectVariable(1, key)
		})

		It("correlates a buffered message to a subscription that is opened later", func() {
			publish("key", time.Minute)

			key := createInstance(1, "key")

			expectVariable(1, key)
		})

		It("does not buffer a message without a time-to-live", func() {
			publish("key", 0)

			createInstance(1, "key")
			subscriptionOpened(1)

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).NotTo(ContainElement("wait ELEMENT_COMPLETED"))
		})

		It("correlates a message to each matching subscription once", func() {
			createInstance(1, "key")
			createInstance(1, "key")
			createInstance(1, "other")

			Eventually(func() int {
				n := 0
				for _, r := range engine.Records(ctx, 1) {
					if r.Is(protocol.Event, protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionOpened) {
						n++
					}
				}
				return n
			}).Should(Equal(3))

			publish("key", 0)

			Eventually(func() int {
				n := 0
				for _, r := range engine.Records(ctx, 1) {
					if r.Is(protocol.Event, protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionCorrelated) {
						n++
					}
				}
				return n
			}).Should(Equal(2))

			Consistently(func() []string {
				return enginetest.ElementEvents(engine.Records(ctx, 1))
			}, 100*time.Millisecond).Should(
				WithTransform(
					func(events []string) int { return count(events, "shipping ELEMENT_COMPLETED") },
					Equal(2),
				),
			)
		})

		It("rejects a message with the same ID as a buffered message", func() {
			cmd := conductor.PublishMessageCommand{
				Name:           "msg",
				CorrelationKey: "key",
				MessageID:      "<id>",
				TimeToLive:     time.Minute,
			}

			_, err := engine.Client.PublishMessage(ctx, cmd)
			Expect(err).ShouldNot(HaveOccurred())

			_, err = engine.Client.PublishMessage(ctx, cmd)
			Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.AlreadyExists))
		})

		It("deletes a buffered message when its time-to-live elapses", func() {
			publish("key", 10*time.Second)

			engine.Advance(11 * time.Second)

			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.MessageValue, protocol.MessageDeleted))

			createInstance(1, "key")
			subscriptionOpened(1)

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).NotTo(ContainElement("wait ELEMENT_COMPLETED"))
		})

		It("rejects a message without a name", func() {
			_, err := engine.Client.PublishMessage(
				ctx,
				conductor.PublishMessageCommand{CorrelationKey: "key"},
			)
			Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.InvalidArgument))
		})
	})

	When("the message's home partition is not the instance's partition", func() {
		var correlationKey string

		BeforeEach(func() {
			engine = enginetest.Run(conductor.WithPartitions(3))
			engine.Deploy(ctx, "shipping.yaml", catchProcess)

			for i := 0; ; i++ {
				correlationKey = fmt.Sprintf("key-%d", i)
				if protocol.MessagePartitionID(correlationKey, 3) != 1 {
					break
				}
			}
		})

		It("correlates the message across partitions", func() {
			key := createInstance(1, correlationKey)
			subscriptionOpened(1)

			publish(correlationKey, 0)

			expectVariable(1, key)
		})

		It("correlates a buffered message across partitions", func() {
			publish(correlationKey, time.Minute)

			key := createInstance(1, correlationKey)

			expectVariable(1, key)
		})
	})

	When("a workflow has a message start event", func() {
		BeforeEach(func() {
			engine = enginetest.Run()
			engine.Deploy(ctx, "fulfilment.yaml", startProcess)
		})

		It("creates an instance for each published message", func() {
			for i := 0; i < 2; i++ {
				_, err := engine.Client.PublishMessage(
					ctx,
					conductor.PublishMessageCommand{
						Name:           "order-placed",
						CorrelationKey: fmt.Sprintf("order-%d", i),
					},
				)
				Expect(err).ShouldNot(HaveOccurred())
			}

			Eventually(func() int {
				return count(
					enginetest.ElementEvents(engine.Records(ctx, 1)),
					"fulfilment ELEMENT_COMPLETED",
				)
			}).Should(Equal(2))
		})
	})
})

func count(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}
