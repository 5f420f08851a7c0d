package workflow_test

import (
	"context"
	"slices"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/internal/testing/enginetest"
	"github.com/dogmatiq/conductor/keys"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const simpleProcess = `
processes:
  - id: simple
    elements:
      - id: start
        type: startEvent
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: end }
`

const parallelProcess = `
processes:
  - id: parallel
    elements:
      - id: start
        type: startEvent
      - id: fork
        type: parallelGateway
      - id: task-1
        type: serviceTask
        jobType: task-1
      - id: task-2
        type: serviceTask
        jobType: task-2
      - id: join
        type: parallelGateway
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: fork }
      - { id: f2, source: fork, target: task-1 }
      - { id: f3, source: fork, target: task-2 }
      - { id: f4, source: task-1, target: join }
      - { id: f5, source: task-2, target: join }
      - { id: f6, source: join, target: end }
`

const boundaryProcess = `
processes:
  - id: boundary
    elements:
      - id: start
        type: startEvent
      - id: task
        type: serviceTask
        jobType: work
      - id: reminder
        type: boundaryEvent
        attachedTo: task
        cancelActivity: false
        timer:
          duration: PT1M
      - id: end-1
        type: endEvent
      - id: end-2
        type: endEvent
    flows:
      - { id: f1, source: start, target: task }
      - { id: f2, source: task, target: end-1 }
      - { id: f3, source: reminder, target: end-2 }
`

const gatewayProcess = `
processes:
  - id: gateway
    elements:
      - id: start
        type: startEvent
      - id: check
        type: exclusiveGateway
        default: to-small
      - id: small
        type: endEvent
      - id: large
        type: endEvent
    flows:
      - { id: f1, source: start, target: check }
      - { id: to-small, source: check, target: small }
      - { id: to-large, source: check, target: large, condition: "total > 100" }
`

const strictGatewayProcess = `
processes:
  - id: strict
    elements:
      - id: start
        type: startEvent
      - id: check
        type: exclusiveGateway
      - id: large
        type: endEvent
    flows:
      - { id: f1, source: start, target: check }
      - { id: to-large, source: check, target: large, condition: "total > 100" }
`

const interruptingProcess = `
processes:
  - id: deadline
    elements:
      - id: start
        type: startEvent
      - id: task
        type: serviceTask
        jobType: work
      - id: expired
        type: boundaryEvent
        attachedTo: task
        timer:
          duration: PT1M
      - id: end-1
        type: endEvent
      - id: end-2
        type: endEvent
    flows:
      - { id: f1, source: start, target: task }
      - { id: f2, source: task, target: end-1 }
      - { id: f3, source: expired, target: end-2 }
`

const mappingProcess = `
processes:
  - id: mapping
    elements:
      - id: start
        type: startEvent
      - id: task
        type: serviceTask
        jobType: work
        inputs:
          - { source: customer.id, target: customerId }
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: task }
      - { id: f2, source: task, target: end }
`

const eventGatewayProcess = `
processes:
  - id: race
    elements:
      - id: start
        type: startEvent
      - id: gateway
        type: eventBasedGateway
      - id: reply
        type: intermediateCatchEvent
        message:
          name: reply
          correlationKey: key
      - id: timeout
        type: intermediateCatchEvent
        timer:
          duration: PT1M
      - id: replied
        type: endEvent
      - id: timed-out
        type: endEvent
    flows:
      - { id: f1, source: start, target: gateway }
      - { id: f2, source: gateway, target: reply }
      - { id: f3, source: gateway, target: timeout }
      - { id: f4, source: reply, target: replied }
      - { id: f5, source: timeout, target: timed-out }
`

var _ = Describe("workflow processing", func() {
	var (
		ctx    context.Context
		engine *enginetest.Engine
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		engine = enginetest.Run()
	})

	createInstance := func(id string, vars map[string]any) int64 {
		GinkgoHelper()

		rec, err := engine.Client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: id,
				Variables:     vars,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		return rec.WorkflowInstanceKey
	}

	completeJob := func(jobType string, vars map[string]any) {
		GinkgoHelper()

		engine.WaitFor(ctx, 1, func(r *protocol.Record) bool {
			if !r.Is(protocol.Event, protocol.JobValue, protocol.JobCreated) {
				return false
			}
			return r.Value.(*protocol.JobRecord).Type == jobType
		})

		jobs, err := engine.Client.ActivateJobs(
			ctx,
			conductor.ActivateJobsCommand{
				Type:    jobType,
				Worker:  "<worker>",
				Timeout: 5 * time.Minute,
				MaxJobs: 1,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(jobs).To(HaveLen(1))

		err = engine.Client.CompleteJob(ctx, jobs[0].Key, vars)
		Expect(err).ShouldNot(HaveOccurred())
	}

	incident := func() *protocol.IncidentRecord {
		GinkgoHelper()

		r := engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.IncidentValue, protocol.IncidentCreated))
		return r.Value.(*protocol.IncidentRecord)
	}

	When("the workflow is a simple sequence", func() {
		It("completes the end event before the process", func() {
			engine.Deploy(ctx, "simple.yaml", simpleProcess)
			createInstance("simple", nil)

			proc := engine.WaitFor(ctx, 1, enginetest.Element("simple", protocol.ElementCompleted))
			end := engine.WaitFor(ctx, 1, enginetest.Element("end", protocol.ElementCompleted))

			Expect(proc.Position).To(BeNumerically(">", end.Position))
		})

		It("writes the element lifecycle in order", func() {
			engine.Deploy(ctx, "simple.yaml", simpleProcess)
			createInstance("simple", nil)

			engine.WaitFor(ctx, 1, enginetest.Element("simple", protocol.ElementCompleted))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))

			expected := []string{
				"simple ELEMENT_ACTIVATING",
				"simple ELEMENT_ACTIVATED",
				"start ELEMENT_ACTIVATING",
				"start ELEMENT_ACTIVATED",
				"start ELEMENT_COMPLETING",
				"start ELEMENT_COMPLETED",
				"f1 SEQUENCE_FLOW_TAKEN",
				"end ELEMENT_ACTIVATING",
				"end ELEMENT_ACTIVATED",
				"end ELEMENT_COMPLETING",
				"end ELEMENT_COMPLETED",
				"simple ELEMENT_COMPLETING",
				"simple ELEMENT_COMPLETED",
			}

			prev := -1
			for _, e := range expected {
				i := slices.Index(events, e)
				Expect(i).To(BeNumerically(">", prev), "%s is out of order in %v", e, events)
				prev = i
			}
		})
	})

	When("the workflow has a parallel split and join", func() {
		It("completes the process exactly once after both branches complete", func() {
			engine.Deploy(ctx, "parallel.yaml", parallelProcess)
			createInstance("parallel", nil)

			completeJob("task-1", nil)
			engine.WaitFor(ctx, 1, enginetest.Element("task-1", protocol.ElementCompleted))

			records := engine.Records(ctx, 1)
			Expect(enginetest.ElementEvents(records)).NotTo(ContainElement("end ELEMENT_COMPLETED"))

			completeJob("task-2", nil)
			engine.WaitFor(ctx, 1, enginetest.Element("parallel", protocol.ElementCompleted))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))

			Expect(count(events, "end ELEMENT_COMPLETED")).To(Equal(1))
			Expect(count(events, "parallel ELEMENT_COMPLETED")).To(Equal(1))
			Expect(count(events, "join ELEMENT_ACTIVATING")).To(Equal(1))
		})
	})

	When("the workflow has an exclusive gateway", func() {
		It("takes the flow whose condition is satisfied", func() {
			engine.Deploy(ctx, "gateway.yaml", gatewayProcess)
			createInstance("gateway", map[string]any{"total": 150})

			engine.WaitFor(ctx, 1, enginetest.Element("gateway", protocol.ElementCompleted))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).To(ContainElement("large ELEMENT_COMPLETED"))
			Expect(events).NotTo(ContainElement("small ELEMENT_ACTIVATING"))
		})

		It("takes the default flow if no condition is satisfied", func() {
			engine.Deploy(ctx, "gateway.yaml", gatewayProcess)
			createInstance("gateway", map[string]any{"total": 50})

			engine.WaitFor(ctx, 1, enginetest.Element("gateway", protocol.ElementCompleted))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).To(ContainElement("small ELEMENT_COMPLETED"))
			Expect(events).NotTo(ContainElement("large ELEMENT_ACTIVATING"))
		})
	})

	When("no flow of an exclusive gateway can be taken", func() {
		It("raises an incident on the gateway", func() {
			engine.Deploy(ctx, "strict.yaml", strictGatewayProcess)
			createInstance("strict", map[string]any{"total": 5})

			inc := incident()
			Expect(inc.ErrorType).To(Equal(protocol.NoOutgoingFlowChosen))
			Expect(inc.ElementID).To(Equal("check"))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).NotTo(ContainElement("large ELEMENT_ACTIVATING"))
			Expect(events).NotTo(ContainElement("strict ELEMENT_COMPLETED"))
		})
	})

	When("an input mapping refers to a missing variable", func() {
		It("raises an incident and does not activate the element", func() {
			engine.Deploy(ctx, "mapping.yaml", mappingProcess)
			createInstance("mapping", nil)

			inc := incident()
			Expect(inc.ErrorType).To(Equal(protocol.IOMappingError))
			Expect(inc.ElementID).To(Equal("task"))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).To(ContainElement("task ELEMENT_ACTIVATING"))
			Expect(events).NotTo(ContainElement("task ELEMENT_ACTIVATED"))
		})
	})

	When("a service task has an interrupting timer boundary event", func() {
		It("terminates the task and takes the boundary event's flow", func() {
			engine.Deploy(ctx, "deadline.yaml", interruptingProcess)
			createInstance("deadline", nil)

			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.JobValue, protocol.JobCreated))
			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.TimerValue, protocol.TimerCreated))
			engine.Advance(61 * time.Second)

			engine.WaitFor(ctx, 1, enginetest.Element("deadline", protocol.ElementCompleted))
			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.JobValue, protocol.JobCanceled))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(events).To(ContainElement("task ELEMENT_TERMINATED"))
			Expect(events).NotTo(ContainElement("task ELEMENT_COMPLETED"))
			Expect(events).NotTo(ContainElement("end-1 ELEMENT_ACTIVATING"))
			Expect(count(events, "end-2 ELEMENT_COMPLETED")).To(Equal(1))
			Expect(count(events, "deadline ELEMENT_COMPLETED")).To(Equal(1))
		})
	})

	When("the workflow has an event-based gateway", func() {
		It("takes the flow of the first event and closes the other subscriptions", func() {
			engine.Deploy(ctx, "race.yaml", eventGatewayProcess)
			createInstance("race", map[string]any{"key": "k"})

			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionOpened))
			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.TimerValue, protocol.TimerCreated))
			engine.Advance(61 * time.Second)

			engine.WaitFor(ctx, 1, enginetest.Element("race", protocol.ElementCompleted))
			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.WorkflowInstanceSubscriptionValue, protocol.SubscriptionClosed))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))
			Expect(count(events, "timed-out ELEMENT_COMPLETED")).To(Equal(1))
			Expect(events).NotTo(ContainElement("reply ELEMENT_ACTIVATING"))
			Expect(events).NotTo(ContainElement("replied ELEMENT_ACTIVATING"))

			_, err := engine.Client.PublishMessage(
				ctx,
				conductor.PublishMessageCommand{Name: "reply", CorrelationKey: "k"},
			)
			Expect(err).ShouldNot(HaveOccurred())

			Consistently(func() []string {
				return enginetest.ElementEvents(engine.Records(ctx, 1))
			}, 100*time.Millisecond).ShouldNot(ContainElement("replied ELEMENT_ACTIVATING"))
		})
	})

	When("a service task has a non-interrupting timer boundary event", func() {
		It("completes both branches and the process exactly once", func() {
			engine.Deploy(ctx, "boundary.yaml", boundaryProcess)
			createInstance("boundary", nil)

			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.TimerValue, protocol.TimerCreated))
			engine.Advance(61 * time.Second)

			engine.WaitFor(ctx, 1, enginetest.Element("end-2", protocol.ElementCompleted))

			completeJob("work", nil)

			engine.WaitFor(ctx, 1, enginetest.Element("boundary", protocol.ElementCompleted))

			events := enginetest.ElementEvents(engine.Records(ctx, 1))

			Expect(count(events, "end-1 ELEMENT_COMPLETED")).To(Equal(1))
			Expect(count(events, "end-2 ELEMENT_COMPLETED")).To(Equal(1))
			Expect(count(events, "boundary ELEMENT_COMPLETED")).To(Equal(1))
		})
	})

	When("an instance is canceled", func() {
		It("terminates the instance and cancels its jobs", func() {
			engine.Deploy(ctx, "parallel.yaml", parallelProcess)
			key := createInstance("parallel", nil)

			for _, t := range []string{"task-1", "task-2"} {
				engine.WaitFor(ctx, 1, func(r *protocol.Record) bool {
					return r.Is(protocol.Event, protocol.JobValue, protocol.JobCreated) &&
						r.Value.(*protocol.JobRecord).Type == t
				})
			}

			err := engine.Client.CancelInstance(ctx, key)
			Expect(err).ShouldNot(HaveOccurred())

			engine.WaitFor(ctx, 1, enginetest.Element("parallel", protocol.ElementTerminated))

			Eventually(func() int {
				var canceled int
				for _, r := range engine.Records(ctx, 1) {
					if r.Is(protocol.Event, protocol.JobValue, protocol.JobCanceled) {
						canceled++
					}
				}
				return canceled
			}).Should(Equal(2))
		})

		It("rejects the cancellation of an unknown instance", func() {
			engine.Deploy(ctx, "simple.yaml", simpleProcess)

			err := engine.Client.CancelInstance(ctx, keys.Encode(1, 12345))

			var rejected conductor.CommandRejectedError
			Expect(err).To(BeAssignableToTypeOf(rejected))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.NotFound))
		})
	})

	When("an instance is created for an unknown process", func() {
		It("rejects the command", func() {
			_, err := engine.Client.CreateInstance(
				ctx,
				conductor.CreateInstanceCommand{BpmnProcessID: "<unknown>"},
			)

			Expect(err).To(MatchError(ContainSubstring("NOT_FOUND")))
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
