package job_test

import (
	"context"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/internal/testing/enginetest"
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const process = `
processes:
  - id: order
    elements:
      - id: start
        type: startEvent
      - id: charge
        type: serviceTask
        jobType: payment
        retries: 2
        headers:
          currency: AUD
      - id: end
        type: endEvent
    flows:
      - { id: f1, source: start, target: charge }
      - { id: f2, source: charge, target: end }
`

var _ = Describe("job processing", func() {
	var (
		ctx    context.Context
		engine *enginetest.Engine
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		engine = enginetest.Run(
			conductor.WithJobTimeoutCheckInterval(time.Second),
		)

		engine.Deploy(ctx, "order.yaml", process)

		_, err := engine.Client.CreateInstance(
			ctx,
			conductor.CreateInstanceCommand{
				BpmnProcessID: "order",
				Variables:     map[string]any{"amount": 100},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.JobValue, protocol.JobCreated))
	})

	activate := func(timeout time.Duration) []conductor.ActivatedJob {
		GinkgoHelper()

		jobs, err := engine.Client.ActivateJobs(
			ctx,
			conductor.ActivateJobsCommand{
				Type:    "payment",
				Worker:  "<worker>",
				Timeout: timeout,
				MaxJobs: 10,
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		return jobs
	}

	Describe("activation", func() {
		It("activates the job with the task's definition and the instance's variables", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			j := jobs[0]
			Expect(j.Type).To(Equal("payment"))
			Expect(j.Worker).To(Equal("<worker>"))
			Expect(j.Retries).To(BeEquivalentTo(2))
			Expect(j.ElementID).To(Equal("charge"))
			Expect(j.CustomHeaders).To(HaveKeyWithValue("currency", "AUD"))
			Expect(j.Deadline).To(Equal(enginetest.Epoch.Add(time.Minute).UnixMilli()))

			vars, err := protocol.UnmarshalDocument(j.Variables)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(vars).To(HaveKeyWithValue("amount", BeNumerically("==", 100)))
		})

		It("does not activate a job that is already activated", func() {
			Expect(activate(time.Minute)).To(HaveLen(1))
			Expect(activate(time.Minute)).To(BeEmpty())
		})

		It("makes the job activatable again when its deadline passes", func() {
			Expect(activate(5 * time.Second)).To(HaveLen(1))

			engine.Advance(7 * time.Second)
			engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.JobValue, protocol.JobTimedOut))

			Expect(activate(time.Minute)).To(HaveLen(1))
		})

		It("rejects a request without a job type", func() {
			_, err := engine.Client.ActivateJobs(
				ctx,
				conductor.ActivateJobsCommand{
					Timeout: time.Minute,
					MaxJobs: 1,
				},
			)
			Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.InvalidArgument))
		})
	})

	Describe("completion", func() {
		It("completes the service task and merges the variables into the instance", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.CompleteJob(ctx, jobs[0].Key, map[string]any{"receipt": "R-1"})
			Expect(err).ShouldNot(HaveOccurred())

			engine.WaitFor(ctx, 1, enginetest.Element("order", protocol.ElementCompleted))

			r := engine.WaitFor(ctx, 1, func(r *protocol.Record) bool {
				return r.Is(protocol.Event, protocol.VariableValue, protocol.VariableCreated) &&
					r.Value.(*protocol.VariableRecord).Name == "receipt"
			})

			v, err := protocol.UnmarshalVariable(r.Value.(*protocol.VariableRecord).Value)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(v).To(Equal("R-1"))
		})

		It("rejects the completion of a job that is not activated", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.CompleteJob(ctx, jobs[0].Key, nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = engine.Client.CompleteJob(ctx, jobs[0].Key, nil)
			Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.NotFound))
		})
	})

	Describe("failure", func() {
		It("makes the job activatable again if it has retries left", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.FailJob(ctx, jobs[0].Key, 1, "<error>", 0)
			Expect(err).ShouldNot(HaveOccurred())

			jobs = activate(time.Minute)
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Retries).To(BeEquivalentTo(1))
		})

		It("waits for the retry backoff before activating the job again", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.FailJob(ctx, jobs[0].Key, 1, "<error>", 30*time.Second)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(activate(time.Minute)).To(BeEmpty())

			engine.Clock.Step(31 * time.Second)

			Expect(activate(time.Minute)).To(HaveLen(1))
		})

		It("raises an incident when no retries are left, which is resolved after the retries are updated", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.FailJob(ctx, jobs[0].Key, 0, "card declined", 0)
			Expect(err).ShouldNot(HaveOccurred())

			r := engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.IncidentValue, protocol.IncidentCreated))
			inc := r.Value.(*protocol.IncidentRecord)

			Expect(inc.ErrorType).To(Equal(protocol.JobNoRetries))
			Expect(inc.ErrorMessage).To(Equal("card declined"))
			Expect(inc.JobKey).To(Equal(jobs[0].Key))

			Expect(activate(time.Minute)).To(BeEmpty())

			err = engine.Client.ResolveIncident(ctx, r.Key)
			Expect(err).To(BeAssignableToTypeOf(conductor.CommandRejectedError{}))
			Expect(err.(conductor.CommandRejectedError).Type).To(Equal(protocol.InvalidState))

			err = engine.Client.UpdateJobRetries(ctx, jobs[0].Key, 3)
			Expect(err).ShouldNot(HaveOccurred())

			err = engine.Client.ResolveIncident(ctx, r.Key)
			Expect(err).ShouldNot(HaveOccurred())

			jobs = activate(time.Minute)
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Retries).To(BeEquivalentTo(3))
		})
	})

	Describe("thrown errors", func() {
		It("raises an incident for an uncaught error", func() {
			jobs := activate(time.Minute)
			Expect(jobs).To(HaveLen(1))

			err := engine.Client.ThrowError(ctx, jobs[0].Key, "E-42", "<message>")
			Expect(err).ShouldNot(HaveOccurred())

			r := engine.WaitFor(ctx, 1, enginetest.Is(protocol.Event, protocol.IncidentValue, protocol.IncidentCreated))
			inc := r.Value.(*protocol.IncidentRecord)

			Expect(inc.ErrorType).To(Equal(protocol.UnhandledErrorEvent))
			Expect(inc.ErrorMessage).To(ContainSubstring("E-42"))
		})
	})
})
