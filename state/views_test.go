package state_test

import (
	"github.com/dogmatiq/conductor/protocol"
	. "github.com/dogmatiq/conductor/state"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const simpleProcess = `
processes:
  - id: simple
    elements:
      - { id: start, type: startEvent }
      - { id: end, type: endEvent }
    flows:
      - { id: f1, source: start, target: end }
`

var _ = Describe("type DeploymentState", func() {
	var store *Store

	BeforeEach(func() {
		store = openStore()
	})

	It("tracks the latest version of each process", func() {
		update(store, func(tx *Tx) {
			tx.Deployments().PutWorkflow(&Workflow{Key: 2, BpmnProcessID: "simple", Version: 2, Resource: []byte(simpleProcess)})
			tx.Deployments().PutWorkflow(&Workflow{Key: 1, BpmnProcessID: "simple", Version: 1, Resource: []byte(simpleProcess)})
		})

		view(store, func(tx *Tx) {
			w, ok := tx.Deployments().LatestWorkflow("simple")
			Expect(ok).To(BeTrue())
			Expect(w.Key).To(BeEquivalentTo(2))

			w, ok = tx.Deployments().WorkflowByVersion("simple", 1)
			Expect(ok).To(BeTrue())
			Expect(w.Key).To(BeEquivalentTo(1))

			_, ok = tx.Deployments().LatestWorkflow("unknown")
			Expect(ok).To(BeFalse())
		})
	})

	It("parses and caches the process model", func() {
		w := &Workflow{Key: 1, BpmnProcessID: "simple", Version: 1, Resource: []byte(simpleProcess)}

		view(store, func(tx *Tx) {
			p1, err := tx.Deployments().Process(w)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(p1.NoneStartEvent().ID).To(Equal("start"))

			p2, err := tx.Deployments().Process(w)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(p2).To(BeIdenticalTo(p1))
		})
	})

	It("records each distribution at most once", func() {
		update(store, func(tx *Tx) {
			Expect(tx.Deployments().MarkDistributed(10, 2)).To(BeTrue())
			Expect(tx.Deployments().MarkDistributed(10, 2)).To(BeFalse())
			Expect(tx.Deployments().MarkDistributed(10, 3)).To(BeTrue())
			Expect(tx.Deployments().DistributedTo(10)).To(Equal([]int32{2, 3}))
		})
	})

	It("stores pending deployments", func() {
		p := &PendingDeployment{
			Key:            10,
			SourcePosition: 5,
			Deployment:     []byte("<deployment>"),
			Remaining:      []int32{2, 3},
		}

		update(store, func(tx *Tx) {
			tx.Deployments().PutPending(p)
		})

		view(store, func(tx *Tx) {
			x, ok := tx.Deployments().Pending(10)
			Expect(ok).To(BeTrue())
			Expect(x).To(Equal(p))

			var visited []int64
			tx.Deployments().VisitPending(func(p *PendingDeployment) bool {
				visited = append(visited, p.Key)
				return true
			})
			Expect(visited).To(Equal([]int64{10}))
		})

		update(store, func(tx *Tx) {
			tx.Deployments().RemovePending(10)
			_, ok := tx.Deployments().Pending(10)
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("type ElementState", func() {
	var store *Store

	BeforeEach(func() {
		store = openStore()
	})

	It("indexes the children of a flow scope", func() {
		update(store, func(tx *Tx) {
			tx.Elements().Put(&ElementInstance{Key: 1, State: protocol.ElementActivated, ActiveTokens: 2})
			tx.Elements().Put(&ElementInstance{Key: 2, State: protocol.ElementActivating, Value: protocol.WorkflowInstanceRecord{FlowScopeKey: 1, ElementID: "a"}})
			tx.Elements().Put(&ElementInstance{Key: 3, State: protocol.ElementActivated, Value: protocol.WorkflowInstanceRecord{FlowScopeKey: 1, ElementID: "b"}})
		})

		update(store, func(tx *Tx) {
			children := tx.Elements().Children(1)
			Expect(children).To(HaveLen(2))
			Expect(children[0].Value.ElementID).To(Equal("a"))
			Expect(children[1].Value.ElementID).To(Equal("b"))

			tx.Elements().Remove(2)
			Expect(tx.Elements().Children(1)).To(HaveLen(1))

			parent, ok := tx.Elements().Get(1)
			Expect(ok).To(BeTrue())
			Expect(parent.ActiveTokens).To(BeEquivalentTo(2))
		})
	})

	It("counts tokens waiting at a join", func() {
		update(store, func(tx *Tx) {
			s := tx.Elements()
			s.AddJoinToken(1, "join", "f1")
			s.AddJoinToken(1, "join", "f1")
			s.AddJoinToken(1, "join", "f2")
			s.AddJoinToken(1, "other", "f3")

			Expect(s.JoinTokens(1, "join")).To(Equal(map[string]int{"f1": 2, "f2": 1}))

			s.ConsumeJoinTokens(1, "join", []string{"f1", "f2"})
			Expect(s.JoinTokens(1, "join")).To(Equal(map[string]int{"f1": 1}))
			Expect(s.JoinTokens(1, "other")).To(Equal(map[string]int{"f3": 1}))
		})
	})

	It("removes the trigger along with the instance", func() {
		update(store, func(tx *Tx) {
			tx.Elements().Put(&ElementInstance{Key: 1})
			tx.Elements().SetTrigger(1, &EventTrigger{ElementID: "boundary", EventKey: 7, Variables: []byte("<vars>")})

			t, ok := tx.Elements().Trigger(1)
			Expect(ok).To(BeTrue())
			Expect(t).To(Equal(&EventTrigger{ElementID: "boundary", EventKey: 7, Variables: []byte("<vars>")}))

			tx.Elements().Remove(1)
			_, ok = tx.Elements().Trigger(1)
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("type VariableState", func() {
	It("resolves variables from the nearest scope", func() {
		store := openStore()

		update(store, func(tx *Tx) {
			s := tx.Variables()
			s.SetParent(2, 1)
			s.Set(&Variable{Key: 10, Scope: 1, Name: "a", Value: mustMarshal("root")})
			s.Set(&Variable{Key: 11, Scope: 1, Name: "b", Value: mustMarshal("root")})
			s.Set(&Variable{Key: 12, Scope: 2, Name: "a", Value: mustMarshal("child")})
		})

		view(store, func(tx *Tx) {
			s := tx.Variables()

			v, ok := s.Lookup(2, "a")
			Expect(ok).To(BeTrue())
			Expect(v.Key).To(BeEquivalentTo(12))
			Expect(v.Scope).To(BeEquivalentTo(2))

			v, ok = s.Lookup(2, "b")
			Expect(ok).To(BeTrue())
			Expect(v.Scope).To(BeEquivalentTo(1))

			_, ok = s.Lookup(2, "c")
			Expect(ok).To(BeFalse())

			doc, err := s.Document(2)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(doc).To(Equal(map[string]any{"a": "child", "b": "root"}))
		})

		update(store, func(tx *Tx) {
			tx.Variables().RemoveScope(2)

			Expect(tx.Variables().Local(2)).To(BeEmpty())
			Expect(tx.Variables().Parent(2)).To(BeEquivalentTo(0))
		})
	})
})

var _ = Describe("type JobState", func() {
	var store *Store

	BeforeEach(func() {
		store = openStore()
	})

	It("indexes jobs by status", func() {
		update(store, func(tx *Tx) {
			tx.Jobs().Put(&Job{Key: 1, Status: JobActivatable, Record: protocol.JobRecord{Type: "a"}})
			tx.Jobs().Put(&Job{Key: 2, Status: JobActivatable, Record: protocol.JobRecord{Type: "b"}})
			tx.Jobs().Put(&Job{Key: 3, Status: JobActivatable, Record: protocol.JobRecord{Type: "a"}})
			tx.Jobs().Put(&Job{Key: 4, Status: JobActivated, Record: protocol.JobRecord{Type: "a", Deadline: 100}})
			tx.Jobs().Put(&Job{Key: 5, Status: JobFailed, RecurAt: 50, Record: protocol.JobRecord{Type: "a", Retries: 1}})
		})

		view(store, func(tx *Tx) {
			var activatable []int64
			tx.Jobs().VisitActivatable("a", func(j *Job) bool {
				activatable = append(activatable, j.Key)
				return true
			})
			Expect(activatable).To(Equal([]int64{1, 3}))

			var timedOut []int64
			tx.Jobs().VisitTimedOut(100, func(j *Job) bool {
				timedOut = append(timedOut, j.Key)
				return true
			})
			Expect(timedOut).To(BeEmpty())

			tx.Jobs().VisitTimedOut(101, func(j *Job) bool {
				timedOut = append(timedOut, j.Key)
				return true
			})
			Expect(timedOut).To(Equal([]int64{4}))

			var recurring []int64
			tx.Jobs().VisitRecurring(51, func(j *Job) bool {
				recurring = append(recurring, j.Key)
				return true
			})
			Expect(recurring).To(Equal([]int64{5}))
		})
	})

	It("updates the indexes when the status changes", func() {
		update(store, func(tx *Tx) {
			tx.Jobs().Put(&Job{Key: 1, Status: JobActivatable, Record: protocol.JobRecord{Type: "a"}})
			tx.Jobs().Put(&Job{Key: 1, Status: JobActivated, Record: protocol.JobRecord{Type: "a", Deadline: 10}})
		})

		view(store, func(tx *Tx) {
			tx.Jobs().VisitActivatable("a", func(j *Job) bool {
				Fail("unexpected activatable job")
				return true
			})

			j, ok := tx.Jobs().Get(1)
			Expect(ok).To(BeTrue())
			Expect(j.Status).To(Equal(JobActivated))
		})

		update(store, func(tx *Tx) {
			tx.Jobs().Remove(1)
			tx.Jobs().VisitTimedOut(1000, func(j *Job) bool {
				Fail("unexpected timed out job")
				return true
			})
		})
	})
})

var _ = Describe("type MessageState", func() {
	It("finds messages by name and correlation key", func() {
		store := openStore()

		update(store, func(tx *Tx) {
			tx.Messages().Put(1, &protocol.MessageRecord{Name: "m", CorrelationKey: "k", MessageID: "id-1", Deadline: 100})
			tx.Messages().Put(2, &protocol.MessageRecord{Name: "m", CorrelationKey: "k", Deadline: 50})
			tx.Messages().Put(3, &protocol.MessageRecord{Name: "m", CorrelationKey: "other", Deadline: 200})
			tx.Messages().MarkCorrelated(1, "wf")
		})

		update(store, func(tx *Tx) {
			s := tx.Messages()

			var found []int64
			s.Visit("m", "k", func(key int64, _ *protocol.MessageRecord) bool {
				found = append(found, key)
				return true
			})
			Expect(found).To(Equal([]int64{1, 2}))

			Expect(s.ExistsID("m", "id-1")).To(BeTrue())
			Expect(s.ExistsID("other", "id-1")).To(BeFalse())
			Expect(s.IsCorrelated(1, "wf")).To(BeTrue())

			var expired []int64
			s.VisitExpired(101, func(key int64) bool {
				expired = append(expired, key)
				return true
			})
			Expect(expired).To(Equal([]int64{2, 1}))

			s.Remove(1)
			Expect(s.ExistsID("m", "id-1")).To(BeFalse())
			Expect(s.IsCorrelated(1, "wf")).To(BeFalse())
		})
	})
})

var _ = Describe("type MessageSubscriptionState", func() {
	It("finds subscriptions by name and correlation key", func() {
		store := openStore()

		update(store, func(tx *Tx) {
			s := tx.MessageSubscriptions()
			s.Put(&MessageSubscription{Record: protocol.MessageSubscriptionRecord{ElementInstanceKey: 1, MessageName: "m", CorrelationKey: "k"}})
			s.Put(&MessageSubscription{Record: protocol.MessageSubscriptionRecord{ElementInstanceKey: 2, MessageName: "m", CorrelationKey: "k"}, Correlating: true, SentTime: 10})

			var found []int64
			s.Visit("m", "k", func(sub *MessageSubscription) bool {
				found = append(found, sub.Record.ElementInstanceKey)
				return true
			})
			Expect(found).To(Equal([]int64{1, 2}))

			var pending []int64
			s.VisitCorrelating(11, func(sub *MessageSubscription) bool {
				pending = append(pending, sub.Record.ElementInstanceKey)
				return true
			})
			Expect(pending).To(Equal([]int64{2}))

			s.Remove(1, "m")
			_, ok := s.Get(1, "m")
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("type WorkflowInstanceSubscriptionState", func() {
	It("finds the subscriptions of an element instance", func() {
		store := openStore()

		update(store, func(tx *Tx) {
			s := tx.WorkflowInstanceSubscriptions()
			s.Put(&WorkflowInstanceSubscription{Status: SubscriptionOpening, SentTime: 5, Record: protocol.WorkflowInstanceSubscriptionRecord{ElementInstanceKey: 1, MessageName: "a"}})
			s.Put(&WorkflowInstanceSubscription{Status: SubscriptionOpened, Record: protocol.WorkflowInstanceSubscriptionRecord{ElementInstanceKey: 1, MessageName: "b"}})
			s.Put(&WorkflowInstanceSubscription{Status: SubscriptionOpened, Record: protocol.WorkflowInstanceSubscriptionRecord{ElementInstanceKey: 2, MessageName: "a"}})

			Expect(s.ForElement(1)).To(HaveLen(2))

			var pending []string
			s.VisitPending(10, func(sub *WorkflowInstanceSubscription) bool {
				pending = append(pending, sub.Record.MessageName)
				return true
			})
			Expect(pending).To(Equal([]string{"a"}))
		})
	})
})

var _ = Describe("type IncidentState", func() {
	It("indexes incidents by element and job", func() {
		store := openStore()

		failed := &protocol.Record{
			Position:   7,
			RecordType: protocol.Event,
			ValueType:  protocol.WorkflowInstanceValue,
			Intent:     protocol.ElementActivated,
			Key:        1,
			Value:      &protocol.WorkflowInstanceRecord{ElementID: "gw"},
		}

		update(store, func(tx *Tx) {
			tx.Incidents().Put(&Incident{Key: 10, Record: protocol.IncidentRecord{ElementInstanceKey: 1}, FailedRecord: failed})
			tx.Incidents().Put(&Incident{Key: 11, Record: protocol.IncidentRecord{ElementInstanceKey: 2, JobKey: 3}})
		})

		update(store, func(tx *Tx) {
			s := tx.Incidents()

			k, ok := s.ForElement(1)
			Expect(ok).To(BeTrue())
			Expect(k).To(BeEquivalentTo(10))

			i, ok := s.Get(10)
			Expect(ok).To(BeTrue())
			Expect(i.FailedRecord.Position).To(BeEquivalentTo(7))
			Expect(i.FailedRecord.Value).To(Equal(failed.Value))

			k, ok = s.ForJob(3)
			Expect(ok).To(BeTrue())
			Expect(k).To(BeEquivalentTo(11))

			s.Remove(11)
			_, ok = s.ForJob(3)
			Expect(ok).To(BeFalse())
		})
	})
})

var _ = Describe("type TimerState", func() {
	It("visits timers in due date order", func() {
		store := openStore()

		update(store, func(tx *Tx) {
			tx.Timers().Put(1, &protocol.TimerRecord{ElementInstanceKey: 5, DueDate: 200})
			tx.Timers().Put(2, &protocol.TimerRecord{ElementInstanceKey: 5, DueDate: 100})
			tx.Timers().Put(3, &protocol.TimerRecord{ElementInstanceKey: -1, WorkflowKey: 9, DueDate: 300})
		})

		update(store, func(tx *Tx) {
			var due []int64
			tx.Timers().VisitDue(200, func(key int64, _ *protocol.TimerRecord) bool {
				due = append(due, key)
				return true
			})
			Expect(due).To(Equal([]int64{2, 1}))

			Expect(tx.Timers().ForElement(5)).To(Equal([]int64{1, 2}))
			Expect(tx.Timers().ForWorkflow(9)).To(Equal([]int64{3}))

			tx.Timers().Remove(1)
			Expect(tx.Timers().ForElement(5)).To(Equal([]int64{2}))
		})
	})
})

func mustMarshal(v any) []byte {
	data, err := protocol.MarshalVariable(v)
	Expect(err).ShouldNot(HaveOccurred())
	return data
}
