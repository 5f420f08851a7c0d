package protocol_test

import (
	"github.com/dogmatiq/conductor/codec"
	. "github.com/dogmatiq/conductor/protocol"
	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Record", func() {
	DescribeTable(
		"it survives a round-trip through its binary representation",
		func(v Value) {
			in := &Record{
				Position:             42,
				SourceRecordPosition: 40,
				Key:                  1234,
				Timestamp:            1571000000000,
				PartitionID:          3,
				RecordType:           Command,
				ValueType:            v.ValueType(),
				Intent:               2,
				RejectionType:        NotFound,
				RejectionReason:      "<reason>",
				RequestID:            7,
				RequestStreamID:      9,
				Value:                v,
			}

			data, err := in.MarshalBinary()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(in.TryWrap(data)).To(BeTrue())

			out, err := UnmarshalRecord(data)
			Expect(err).ShouldNot(HaveOccurred())

			if diff := cmp.Diff(in, out); diff != "" {
				Fail(diff)
			}
		},
		Entry("deployment", &DeploymentRecord{
			Resources: []DeploymentResource{{Name: "<name>", Content: []byte("<content>")}},
			Workflows: []DeployedWorkflow{{BpmnProcessID: "<id>", Version: 2, WorkflowKey: 10, ResourceName: "<name>"}},
		}),
		Entry("workflow instance", &WorkflowInstanceRecord{
			BpmnProcessID:       "<id>",
			Version:             1,
			WorkflowKey:         10,
			WorkflowInstanceKey: 11,
			ElementID:           "<element>",
			FlowScopeKey:        11,
			BpmnElementType:     ServiceTaskElement,
		}),
		Entry("job", &JobRecord{
			Type:               "<type>",
			Worker:             "<worker>",
			Retries:            3,
			Deadline:           1000,
			CustomHeaders:      map[string]string{"a": "1", "b": "2"},
			Variables:          MustMarshalDocument(map[string]any{"x": "y"}),
			ElementInstanceKey: 12,
		}),
		Entry("job batch", &JobBatchRecord{
			Type:              "<type>",
			MaxJobsToActivate: 10,
			JobKeys:           []int64{1, 2},
			Jobs:              []JobRecord{{Type: "<type>", Retries: 1}, {Type: "<type>", Retries: 2}},
		}),
		Entry("message", &MessageRecord{Name: "<name>", CorrelationKey: "<key>", MessageID: "<id>", TimeToLive: 100}),
		Entry("message subscription", &MessageSubscriptionRecord{MessageName: "<name>", CorrelationKey: "<key>", CloseOnCorrelate: true}),
		Entry("workflow instance subscription", &WorkflowInstanceSubscriptionRecord{MessageName: "<name>", CatchElementID: "<element>"}),
		Entry("message start event subscription", &MessageStartEventSubscriptionRecord{WorkflowKey: 1, MessageName: "<name>"}),
		Entry("variable", &VariableRecord{Name: "<name>", Value: []byte("<value>"), ScopeKey: 1}),
		Entry("variable document", &VariableDocumentRecord{ScopeKey: 1, UpdateSemantics: Local}),
		Entry("incident", &IncidentRecord{ErrorType: IOMappingError, ErrorMessage: "<message>", JobKey: -1}),
		Entry("timer", &TimerRecord{ElementInstanceKey: 1, DueDate: 1000, TargetElementID: "<element>"}),
		Entry("deployment distribution", &DeploymentDistributionRecord{PartitionID: 2}),
		Entry("workflow instance creation", &WorkflowInstanceCreationRecord{BpmnProcessID: "<id>", Version: -1}),
	)

	Describe("func MarshalBinary()", func() {
		It("returns an error if the value does not match the value type", func() {
			r := &Record{ValueType: JobValue, Value: &MessageRecord{}}
			_, err := r.MarshalBinary()
			Expect(err).To(MatchError("can not marshal JOB record with a MESSAGE value"))
		})
	})

	Describe("func UnmarshalBinary()", func() {
		It("returns an error if the data is not a record", func() {
			data, err := codec.Errorf(codec.InternalError, "<error>").MarshalBinary()
			Expect(err).ShouldNot(HaveOccurred())

			_, err = UnmarshalRecord(data)
			Expect(err).To(MatchError(codec.ErrSchemaMismatch))
		})
	})

	Describe("func String()", func() {
		It("includes the record type, value type and intent", func() {
			r := &Record{
				RecordType: Event,
				ValueType:  WorkflowInstanceValue,
				Intent:     ElementCompleted,
			}
			Expect(r.String()).To(Equal("EVENT WORKFLOW_INSTANCE.ELEMENT_COMPLETED"))
		})
	})
})

var _ = Describe("func MarshalDocument()", func() {
	It("produces identical bytes for identical documents", func() {
		doc := map[string]any{"a": 1.0, "b": "two", "c": map[string]any{"d": true}}

		a, err := MarshalDocument(doc)
		Expect(err).ShouldNot(HaveOccurred())

		b, err := MarshalDocument(doc)
		Expect(err).ShouldNot(HaveOccurred())

		Expect(a).To(Equal(b))

		out, err := UnmarshalDocument(a)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(out).To(Equal(doc))
	})

	It("returns nil for an empty document", func() {
		b, err := MarshalDocument(nil)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(b).To(BeNil())
	})
})
