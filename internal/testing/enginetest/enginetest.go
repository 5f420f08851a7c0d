// Package enginetest runs engines within Ginkgo tests.
package enginetest

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/conductor"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	clocktesting "k8s.io/utils/clock/testing"
)

// Epoch is the initial time of the clock used by engines started by Run().
var Epoch = time.UnixMilli(1_000_000)

// Engine is an engine running within a test.
type Engine struct {
	*conductor.Engine

	Client *conductor.Client
	Clock  *clocktesting.FakeClock
}

// Run starts an engine that keeps its logs in memory and uses a fake clock.
//
// The options are applied after the defaults. The engine is stopped when the
// current spec ends.
func Run(options ...conductor.EngineOption) *Engine {
	clock := clocktesting.NewFakeClock(Epoch)

	return RunWithClock(clock, options...)
}

// RunWithClock starts an engine that keeps its logs in memory and uses the
// given clock.
func RunWithClock(clock *clocktesting.FakeClock, options ...conductor.EngineOption) *Engine {
	e := conductor.New(
		append(
			[]conductor.EngineOption{
				conductor.WithMemoryStorage(),
				conductor.WithClock(clock),
				conductor.WithLogger(logging.DiscardLogger{}),
			},
			options...,
		)...,
	)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)

	go func() {
		result <- e.Run(ctx)
	}()

	DeferCleanup(func() {
		cancel()

		select {
		case err := <-result:
			Expect(err).To(MatchError(context.Canceled))
		case <-time.After(5 * time.Second):
			Fail("engine did not stop")
		}
	})

	return &Engine{
		Engine: e,
		Client: e.Client(),
		Clock:  clock,
	}
}

// Deploy deploys a single resource and waits until it has been distributed
// to every partition.
func (e *Engine) Deploy(ctx context.Context, name, content string) *protocol.DeploymentRecord {
	GinkgoHelper()

	key, rec, err := e.Client.Deploy(
		ctx,
		protocol.DeploymentResource{
			Name:    name,
			Content: []byte(content),
		},
	)
	Expect(err).ShouldNot(HaveOccurred())

	if e.Leads(protocol.DeploymentPartitionID) {
		err = e.WaitForDeployment(ctx, key)
		Expect(err).ShouldNot(HaveOccurred())
	}

	return rec
}

// Records returns the records in a partition's log, in order.
func (e *Engine) Records(ctx context.Context, partitionID int32) []*protocol.Record {
	GinkgoHelper()

	log, err := e.Log(ctx, partitionID)
	Expect(err).ShouldNot(HaveOccurred())

	last := log.LastPosition()
	if last == 0 {
		return nil
	}

	cur, err := log.Open(ctx, 0)
	Expect(err).ShouldNot(HaveOccurred())
	defer cur.Close()

	var records []*protocol.Record
	for {
		r, err := cur.Next(ctx)
		Expect(err).ShouldNot(HaveOccurred())

		records = append(records, r)

		if r.Position >= last {
			return records
		}
	}
}

// WaitFor blocks until a record that satisfies match is appended to a
// partition's log, and returns it.
//
// Records that are already in the log are considered.
func (e *Engine) WaitFor(
	ctx context.Context,
	partitionID int32,
	match func(*protocol.Record) bool,
) *protocol.Record {
	GinkgoHelper()

	log, err := e.Log(ctx, partitionID)
	Expect(err).ShouldNot(HaveOccurred())

	cur, err := log.Open(ctx, 0)
	Expect(err).ShouldNot(HaveOccurred())
	defer cur.Close()

	for {
		r, err := cur.Next(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			Fail("timed out waiting for a matching record")
		}
		Expect(err).ShouldNot(HaveOccurred())

		if match(r) {
			return r
		}
	}
}

// Advance moves the engine's clock forward, one second at a time, so that
// every periodic task gets a chance to run.
func (e *Engine) Advance(d time.Duration) {
	for d > 0 {
		step := time.Second
		if d < step {
			step = d
		}

		e.Clock.Step(step)
		d -= step

		// Give the tasks that became due a chance to run before the clock
		// moves again.
		time.Sleep(5 * time.Millisecond)
	}
}

// Is returns a predicate that matches records with the given type, value type
// and intent.
func Is(rt protocol.RecordType, vt protocol.ValueType, i protocol.Intent) func(*protocol.Record) bool {
	return func(r *protocol.Record) bool {
		return r.Is(rt, vt, i)
	}
}

// Element returns a predicate that matches WORKFLOW_INSTANCE events for the
// given element with the given intent.
func Element(elementID string, i protocol.Intent) func(*protocol.Record) bool {
	return func(r *protocol.Record) bool {
		if !r.Is(protocol.Event, protocol.WorkflowInstanceValue, i) {
			return false
		}

		v := r.Value.(*protocol.WorkflowInstanceRecord)
		return v.ElementID == elementID
	}
}

// ElementEvents returns the element IDs and intents of the WORKFLOW_INSTANCE
// events in records, formatted as "<element> <intent>".
func ElementEvents(records []*protocol.Record) []string {
	var events []string

	for _, r := range records {
		if r.RecordType != protocol.Event || r.ValueType != protocol.WorkflowInstanceValue {
			continue
		}

		v := r.Value.(*protocol.WorkflowInstanceRecord)
		events = append(events, v.ElementID+" "+r.IntentName())
	}

	return events
}
