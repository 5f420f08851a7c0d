package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/conductor/internal/actor"
	"github.com/dogmatiq/conductor/internal/expr"
	"github.com/dogmatiq/conductor/internal/metrics"
	"github.com/dogmatiq/conductor/internal/rlog"
	"github.com/dogmatiq/conductor/logstream"
	"github.com/dogmatiq/conductor/protocol"
	"github.com/dogmatiq/conductor/state"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// StreamProcessor is the single writer of a partition's state.
//
// It reads records from the log in order, dispatches each record to the
// processor registered for its value type and intent, and atomically commits
// the resulting state changes along with the position of the record. The
// records staged by the processor are appended to the log before the state is
// committed.
type StreamProcessor struct {
	// PartitionID is the ID of the partition.
	PartitionID int32

	// PartitionCount is the number of partitions in the cluster.
	PartitionCount int32

	// Log is the partition's log.
	Log logstream.Log

	// Store is the partition's state.
	Store *state.Store

	// Registry contains the processors used to process records.
	Registry *Registry

	// Tasks are run periodically while the processor is running.
	Tasks []Task

	// Responses is the target for responses to client requests. If it is nil
	// responses are discarded.
	Responses ResponseWriter

	// Clock is used to timestamp written records and to schedule tasks. If it
	// is nil, clock.RealClock is used.
	Clock clock.WithTickerAndDelayedExecution

	// BackoffStrategy controls how long to wait before retrying a record
	// after an infrastructure failure. If it is nil, backoff.DefaultStrategy
	// is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages from the processor.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	actor         actor.Actor
	eval          *expr.Evaluator
	lastProcessed int64
	lastWritten   int64

	// replayUntil is the highest position whose follow-up records are
	// already in the log. Records up to this position are processed without
	// appending their follow-up records.
	replayUntil   int64
	replayWritten map[int64]int64
}

// Run processes records until ctx is canceled or an error occurs.
func (p *StreamProcessor) Run(ctx context.Context) error {
	p.actor.Clock = p.clock()
	p.eval = expr.NewEvaluator()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.actor.Run(ctx)
	})

	g.Go(func() error {
		return p.consume(ctx)
	})

	return g.Wait()
}

// LastProcessedPosition returns the position of the last record that was
// processed and committed.
func (p *StreamProcessor) LastProcessedPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := p.actor.Call(ctx, func() {
		pos = p.lastProcessed
	})
	return pos, err
}

// LastWrittenPosition returns the position of the last record that was
// appended to the log by the processor.
func (p *StreamProcessor) LastWrittenPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := p.actor.Call(ctx, func() {
		pos = p.lastWritten
	})
	return pos, err
}

// Call executes fn on the processor's goroutine, between the processing of
// two records.
func (p *StreamProcessor) Call(ctx context.Context, fn func()) error {
	return p.actor.Call(ctx, fn)
}

func (p *StreamProcessor) consume(ctx context.Context) error {
	if err := p.recover(ctx); err != nil {
		return fmt.Errorf("unable to recover partition %d: %w", p.PartitionID, err)
	}

	cur, err := p.Log.Open(ctx, p.lastProcessed)
	if err != nil {
		return err
	}
	defer cur.Close()

	for _, t := range p.Tasks {
		t := t // capture loop variable

		interval := t.Interval
		if interval <= 0 {
			interval = DefaultTaskInterval
		}

		stop := p.actor.RunAtFixedRate(interval, func() {
			p.runTask(ctx, t)
		})
		defer stop()
	}

	for {
		rec, err := cur.Next(ctx)
		if err != nil {
			return err
		}

		var perr error
		if err := p.actor.Call(ctx, func() {
			perr = p.process(ctx, rec)
		}); err != nil {
			return err
		}

		if perr != nil {
			return perr
		}
	}
}

// recover loads the positions from the state and scans the log for records
// that were processed but whose state changes were not committed.
func (p *StreamProcessor) recover(ctx context.Context) error {
	if err := p.Store.View(func(tx *state.Tx) {
		p.lastProcessed = tx.LastProcessedPosition()
		p.lastWritten = tx.LastWrittenPosition()
	}); err != nil {
		return err
	}

	p.replayUntil = -1
	p.replayWritten = map[int64]int64{}

	last := p.Log.LastPosition()
	if last <= 0 || last <= p.lastProcessed {
		return nil
	}

	cur, err := p.Log.Open(ctx, p.lastProcessed)
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		rec, err := cur.Next(ctx)
		if err != nil {
			return err
		}

		if src := rec.SourceRecordPosition; src > p.lastProcessed {
			if src > p.replayUntil {
				p.replayUntil = src
			}
			if rec.Position > p.replayWritten[src] {
				p.replayWritten[src] = rec.Position
			}
		}

		if rec.Position >= last {
			break
		}
	}

	if p.replayUntil > 0 {
		rlog.LogSystem(
			p.logger(),
			"partition %d: rebuilding state up to position %d",
			p.PartitionID,
			p.replayUntil,
		)
	}

	return nil
}

// process processes a single record, retrying after infrastructure failures
// until it succeeds or ctx is canceled.
func (p *StreamProcessor) process(ctx context.Context, rec *protocol.Record) error {
	for n := uint(0); ; n++ {
		err := p.tryProcess(ctx, rec)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := p.backoff()(err, n)
		rlog.LogRetry(p.logger(), rec, err, delay)
		metrics.ProcessingRetries.WithLabelValues(metrics.Partition(p.PartitionID)).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock().After(delay):
		}
	}
}

func (p *StreamProcessor) tryProcess(ctx context.Context, rec *protocol.Record) error {
	replay := rec.Position <= p.replayUntil
	rlog.LogProcess(p.logger(), rec, replay)

	tx, pc, err := p.apply(rec)
	if err != nil {
		return err
	}

	written := p.lastWritten

	if replay {
		if pos, ok := p.replayWritten[rec.Position]; ok && pos > written {
			written = pos
		}
	} else if len(pc.written) > 0 {
		now := p.clock().Now().UnixMilli()
		for _, r := range pc.written {
			r.Timestamp = now
		}

		pos, err := p.Log.Append(ctx, pc.written...)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("unable to append follow-up records: %w", err)
		}

		written = pos

		for _, r := range pc.written {
			rlog.LogWrite(p.logger(), r)
		}
	}

	err = tx.Run(func() error {
		tx.SetPositions(rec.Position, written)
		return nil
	})
	if err == nil {
		err = tx.Commit()
	} else {
		tx.Rollback()
	}

	if err != nil {
		if !replay && len(pc.written) > 0 {
			// The follow-up records are already in the log. Process the
			// record again without appending them a second time.
			p.replayUntil = rec.Position
			p.replayWritten[rec.Position] = written
		}
		return fmt.Errorf("unable to commit state: %w", err)
	}

	p.lastProcessed = rec.Position
	p.lastWritten = written
	delete(p.replayWritten, rec.Position)

	p.observe(rec, len(pc.written), replay)

	if !replay {
		p.afterCommit(ctx, pc.response, pc.sideEffects)
	}

	return nil
}

// observe updates the metrics after rec has been committed.
func (p *StreamProcessor) observe(rec *protocol.Record, written int, replay bool) {
	partition := metrics.Partition(p.PartitionID)

	metrics.ProcessedRecords.
		WithLabelValues(partition, rec.RecordType.String(), rec.ValueType.String()).
		Inc()
	metrics.LastProcessedPosition.
		WithLabelValues(partition).
		Set(float64(rec.Position))

	if replay {
		return
	}

	metrics.WrittenRecords.
		WithLabelValues(partition).
		Add(float64(written))

	if lag := p.clock().Now().UnixMilli() - rec.Timestamp; lag >= 0 {
		metrics.ProcessingLatency.
			WithLabelValues(partition).
			Observe(float64(lag) / 1000)
	}
}

// apply dispatches rec to its processor within a new transaction.
//
// If the processor fails, its changes are discarded and an incident is
// raised instead. The returned error is non-nil only if the state could not
// be accessed, in which case the transaction has already been rolled back.
func (p *StreamProcessor) apply(rec *protocol.Record) (*state.Tx, *Context, error) {
	tx, err := p.Store.Begin()
	if err != nil {
		return nil, nil, err
	}

	pc := p.newContext(tx, rec)

	proc, ok := p.Registry.Lookup(rec)
	if !ok {
		return tx, pc, nil
	}

	var perr error
	if err := tx.Run(func() error {
		perr = proc.Process(pc)
		return nil
	}); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	if perr == nil {
		return tx, pc, nil
	}

	rlog.LogFailure(p.logger(), rec, perr)

	// Discard the failed attempt.
	tx.Rollback()

	tx, err = p.Store.Begin()
	if err != nil {
		return nil, nil, err
	}

	pc = p.newContext(tx, rec)

	if err := tx.Run(func() error {
		var failed *protocol.Record
		if rec.RecordType == protocol.Event &&
			rec.ValueType == protocol.WorkflowInstanceValue {
			failed = rec
		}

		pc.RaiseIncident(incidentFor(rec, perr), failed)

		if rec.RecordType == protocol.Command {
			pc.WriteRejection(protocol.ProcessingError, perr.Error())
		}

		return nil
	}); err != nil {
		tx.Rollback()
		return nil, nil, err
	}

	return tx, pc, nil
}

func (p *StreamProcessor) newContext(tx *state.Tx, rec *protocol.Record) *Context {
	return &Context{
		Record:         rec,
		State:          tx,
		PartitionID:    p.PartitionID,
		PartitionCount: p.PartitionCount,
		Expr:           p.eval,
		Logger:         p.logger(),
		registry:       p.Registry,
	}
}

func (p *StreamProcessor) afterCommit(
	ctx context.Context,
	res *protocol.Record,
	effects []SideEffect,
) {
	if res != nil && p.Responses != nil {
		p.Responses.WriteResponse(res)
	}

	for _, fn := range effects {
		if err := fn(ctx); err != nil {
			logging.Log(
				p.logger(),
				"partition %d: side-effect failed: %s",
				p.PartitionID,
				err,
			)
		}
	}
}

func (p *StreamProcessor) runTask(ctx context.Context, t Task) {
	tc := &TaskContext{
		PartitionID:    p.PartitionID,
		PartitionCount: p.PartitionCount,
		Logger:         p.logger(),
		now:            p.clock().Now(),
	}

	var terr error
	err := p.Store.View(func(tx *state.Tx) {
		tc.State = tx
		terr = t.Run(tc)
	})
	if err == nil {
		err = terr
	}

	if err == nil && len(tc.written) > 0 {
		now := tc.now.UnixMilli()
		for _, r := range tc.written {
			r.Timestamp = now
		}

		_, err = p.Log.Append(ctx, tc.written...)
	}

	if err != nil {
		logging.Log(
			p.logger(),
			"partition %d: %s task failed: %s",
			p.PartitionID,
			t.Name,
			err,
		)
		return
	}

	p.afterCommit(ctx, nil, tc.sideEffects)
}

func (p *StreamProcessor) clock() clock.WithTickerAndDelayedExecution {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.RealClock{}
}

func (p *StreamProcessor) backoff() backoff.Strategy {
	if p.BackoffStrategy != nil {
		return p.BackoffStrategy
	}
	return backoff.DefaultStrategy
}

func (p *StreamProcessor) logger() logging.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logging.DefaultLogger
}

// DefaultTaskInterval is the interval used by tasks that do not specify one.
const DefaultTaskInterval = time.Second
