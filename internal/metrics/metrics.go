// Package metrics contains the Prometheus metrics exported by the engine.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	partition  = "partition"
	recordType = "record_type"
	valueType  = "value_type"
)

var (
	// ProcessedRecords is the number of records processed by a partition's
	// stream processor.
	ProcessedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_stream_processor_records_total",
		Help: "Number of records processed by the stream processor",
	}, []string{partition, recordType, valueType})

	// WrittenRecords is the number of follow-up records appended to a
	// partition's log by its stream processor.
	WrittenRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_stream_processor_written_records_total",
		Help: "Number of follow-up records written by the stream processor",
	}, []string{partition})

	// ProcessingRetries is the number of times a record was retried after an
	// infrastructure failure.
	ProcessingRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_stream_processor_retries_total",
		Help: "Number of times a record was retried after a failure",
	}, []string{partition})

	// ProcessingLatency is the time between a record being written and it
	// being processed.
	ProcessingLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_stream_processor_latency_seconds",
		Help:    "Time between a record being written and being processed",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 10, 60},
	}, []string{partition})

	// LastProcessedPosition is the position of the last record processed by
	// a partition's stream processor.
	LastProcessedPosition = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_stream_processor_last_processed_position",
		Help: "Position of the last processed record",
	}, []string{partition})

	// SnapshotsTaken is the number of snapshots that became valid.
	SnapshotsTaken = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_snapshots_total",
		Help: "Number of valid snapshots taken",
	}, []string{partition})

	// SnapshotPosition is the lower bound of the latest valid snapshot.
	SnapshotPosition = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_snapshot_position",
		Help: "Position of the latest valid snapshot",
	}, []string{partition})

	// PendingDeployments is the number of deployments that have not yet been
	// acknowledged by every partition.
	PendingDeployments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "conductor_pending_deployments",
		Help: "Number of deployments being distributed to other partitions",
	})
)

func init() {
	prometheus.MustRegister(
		ProcessedRecords,
		WrittenRecords,
		ProcessingRetries,
		ProcessingLatency,
		LastProcessedPosition,
		SnapshotsTaken,
		SnapshotPosition,
		PendingDeployments,
	)
}

// Reset clears all metrics.
func Reset() {
	ProcessedRecords.Reset()
	WrittenRecords.Reset()
	ProcessingRetries.Reset()
	ProcessingLatency.Reset()
	LastProcessedPosition.Reset()
	SnapshotsTaken.Reset()
	SnapshotPosition.Reset()
	PendingDeployments.Set(0)
}

// Partition returns the label value for a partition ID.
func Partition(id int32) string {
	return strconv.FormatInt(int64(id), 10)
}
