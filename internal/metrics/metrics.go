package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/route-beacon/wirecodec/internal/codec"
)

var (
	KafkaRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_kafka_records_total",
			Help: "Total records consumed from Kafka.",
		},
		[]string{"topic"},
	)

	MessagesDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_messages_decoded_total",
			Help: "Messages decoded by protocol and message type.",
		},
		[]string{"protocol", "type"},
	)

	ParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_parse_errors_total",
			Help: "Parse failures by stage.",
		},
		[]string{"stage", "reason"},
	)

	TLVsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_tlvs_skipped_total",
			Help: "Unknown TLVs and objects skipped during decoding.",
		},
		[]string{"format", "type"},
	)

	Registrations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wirecodec_registrations",
			Help: "Live registry registrations held by each activator.",
		},
		[]string{"activator"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wirecodec_db_write_duration_seconds",
			Help:    "DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_db_rows_affected_total",
			Help: "DB rows written or deleted.",
		},
		[]string{"table", "op"},
	)

	DedupConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wirecodec_dedup_conflicts_total",
			Help: "Dedup hits (ON CONFLICT DO NOTHING skips).",
		},
		[]string{"table"},
	)

	LastMsgTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wirecodec_last_msg_timestamp_seconds",
			Help: "Unix timestamp of last processed message.",
		},
		[]string{"router_id"},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wirecodec_batch_size",
			Help:    "Batch sizes flushed to DB.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000, 5000},
		},
	)

	PartitionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wirecodec_partitions_dropped_total",
			Help: "Daily partitions dropped by retention.",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry and counts
// skipped TLVs reported by the codecs. Calls after the first are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			KafkaRecordsTotal,
			MessagesDecodedTotal,
			ParseErrorsTotal,
			TLVsSkippedTotal,
			Registrations,
			DBWriteDuration,
			DBRowsAffectedTotal,
			DedupConflictsTotal,
			LastMsgTimestamp,
			BatchSize,
			PartitionsDroppedTotal,
		)
		codec.SetSkipObserver(ObserveSkipped)
	})
}

// ObserveSkipped counts one skipped TLV of the given format and type.
func ObserveSkipped(format string, typ uint16) {
	TLVsSkippedTotal.WithLabelValues(format, strconv.Itoa(int(typ))).Inc()
}
