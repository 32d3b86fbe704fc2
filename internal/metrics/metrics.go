// Package metrics exposes the transport's internal counters and gauges
// as Prometheus collectors, following the exporter-struct idiom used by
// the sockstats pack example (pkg/exporter): a small struct of
// prometheus.{Counter,Gauge}Vec fields registered against a private
// registry, served over /metrics by the host binary.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector groups every metric the transport emits. It is observability
// only — not the congestion-control functionality spec §1 excludes.
type Collector struct {
	Registry *prometheus.Registry

	ChunksSent       prometheus.Counter
	ChunksReceived   prometheus.Counter
	ReceiptsSent     prometheus.Counter
	ReceiptsReceived prometheus.Counter
	NacksSent        prometheus.Counter
	NacksReceived    prometheus.Counter
	NoLongerExists   prometheus.Counter
	ParseErrors      prometheus.Counter

	SendRetryExhausted    prometheus.Counter
	ReceiveRetryExhausted prometheus.Counter

	SentTableSize     prometheus.Gauge
	ReceivedTableSize prometheus.Gauge

	SentWaitQueueDepth          prometheus.Gauge
	SentCompletedQueueDepth     prometheus.Gauge
	ReceivedWaitQueueDepth      prometheus.Gauge
	ReceivedCompletedQueueDepth prometheus.Gauge
}

// New builds a Collector with all metrics registered against a fresh
// private registry (so multiple Transport instances in one process
// don't collide on metric names).
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}

	return &Collector{
		Registry: reg,

		ChunksSent:       counter("chunks_sent_total", "MessageChunk frames transmitted"),
		ChunksReceived:   counter("chunks_received_total", "MessageChunk frames received"),
		ReceiptsSent:     counter("receipts_sent_total", "MessageReceipt frames transmitted"),
		ReceiptsReceived: counter("receipts_received_total", "MessageReceipt frames received"),
		NacksSent:        counter("nacks_sent_total", "MessageChunksNeeded/MessageChunkRangesNeeded frames transmitted"),
		NacksReceived:    counter("nacks_received_total", "MessageChunksNeeded/MessageChunkRangesNeeded frames received"),
		NoLongerExists:   counter("no_longer_exists_total", "MessageNoLongerExists frames transmitted"),
		ParseErrors:      counter("parse_errors_total", "inbound datagrams dropped for a parse failure"),

		SendRetryExhausted:    counter("send_retry_exhausted_total", "SendingMessages abandoned after maxReceiptWaits"),
		ReceiveRetryExhausted: counter("receive_retry_exhausted_total", "ReceivingMessages abandoned after maxChunkWaits"),

		SentTableSize:     gauge("sent_table_size", "current size of the sent in-flight table"),
		ReceivedTableSize: gauge("received_table_size", "current size of the received in-flight table"),

		SentWaitQueueDepth:          gauge("sent_wait_queue_depth", "pending entries in the sent-waiting-for-receipt queue"),
		SentCompletedQueueDepth:     gauge("sent_completed_queue_depth", "pending entries in the sent-completed-cleanup queue"),
		ReceivedWaitQueueDepth:      gauge("received_wait_queue_depth", "pending entries in the received-waiting-for-chunks queue"),
		ReceivedCompletedQueueDepth: gauge("received_completed_queue_depth", "pending entries in the received-completed-cleanup queue"),
	}
}
