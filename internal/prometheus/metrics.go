package prometheus

import "github.com/prometheus/client_golang/prometheus"

const (
	dispatchBucketStart  = 0.5
	dispatchBucketFactor = 2.0
	dispatchBucketCount  = 10
)

const (
	fetchBucketStart  = 0.25
	fetchBucketFactor = 2.0
	fetchBucketCount  = 12
)

const (
	minioBucketStart  = 0.1
	minioBucketFactor = 2.0
	minioBucketCount  = 10
)

var WebhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events received, by trigger and outcome",
	},
	[]string{"trigger", "outcome"},
)

var DispatchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "dispatch_duration_seconds",
		Help: "Time taken to dispatch a task for an ended call",
		Buckets: prometheus.ExponentialBuckets(
			dispatchBucketStart,
			dispatchBucketFactor,
			dispatchBucketCount,
		),
	},
)

var RecordingFetchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "recording_fetch_duration_seconds",
		Help: "Time taken to download a call recording from the PBX",
		Buckets: prometheus.ExponentialBuckets(
			fetchBucketStart,
			fetchBucketFactor,
			fetchBucketCount,
		),
	},
)

var MinioOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "minio_operation_duration_seconds",
		Help: "Time taken by MinIO operations",
		Buckets: prometheus.ExponentialBuckets(
			minioBucketStart,
			minioBucketFactor,
			minioBucketCount,
		),
	},
	[]string{"operation"},
)

var TasksDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tasks_dispatched_total",
		Help: "Dispatch attempts, by result",
	},
	[]string{"result"},
)

var CallRecordsPurgedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "call_records_purged_total",
		Help: "Terminal call records removed by the retention worker",
	},
)

func init() {
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(RecordingFetchDuration)
	prometheus.MustRegister(MinioOperationDuration)
	prometheus.MustRegister(TasksDispatchedTotal)
	prometheus.MustRegister(CallRecordsPurgedTotal)
}
