package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "pondwatch"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Dashboard     = "dashboard"
	Source        = "source"
	Ingest        = "ingest"
	KafkaOffset   = "kafka_offset"
	KafkaConsumer = "kafka_consumer"
	Consumer      = "consumer"
)

// Labels holds constant labels applied to all metrics.
// These distinguish metrics of several farms or deployments scraped by one Prometheus.
type Labels struct {
	Site          string // Farm or facility name (e.g., "north-greenhouse")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Site != "" {
		labels["site"] = l.Site
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

type Metrics struct {
	// Dashboard views
	requests         *prometheus.CounterVec   // by view, status
	requestDuration  *prometheus.HistogramVec // by view
	framesServed     *prometheus.CounterVec   // by view
	cursorWraps      *prometheus.CounterVec   // by view
	insufficientData *prometheus.CounterVec   // by pond
	activeSessions   prometheus.Gauge
	checkpointWrites *prometheus.CounterVec // by status

	// Sources
	sourceErrors *prometheus.CounterVec // by pond
	cacheLookups *prometheus.CounterVec // by pond, result

	// Ingest pipeline
	readingsIngested  *prometheus.CounterVec // by pond
	readingsPublished *prometheus.CounterVec // by sink, status

	// Kafka offset manager
	lastCommittedOffset *prometheus.GaugeVec
	offsetLag           *prometheus.GaugeVec
	offsetWindowSize    *prometheus.GaugeVec
	offsetCommits       *prometheus.CounterVec
	commitDuration      *prometheus.HistogramVec

	// Kafka consumer rebalance
	rebalanceEvents    *prometheus.CounterVec
	assignedPartitions prometheus.Gauge

	// Consumer message processing
	messagesReceived          *prometheus.CounterVec   // by partition
	messagesProcessed         *prometheus.CounterVec   // by partition, status
	messageProcessingDuration *prometheus.HistogramVec // by partition
	messagesInFlight          prometheus.Gauge
	dlqProduced               *prometheus.CounterVec // by status
	kafkaErrors               *prometheus.CounterVec // by severity (fatal/non_fatal)
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// For metrics with constant labels use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "requests_total",
			Help:      "Total dashboard view requests by view and status",
		}, []string{"view", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "request_duration_seconds",
			Help:      "Time to build a dashboard view",
			Buckets:   latencyBuckets,
		}, []string{"view"}),
		framesServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "frames_total",
			Help:      "Total window/forecast frames handed out by view",
		}, []string{"view"}),
		cursorWraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "cursor_wraps_total",
			Help:      "Total number of times a rotation cursor wrapped back to zero",
		}, []string{"view"}),
		insufficientData: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "insufficient_data_total",
			Help:      "Total rotation attempts on ponds with fewer rows than window plus forecast",
		}, []string{"pond"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "active_sessions",
			Help:      "Number of display sessions holding rotation cursors",
		}),
		checkpointWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Dashboard,
			Name:      "checkpoint_writes_total",
			Help:      "Total cursor checkpoint writes by status",
		}, []string{"status"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Source,
			Name:      "errors_total",
			Help:      "Total failures loading a pond series",
		}, []string{"pond"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Source,
			Name:      "cache_lookups_total",
			Help:      "Total series cache lookups by pond and result (hit/miss)",
		}, []string{"pond", "result"}),
		readingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Ingest,
			Name:      "readings_stored_total",
			Help:      "Total readings persisted by pond",
		}, []string{"pond"}),
		readingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Ingest,
			Name:      "readings_published_total",
			Help:      "Total generated readings published by sink and status",
		}, []string{"sink", "status"}),
		lastCommittedOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "last_committed",
			Help:      "Last offset committed to Kafka for each partition",
		}, []string{"partition"}),
		offsetLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "lag",
			Help:      "Highest processed offset minus last committed offset for each partition",
		}, []string{"partition"}),
		offsetWindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "window_size",
			Help:      "Number of processed offsets awaiting commit for each partition",
		}, []string{"partition"}),
		offsetCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "commits_total",
			Help:      "Total offset commit attempts by partition and status",
		}, []string{"partition", "status"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: KafkaOffset,
			Name:      "commit_duration_seconds",
			Help:      "Time taken to commit offsets to Kafka by partition",
			Buckets:   latencyBuckets,
		}, []string{"partition"}),
		rebalanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "rebalance_events_total",
			Help:      "Total consumer group rebalance events by type",
		}, []string{"type"}),
		assignedPartitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: KafkaConsumer,
			Name:      "assigned_partitions",
			Help:      "Current number of partitions assigned to this consumer",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_received_total",
			Help:      "Total messages polled from Kafka by partition",
		}, []string{"partition"}),
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_processed_total",
			Help:      "Total messages processed by partition and status",
		}, []string{"partition", "status"}),
		messageProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "message_processing_duration_seconds",
			Help:      "Message dispatch duration including processing and DLQ publish by partition",
			Buckets:   latencyBuckets,
		}, []string{"partition"}),
		messagesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "messages_in_flight",
			Help:      "Number of messages currently being processed",
		}),
		dlqProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "dlq_produced_total",
			Help:      "Total messages published to the dead letter queue by status",
		}, []string{"status"}),
		kafkaErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Consumer,
			Name:      "kafka_errors_total",
			Help:      "Total Kafka errors received by severity (fatal/non_fatal)",
		}, []string{"severity"}),
	}

	err := errors.Join(
		reg.Register(m.requests),
		reg.Register(m.requestDuration),
		reg.Register(m.framesServed),
		reg.Register(m.cursorWraps),
		reg.Register(m.insufficientData),
		reg.Register(m.activeSessions),
		reg.Register(m.checkpointWrites),
		reg.Register(m.sourceErrors),
		reg.Register(m.cacheLookups),
		reg.Register(m.readingsIngested),
		reg.Register(m.readingsPublished),
		reg.Register(m.lastCommittedOffset),
		reg.Register(m.offsetLag),
		reg.Register(m.offsetWindowSize),
		reg.Register(m.offsetCommits),
		reg.Register(m.commitDuration),
		reg.Register(m.rebalanceEvents),
		reg.Register(m.assignedPartitions),
		reg.Register(m.messagesReceived),
		reg.Register(m.messagesProcessed),
		reg.Register(m.messageProcessingDuration),
		reg.Register(m.messagesInFlight),
		reg.Register(m.dlqProduced),
		reg.Register(m.kafkaErrors),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordRequest records the outcome and duration of one dashboard view request.
func (m *Metrics) RecordRequest(view string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(view, status(err)).Inc()
	m.requestDuration.WithLabelValues(view).Observe(durationSeconds)
}

// RecordFrame records one frame handed out for view and whether its cursor wrapped.
func (m *Metrics) RecordFrame(view string, wrapped bool) {
	if m == nil {
		return
	}
	m.framesServed.WithLabelValues(view).Inc()
	if wrapped {
		m.cursorWraps.WithLabelValues(view).Inc()
	}
}

// IncInsufficientData counts a rotation attempt on a pond too short for one frame.
func (m *Metrics) IncInsufficientData(pond string) {
	if m == nil {
		return
	}
	m.insufficientData.WithLabelValues(pond).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// RecordCheckpointWrite records a cursor checkpoint write attempt.
func (m *Metrics) RecordCheckpointWrite(err error) {
	if m == nil {
		return
	}
	m.checkpointWrites.WithLabelValues(status(err)).Inc()
}

// IncSourceError counts a failure loading the series of pond.
func (m *Metrics) IncSourceError(pond string) {
	if m == nil {
		return
	}
	m.sourceErrors.WithLabelValues(pond).Inc()
}

// CacheHit counts a series cache hit.
func (m *Metrics) CacheHit(pond string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(pond, "hit").Inc()
}

// CacheMiss counts a series cache miss.
func (m *Metrics) CacheMiss(pond string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(pond, "miss").Inc()
}

// AddReadingsIngested records readings persisted for pond.
func (m *Metrics) AddReadingsIngested(pond string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.readingsIngested.WithLabelValues(pond).Add(float64(count))
}

// RecordReadingPublished records a generated reading handed to sink.
func (m *Metrics) RecordReadingPublished(sink string, err error) {
	if m == nil {
		return
	}
	m.readingsPublished.WithLabelValues(sink, status(err)).Inc()
}

// UpdateOffsetMetrics updates the offset manager gauges of a partition.
func (m *Metrics) UpdateOffsetMetrics(partition int32, lastCommitted, latestProcessed int64, windowSize int) {
	if m == nil {
		return
	}
	p := strconv.Itoa(int(partition))
	m.lastCommittedOffset.WithLabelValues(p).Set(float64(lastCommitted))
	m.offsetWindowSize.WithLabelValues(p).Set(float64(windowSize))
	m.offsetLag.WithLabelValues(p).Set(float64(max(latestProcessed-lastCommitted, 0)))
}

// RecordOffsetCommit records an offset commit attempt for a partition.
func (m *Metrics) RecordOffsetCommit(partition int32, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	p := strconv.Itoa(int(partition))
	m.offsetCommits.WithLabelValues(p, status(err)).Inc()
	m.commitDuration.WithLabelValues(p).Observe(durationSeconds)
}

// RecordPartitionAssignment records a rebalance that assigned partitions.
func (m *Metrics) RecordPartitionAssignment(partitions []int32) {
	if m == nil {
		return
	}
	m.rebalanceEvents.WithLabelValues("assigned").Inc()
	m.assignedPartitions.Set(float64(len(partitions)))
}

// RecordPartitionRevocation records a rebalance that revoked partitions.
func (m *Metrics) RecordPartitionRevocation() {
	if m == nil {
		return
	}
	m.rebalanceEvents.WithLabelValues("revoked").Inc()
	m.assignedPartitions.Set(0)
}

// RecordMessageReceived increments the received counter when a message is polled from Kafka.
func (m *Metrics) RecordMessageReceived(partition int32) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(strconv.Itoa(int(partition))).Inc()
}

// RecordMessageProcessed records a message processing outcome with duration.
func (m *Metrics) RecordMessageProcessed(partition int32, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	p := strconv.Itoa(int(partition))
	m.messagesProcessed.WithLabelValues(p, status(err)).Inc()
	m.messageProcessingDuration.WithLabelValues(p).Observe(durationSeconds)
}

func (m *Metrics) IncMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Inc()
}

func (m *Metrics) DecMessagesInFlight() {
	if m == nil {
		return
	}
	m.messagesInFlight.Dec()
}

// RecordDLQProduction records a DLQ publish attempt.
func (m *Metrics) RecordDLQProduction(err error) {
	if m == nil {
		return
	}
	m.dlqProduced.WithLabelValues(status(err)).Inc()
}

// RecordKafkaError records a Kafka error by severity.
func (m *Metrics) RecordKafkaError(fatal bool) {
	if m == nil {
		return
	}
	severity := "non_fatal"
	if fatal {
		severity = "fatal"
	}
	m.kafkaErrors.WithLabelValues(severity).Inc()
}
