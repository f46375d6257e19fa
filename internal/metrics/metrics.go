package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds the process-wide counters exported at /metrics.
type Metrics struct {
	startTime time.Time

	// Transport
	transportMessagesReceived atomic.Int64
	transportBytesReceived    atomic.Int64
	transportMalformed        atomic.Int64
	transportRepliesSent      atomic.Int64
	transportReplyErrors      atomic.Int64
	transportHandlerErrors    atomic.Int64
	transportHandlerPanics    atomic.Int64
	transportRunning          atomic.Int64

	// Ingest
	ingestRecordsStored atomic.Int64
	ingestStoreErrors   atomic.Int64

	// Events
	eventsPublished     atomic.Int64
	eventsPublishErrors atomic.Int64

	// Query API
	queryRequests  atomic.Int64
	queryErrors    atomic.Int64
	queryRows      atomic.Int64
	recordsDeleted atomic.Int64

	// HTTP
	httpRequests     atomic.Int64
	httpErrors       atomic.Int64
	httpLatencySum   atomic.Int64 // microseconds
	httpLatencyCount atomic.Int64

	// Background jobs
	retentionRuns    atomic.Int64
	retentionDeleted atomic.Int64
	retentionErrors  atomic.Int64
	exportsTotal     atomic.Int64
	exportRecords    atomic.Int64
	exportBytes      atomic.Int64
	exportErrors     atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{startTime: time.Now()}
	})
	return instance
}

// Init attaches a logger to the singleton.
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Debug().Msg("Metrics collector initialized")
	return m
}

func (m *Metrics) IncTransportMessages(bytes int64) {
	m.transportMessagesReceived.Add(1)
	m.transportBytesReceived.Add(bytes)
}
func (m *Metrics) IncTransportMalformed()     { m.transportMalformed.Add(1) }
func (m *Metrics) IncTransportReplies()       { m.transportRepliesSent.Add(1) }
func (m *Metrics) IncTransportReplyErrors()   { m.transportReplyErrors.Add(1) }
func (m *Metrics) IncTransportHandlerErrors() { m.transportHandlerErrors.Add(1) }
func (m *Metrics) IncTransportHandlerPanics() { m.transportHandlerPanics.Add(1) }

func (m *Metrics) SetTransportRunning(running bool) {
	if running {
		m.transportRunning.Store(1)
		return
	}
	m.transportRunning.Store(0)
}

func (m *Metrics) IncRecordsStored()  { m.ingestRecordsStored.Add(1) }
func (m *Metrics) IncStoreErrors()    { m.ingestStoreErrors.Add(1) }
func (m *Metrics) IncEventsPublished() { m.eventsPublished.Add(1) }
func (m *Metrics) IncEventErrors()    { m.eventsPublishErrors.Add(1) }

func (m *Metrics) IncQueryRequests()         { m.queryRequests.Add(1) }
func (m *Metrics) IncQueryErrors()           { m.queryErrors.Add(1) }
func (m *Metrics) IncQueryRows(n int64)      { m.queryRows.Add(n) }
func (m *Metrics) IncRecordsDeleted(n int64) { m.recordsDeleted.Add(n) }

func (m *Metrics) IncHTTPRequests() { m.httpRequests.Add(1) }
func (m *Metrics) IncHTTPErrors()   { m.httpErrors.Add(1) }

// RecordHTTPLatency records one request latency.
func (m *Metrics) RecordHTTPLatency(d time.Duration) {
	m.httpLatencySum.Add(d.Microseconds())
	m.httpLatencyCount.Add(1)
}

func (m *Metrics) RecordRetentionRun(deleted int64, err error) {
	m.retentionRuns.Add(1)
	if err != nil {
		m.retentionErrors.Add(1)
		return
	}
	m.retentionDeleted.Add(deleted)
}

func (m *Metrics) RecordExport(records, bytes int64, err error) {
	m.exportsTotal.Add(1)
	if err != nil {
		m.exportErrors.Add(1)
		return
	}
	m.exportRecords.Add(records)
	m.exportBytes.Add(bytes)
}

type series struct {
	name  string
	help  string
	kind  string
	value *atomic.Int64
}

func (m *Metrics) series() []series {
	return []series{
		{"transport_messages_received_total", "Messages received on the transport endpoint", "counter", &m.transportMessagesReceived},
		{"transport_bytes_received_total", "Payload bytes received on the transport endpoint", "counter", &m.transportBytesReceived},
		{"transport_malformed_total", "Payloads that failed to decode", "counter", &m.transportMalformed},
		{"transport_replies_sent_total", "Acknowledgments sent", "counter", &m.transportRepliesSent},
		{"transport_reply_errors_total", "Acknowledgments that failed to send", "counter", &m.transportReplyErrors},
		{"transport_handler_errors_total", "Handler invocations that returned an error", "counter", &m.transportHandlerErrors},
		{"transport_handler_panics_total", "Handler invocations that panicked", "counter", &m.transportHandlerPanics},
		{"transport_running", "Whether the transport accept loop is running", "gauge", &m.transportRunning},
		{"records_stored_total", "Records persisted by the ingest handler", "counter", &m.ingestRecordsStored},
		{"store_errors_total", "Records the ingest handler failed to persist", "counter", &m.ingestStoreErrors},
		{"events_published_total", "Record events published", "counter", &m.eventsPublished},
		{"events_publish_errors_total", "Record events that failed to publish", "counter", &m.eventsPublishErrors},
		{"query_requests_total", "Record queries served", "counter", &m.queryRequests},
		{"query_errors_total", "Record queries that failed", "counter", &m.queryErrors},
		{"query_rows_total", "Rows returned by record queries", "counter", &m.queryRows},
		{"records_deleted_total", "Records deleted through the API", "counter", &m.recordsDeleted},
		{"http_requests_total", "HTTP requests served", "counter", &m.httpRequests},
		{"http_errors_total", "HTTP requests answered with a 4xx or 5xx status", "counter", &m.httpErrors},
		{"retention_runs_total", "Retention runs", "counter", &m.retentionRuns},
		{"retention_deleted_total", "Records removed by retention", "counter", &m.retentionDeleted},
		{"retention_errors_total", "Retention runs that failed", "counter", &m.retentionErrors},
		{"exports_total", "Exports attempted", "counter", &m.exportsTotal},
		{"export_records_total", "Records written by exports", "counter", &m.exportRecords},
		{"export_bytes_total", "Compressed bytes written by exports", "counter", &m.exportBytes},
		{"export_errors_total", "Exports that failed", "counter", &m.exportErrors},
	}
}

// Snapshot returns the current values keyed by metric name.
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := map[string]interface{}{
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
		"goroutines":         runtime.NumGoroutine(),
		"go_version":         runtime.Version(),
		"memory_alloc_bytes": memStats.Alloc,
		"memory_sys_bytes":   memStats.Sys,
		"gc_cycles":          memStats.NumGC,
	}
	for _, s := range m.series() {
		snap[s.name] = s.value.Load()
	}
	if n := m.httpLatencyCount.Load(); n > 0 {
		snap["http_latency_avg_ms"] = float64(m.httpLatencySum.Load()) / float64(n) / 1000
	}
	return snap
}

const prefix = "xclogger_"

// PrometheusFormat renders the metrics in the Prometheus text format.
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	b := make([]byte, 0, 4096)
	b = appendSeries(b, "uptime_seconds", "Time since the process started", "gauge", time.Since(m.startTime).Seconds())
	b = appendSeries(b, "goroutines", "Number of goroutines", "gauge", float64(runtime.NumGoroutine()))
	b = appendSeries(b, "memory_alloc_bytes", "Current allocated memory", "gauge", float64(memStats.Alloc))
	b = appendSeries(b, "gc_cycles_total", "Total number of GC cycles", "counter", float64(memStats.NumGC))

	for _, s := range m.series() {
		b = appendSeries(b, s.name, s.help, s.kind, float64(s.value.Load()))
	}

	b = append(b, "# HELP "+prefix+"http_request_duration_seconds HTTP request latency\n"...)
	b = append(b, "# TYPE "+prefix+"http_request_duration_seconds summary\n"...)
	b = appendMetric(b, prefix+"http_request_duration_seconds_sum", float64(m.httpLatencySum.Load())/1e6)
	b = appendMetric(b, prefix+"http_request_duration_seconds_count", float64(m.httpLatencyCount.Load()))

	return string(b)
}

func appendSeries(b []byte, name, help, kind string, value float64) []byte {
	b = append(b, "# HELP "+prefix+name+" "+help+"\n"...)
	b = append(b, "# TYPE "+prefix+name+" "+kind+"\n"...)
	return appendMetric(b, prefix+name, value)
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	return append(b, '\n')
}
