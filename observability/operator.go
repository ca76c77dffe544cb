/*
Package observability provides the metrics surface served on the producer
process's metrics address; the worker process does not serve one. Detailed
tracing and log aggregation sinks are considered external collaborators and
are out of scope; this package registers the Go/process collectors plus
publish, consume and fetch counters and histograms. No other package in
this module calls PublishResult, ConsumeResult or FetchResult, so those
series are registered but never incremented.
*/
package observability

import (
	"net/http"
	"runtime"
	"time"

	lib "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	xlog "github.com/arborwatch/httpmeta/log"
)

// Operator instances allow collecting and exposing pipeline metrics.
type Operator interface {
	// GatherMetrics try to collect metrics available on a best-effort manner.
	GatherMetrics() ([]*dto.MetricFamily, error)

	// MetricsHandler returns an interface to gather metrics via HTTP.
	MetricsHandler() http.Handler

	// PublishResult records the outcome of a publish attempt and its latency.
	PublishResult(ok bool, latency time.Duration)

	// ConsumeResult records the ack decision reached for a processed delivery.
	ConsumeResult(outcome string)

	// FetchResult records the outcome and latency of a metadata fetch attempt.
	FetchResult(outcome string, latency time.Duration)
}

// Operator implementation backed by a Prometheus registry. Host and runtime
// metrics are collected by default, in addition to the pipeline counters.
type handler struct {
	registry *lib.Registry

	publishTotal   *lib.CounterVec
	publishLatency lib.Histogram
	consumeTotal   *lib.CounterVec
	fetchTotal     *lib.CounterVec
	fetchLatency   lib.Histogram
}

// NewOperator returns a ready-to-use operator instance. If no registry `reg`
// is provided, a new empty one will be created by default.
func NewOperator(reg *lib.Registry) (Operator, error) {
	if reg == nil {
		reg = lib.NewRegistry()
	}
	ps := &handler{
		registry: reg,
		publishTotal: lib.NewCounterVec(lib.CounterOpts{
			Name: "ingest_publish_total",
			Help: "Number of publish attempts, by result.",
		}, []string{"result"}),
		publishLatency: lib.NewHistogram(lib.HistogramOpts{
			Name:    "ingest_publish_latency_seconds",
			Help:    "Time to receive a broker confirm for a publish attempt.",
			Buckets: lib.DefBuckets,
		}),
		consumeTotal: lib.NewCounterVec(lib.CounterOpts{
			Name: "ingest_consume_total",
			Help: "Number of processed deliveries, by ack outcome.",
		}, []string{"outcome"}),
		fetchTotal: lib.NewCounterVec(lib.CounterOpts{
			Name: "ingest_fetch_total",
			Help: "Number of metadata fetch attempts, by outcome.",
		}, []string{"outcome"}),
		fetchLatency: lib.NewHistogram(lib.HistogramOpts{
			Name:    "ingest_fetch_latency_seconds",
			Help:    "Time taken performing a metadata fetch attempt.",
			Buckets: lib.DefBuckets,
		}),
	}
	if err := ps.init(); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *handler) init() (err error) {
	// Include a collector that exports metrics about the current Go process.
	if err = ps.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}

	// Process level metrics: CPU, memory, FDs and start time. Linux/Windows only.
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		po := collectors.ProcessCollectorOpts{ReportErrors: true}
		if err = ps.registry.Register(collectors.NewProcessCollector(po)); err != nil {
			return err
		}
	}

	for _, c := range []lib.Collector{ps.publishTotal, ps.publishLatency, ps.consumeTotal, ps.fetchTotal, ps.fetchLatency} {
		if err = ps.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (ps *handler) GatherMetrics() ([]*dto.MetricFamily, error) {
	return ps.registry.Gather()
}

func (ps *handler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(ps.registry, promhttp.HandlerOpts{
		ErrorLog:            &errorLogger{ll: xlog.Discard()}, // discard logs; silent mode
		ErrorHandling:       promhttp.ContinueOnError,         // best effort mode; ignore errors
		Registry:            ps.registry,                      // collect 'promhttp_metric_handler_errors_total'
		DisableCompression:  false,                             // always use compression
		MaxRequestsInFlight: 10,
		Timeout:             5 * time.Second,
		EnableOpenMetrics:   false,
	})
}

func (ps *handler) PublishResult(ok bool, latency time.Duration) {
	result := "rejected"
	if ok {
		result = "confirmed"
	}
	ps.publishTotal.WithLabelValues(result).Inc()
	ps.publishLatency.Observe(latency.Seconds())
}

func (ps *handler) ConsumeResult(outcome string) {
	ps.consumeTotal.WithLabelValues(outcome).Inc()
}

func (ps *handler) FetchResult(outcome string, latency time.Duration) {
	ps.fetchTotal.WithLabelValues(outcome).Inc()
	ps.fetchLatency.Observe(latency.Seconds())
}

// Minimal prometheus error logger implementation.
type errorLogger struct {
	ll xlog.Logger
}

func (el *errorLogger) Println(v ...any) {
	el.ll.Print(xlog.Warning, v...)
}
