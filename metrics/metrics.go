package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vuln_index"

// Skip reasons for configuration strings.
const (
	ReasonMalformed = "malformed"
	ReasonRejected  = "rejected"
)

// Collector holds the ingestion counters. Each collector has its own registry.
type Collector struct {
	Registry *prometheus.Registry

	FetchErrors           prometheus.Counter
	ParseErrors           prometheus.Counter
	ChecksumErrors        prometheus.Counter
	SkippedConfigurations *prometheus.CounterVec
	Facts                 prometheus.Counter
	Cycles                *prometheus.CounterVec
	Packages              prometheus.Gauge
}

func New() *Collector {
	c := &Collector{Registry: prometheus.NewRegistry()}

	c.FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_errors_total",
		Help:      "Number of feed sources that could not be fetched",
	})
	c.ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_errors_total",
		Help:      "Number of feed documents with malformed markup",
	})
	c.ChecksumErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checksum_errors_total",
		Help:      "Number of feed documents rejected by their meta checksum",
	})
	c.SkippedConfigurations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_configurations_total",
		Help:      "Number of configuration strings that produced no fact",
	}, []string{"reason"})
	c.Facts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "facts_total",
		Help:      "Number of facts delivered to the index",
	})
	c.Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Number of ingestion cycles by result",
	}, []string{"result"})
	c.Packages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "packages",
		Help:      "Number of packages in the published index",
	})

	c.Registry.MustRegister(
		c.FetchErrors,
		c.ParseErrors,
		c.ChecksumErrors,
		c.SkippedConfigurations,
		c.Facts,
		c.Cycles,
		c.Packages,
	)
	return c
}

// WriteTextfile writes the registry to path in the text format read by the
// node exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.Registry)
}

// Handler exposes the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}
