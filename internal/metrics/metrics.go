// Package metrics counts converter outcomes for Prometheus.
// Nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ttn_convert"

// Packet results.
const (
	ResultOK              = "ok"
	ResultInvalidEnvelope = "invalid_envelope"
	ResultUnknownPort     = "unknown_port"
	ResultInvalidLength   = "invalid_length"
	ResultOverrun         = "overrun"
	ResultInternal        = "internal"
)

type Collector struct {
	registry *prometheus.Registry
	packets  *prometheus.CounterVec
	variants *prometheus.CounterVec
	messages *prometheus.CounterVec
	stream   *prometheus.CounterVec
	nodes    prometheus.GaugeFunc
}

// New registers collectors in a private registry. nodes may be nil.
func New(nodes func() float64) *Collector {
	self := &Collector{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Uplink packets processed, by result.",
		}, []string{"result"}),
		variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_total",
			Help:      "Decoded packets by wire layout.",
		}, []string{"variant"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Converted messages produced, by kind.",
		}, []string{"kind"}),
		stream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_entries_total",
			Help:      "Output stream operations, by outcome.",
		}, []string{"outcome"}),
	}
	self.registry.MustRegister(self.packets, self.variants, self.messages, self.stream)
	if nodes != nil {
		self.nodes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Distinct nodes with a recorded frame counter.",
		}, nodes)
		self.registry.MustRegister(self.nodes)
	}
	return self
}

func (self *Collector) Packet(result string) {
	if self == nil {
		return
	}
	self.packets.WithLabelValues(result).Inc()
}

func (self *Collector) Variant(v string) {
	if self == nil {
		return
	}
	self.variants.WithLabelValues(v).Inc()
}

func (self *Collector) Message(kind string) {
	if self == nil {
		return
	}
	self.messages.WithLabelValues(kind).Inc()
}

func (self *Collector) Stream(outcome string) {
	if self == nil {
		return
	}
	self.stream.WithLabelValues(outcome).Inc()
}

// StreamCounter exposes one stream outcome series, mostly for tests.
func (self *Collector) StreamCounter(outcome string) prometheus.Counter {
	return self.stream.WithLabelValues(outcome)
}

func (self *Collector) Handler() http.Handler {
	if self == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(self.registry, promhttp.HandlerOpts{})
}

func (self *Collector) Registry() *prometheus.Registry {
	if self == nil {
		return nil
	}
	return self.registry
}
