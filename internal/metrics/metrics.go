// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	Connections     prometheus.Gauge
	Rooms           prometheus.Gauge
	Joins           *prometheus.CounterVec // outcome=joined|waiting
	Denials         *prometheus.CounterVec // code
	MessagesIn      *prometheus.CounterVec // type
	MessagesOut     prometheus.Counter
	DeliveryMisses  prometheus.Counter
	Backpressure    *prometheus.CounterVec // action=drop|disconnect
	EnvelopesPurged prometheus.Counter
	RateLimited     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle", Name: "connections",
			Help: "Currently connected endpoints.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huddle", Name: "rooms",
			Help: "Rooms that currently exist.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Name: "joins_total",
			Help: "Join requests by outcome.",
		}, []string{"outcome"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Name: "denials_total",
			Help: "Refused operations by code.",
		}, []string{"code"}),
		MessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "relay", Name: "messages_in_total",
			Help: "Decoded inbound messages by type.",
		}, []string{"type"}),
		MessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "relay", Name: "messages_out_total",
			Help: "Messages handed to an endpoint queue.",
		}),
		DeliveryMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "relay", Name: "delivery_misses_total",
			Help: "Messages addressed to an endpoint that is not connected.",
		}),
		Backpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "relay", Name: "backpressure_total",
			Help: "Full outbound queues by policy action.",
		}, []string{"action"}),
		EnvelopesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "relay", Name: "envelopes_purged_total",
			Help: "Queued negotiation envelopes discarded on leave.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huddle", Subsystem: "signal", Name: "rate_limited_total",
			Help: "Inbound frames dropped by the per-connection limiter.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections, m.Rooms, m.Joins, m.Denials, m.MessagesIn, m.MessagesOut,
		m.DeliveryMisses, m.Backpressure, m.EnvelopesPurged, m.RateLimited,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
