// Package metrics wires go-metrics, the instrumentation API used across
// peerbus (and by raft internally), to a Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	gmprometheus "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup installs a global go-metrics sink backed by a fresh Prometheus
// registry and returns the handler exposing it. Until Setup is called,
// metrics go to go-metrics' default blackhole sink.
func Setup(service string) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	sink, err := gmprometheus.NewPrometheusSinkFrom(gmprometheus.PrometheusOpts{
		Expiration: 10 * time.Minute,
		Registerer: registry,
	})
	if err != nil {
		return nil, err
	}

	conf := gometrics.DefaultConfig(service)
	conf.EnableHostname = false
	conf.EnableHostnameLabel = false
	conf.EnableRuntimeMetrics = true
	if _, err := gometrics.NewGlobal(conf, sink); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Count increments the counter named by key
func Count(key []string, labels ...gometrics.Label) {
	gometrics.IncrCounterWithLabels(key, 1, labels)
}

// Since records the time elapsed since start under key
func Since(key []string, start time.Time, labels ...gometrics.Label) {
	gometrics.MeasureSinceWithLabels(key, start, labels)
}

// Gauge sets the gauge named by key
func Gauge(key []string, val float32, labels ...gometrics.Label) {
	gometrics.SetGaugeWithLabels(key, val, labels)
}

// Label builds a metric label
func Label(name, value string) gometrics.Label {
	return gometrics.Label{Name: name, Value: value}
}
