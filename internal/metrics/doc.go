// Package metrics exports run results as Prometheus gauges written to a
// node-exporter textfile. There is no HTTP endpoint; filesweep is a batch job.
package metrics
