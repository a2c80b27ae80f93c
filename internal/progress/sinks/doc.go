// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and the run-history repository. Each satisfies progress.Sink.
package sinks
