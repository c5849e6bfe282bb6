// Package metrics exposes dispatch counters through a Sink. NoopSink is used
// when metrics are disabled; PrometheusSink backs the /metrics endpoint.
package metrics
