// Package metrics exposes per-store counters in the Prometheus text format.
//
// Collect turns expiring.Stats into client_model metric families (one series
// per store, labelled store="<name>"); Handler serves them on GET /metrics
// using expfmt. With no stores configured the body is empty.
package metrics
