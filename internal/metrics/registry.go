package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric this module registers.
const namespace = "scalecrypt"

// Registry is the Prometheus registry metrics are collected into. The
// module never starts an HTTP server for it (the core exposes no network
// surface of its own, per spec) — a caller embedding this library into a
// service is free to serve Registry however it already exposes metrics.
var Registry = prometheus.NewRegistry()
