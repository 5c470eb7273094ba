// Package server provides the HTTP surface: the WebSocket endpoint with
// layered admission control (rate, global and per-IP limits), health and
// readiness probes, the stats endpoint and Prometheus metrics.
package server
