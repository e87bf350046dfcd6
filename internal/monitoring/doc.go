// Package monitoring collects Prometheus metrics for the terminal service
// and exposes a JSON snapshot for the status API.
package monitoring
