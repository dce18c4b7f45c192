/*
Package observability exports calltrace activity as Prometheus metrics.

Metrics.Hooks returns domain.TraceHooks to register on threads and
multiplexers (directly or through threads.WithHooks):

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	manager := threads.NewManager(threads.WithHooks(metrics.Hooks()))
*/
package observability
