// Package observability provides logging, metrics, and tracing plumbing
// shared by policyguard components.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("policy reloaded", observability.Uint64("version", 3))
//
// # Metrics
//
// Components own their Prometheus collectors and register them on a shared
// registry through RegisterCollectors. MetricsHandler exposes the registry.
//
// # Tracing
//
// NewTracer installs an OpenTelemetry tracer provider, optionally exporting
// spans over OTLP/gRPC.
package observability
