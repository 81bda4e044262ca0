// Package observability provides OpenTelemetry tracing and metrics for
// the extension trust pipeline, exported over OTLP gRPC.
//
// # Setup
//
// Initialize the provider at host startup:
//
//	provider, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "warden",
//		Environment:  "production",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer provider.Shutdown(ctx)
//
// # Tracing
//
// Wrap pipeline operations in spans:
//
//	ctx, finish := provider.TrackOperation(ctx, "warden.install",
//		observability.BundleAttrs("acme.deploy-bot", "1.4.2", "VERIFIED")...)
//	res, err := mgr.Install(ctx, tenant, data)
//	finish(err)
//
// # Metrics
//
// Record pipeline outcomes:
//
//	provider.RecordVerification(ctx, "signature")
//	provider.RecordDecision(ctx, "DENY", "DENY_AUTHOR_BLOCKED")
//	provider.RecordRuntimeCheck(ctx, "DENY_PRODUCTION_BLOCKED", false, elapsed)
//	provider.RecordViolation(ctx, "DENY_RESERVED_PATH")
//
// Dropped audit events surface as a gauge:
//
//	provider.ObserveTrail(trail)
package observability
