// Package telemetry provides OpenTelemetry instrumentation for councild.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. Spans and metrics are exported over OTLP (gRPC or
// HTTP/protobuf) to a collector.
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.FromSettings(appCfg.Observability, version)
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("councild.ceremony")
//	ctx, span := tracer.Start(ctx, "ceremony.run")
//	defer span.End()
//
//	meter := tel.Meter("councild.council")
//	counter, _ := meter.Int64Counter("councild.council.deliberations")
//	counter.Add(ctx, 1)
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  otlp_protocol: grpc
//	  service_name: "councild"
//	  sample_rate: 1.0
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
