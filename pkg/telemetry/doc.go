// Package telemetry provides logging, tracing, metrics and events for the
// work order service.
//
// The package combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an in-process event publisher in
// one Telemetry bundle.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.StartMetricsServer(ctx)
//
// Library code and tests without a configured stack use NopTelemetry.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("scheduler")
//	logger.WithPass(passID).WithWorkOrder(12).WithBackend("internal").Info().Msg("Storage assigned")
//
// Logger embeds zerolog.Logger. Components that take a plain zerolog.Logger
// get one from Logger.Zerolog.
//
// # Tracing
//
// One span covers a scheduling pass, with child spans per work order, per
// policy evaluation and per storage selection:
//
//	ctx, span := tel.Tracer.StartPassSpan(ctx, passID, len(orders))
//	defer span.End()
//
// AnnotateOutcome, AnnotatePolicy and AnnotateSelection record results on
// those spans; RecordError adds the error kind and code.
//
// Supported exporters: "otlp" (gRPC), "stdout" and "none".
//
// # Metrics
//
// Metrics are registered on a private Prometheus registry and served at
// MetricsConfig.Path (default /metrics):
//
//   - froyo_orders_scheduling_passes_total{status}
//   - froyo_orders_scheduling_pass_duration_seconds{status}
//   - froyo_orders_work_order_outcomes_total{outcome}
//   - froyo_orders_storage_selections_total{step,result}
//   - froyo_orders_storage_progress_resets_total
//   - froyo_orders_storage_backend_failures_total{storage_id}
//   - froyo_orders_policy_evaluations_total{result}
//   - froyo_orders_policy_rule_reloads_total{status}
//   - froyo_orders_errors_total{kind,code}
//   - froyo_orders_work_order_notifications_total{state}
//   - froyo_orders_work_orders{state}
//   - froyo_orders_work_orders_active
//
// # Events
//
// Work order progress, pass boundaries, storage bindings, policy rejections
// and serviced actions are published as Events. Subscribers may filter by
// level, type, work order or pass:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByWorkOrder(12))
//
// LogEvents subscribes LogSink, which writes every event through the logger.
package telemetry
