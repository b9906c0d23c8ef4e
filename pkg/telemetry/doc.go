// Package telemetry provides observability for deploykit runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an event publisher that fans orchestration
// events out to subscribers such as the SQLite run journal.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithRunID(runID).WithStep("token").Info("created")
//
// # Events
//
// The publisher is synchronous by default: when Publish returns, every
// subscriber has seen the event. Set EventsConfig.EnableAsync to deliver
// from a background goroutine instead; events are still delivered in order.
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Step)
//	})
//
// # Metrics
//
// Exposed under the configured namespace (default "deploykit"):
//
//   - runs_started_total{environment,scenario,mode}
//   - runs_completed_total{environment,scenario,result}
//   - run_duration_seconds{result}
//   - steps_total{phase,outcome}
//   - step_duration_seconds{phase}
//   - step_cost_total{environment,phase}
//   - action_calls_total{actions,phase}
//   - action_errors_total{actions,phase}
//   - errors_by_class_total{class}
//   - active_runs
//
// # Tracing
//
// Exporters: "otlp" (gRPC), "stdout" (written to stderr) and "none".
// A run produces one run.execute span with step.create and step.configure
// children; instrumented actions add action.* spans below those.
package telemetry
