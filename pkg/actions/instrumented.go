package actions

import (
	"context"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// Instrumented wraps actions with a span and call metrics per invocation.
type Instrumented struct {
	next    engine.ResourceActions
	name    string
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// Instrument decorates next. name labels the metrics and spans ("exec", "simulate").
func Instrument(next engine.ResourceActions, name string, tel *telemetry.Telemetry) *Instrumented {
	i := &Instrumented{next: next, name: name}
	if tel != nil {
		i.tracer = tel.Tracer
		i.metrics = tel.Metrics
	}
	return i
}

// Create implements engine.ResourceActions.
func (i *Instrumented) Create(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	var res engine.ActionResult
	err := telemetry.RecordActionOperation(ctx, i.tracer, i.metrics, i.name, req.Step, string(engine.PhaseCreate), func(ctx context.Context) error {
		var err error
		res, err = i.next.Create(ctx, req)
		return err
	})
	return res, err
}

// Configure implements engine.ResourceActions.
func (i *Instrumented) Configure(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	var res engine.ActionResult
	err := telemetry.RecordActionOperation(ctx, i.tracer, i.metrics, i.name, req.Step, string(engine.PhaseConfigure), func(ctx context.Context) error {
		var err error
		res, err = i.next.Configure(ctx, req)
		return err
	})
	return res, err
}
