package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// Orchestrator runs a catalog against a progress store, one step at a time.
// It skips satisfied steps, enforces prerequisites, invokes actions, and
// checkpoints after every completed phase.
type Orchestrator struct {
	mode    stores.Mode
	params  map[string]string
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  EventPublisher
	newID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode sets the run mode. Stores must carry the same mode.
func WithMode(mode stores.Mode) Option {
	return func(o *Orchestrator) { o.mode = mode }
}

// WithParams sets the environment parameters passed to every action.
func WithParams(params map[string]string) Option {
	return func(o *Orchestrator) { o.params = params }
}

// WithEventPublisher sets where orchestration events are published.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithTelemetry wires logger, metrics, tracer and events from a bundle.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		if tel == nil {
			return
		}
		if tel.Logger != nil {
			o.logger = tel.Logger.NewComponentLogger("orchestrator")
		}
		if tel.Tracer != nil {
			o.tracer = tel.Tracer
		}
		o.metrics = tel.Metrics
		if tel.Events != nil {
			o.events = tel.Events
		}
	}
}

// NewOrchestrator creates an orchestrator. The default mode is commit.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		mode:   stores.ModeCommit,
		logger: telemetry.NewNopLogger(),
		tracer: telemetry.NewNopTracer(),
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mode returns the orchestrator's run mode.
func (o *Orchestrator) Mode() stores.Mode {
	return o.mode
}

// Run executes the catalog against store using actions. It stops at the
// first hard failure, leaving the store as of the last recorded checkpoint.
//
// The returned error is nil for a successful run and equals result.Err
// otherwise. A nil result means the run was rejected before it started.
func (o *Orchestrator) Run(ctx context.Context, catalog *Catalog, store ProgressStore, actions ResourceActions) (*RunResult, error) {
	if catalog == nil || store == nil || actions == nil {
		return nil, NewValidationError("catalog, store and actions are required", nil)
	}

	key := store.Key()
	if key.Mode != o.mode {
		return nil, NewValidationError(
			fmt.Sprintf("store %s has mode %s but orchestrator runs in %s mode", key, key.Mode, o.mode), nil,
		).WithCode(ErrCodeModeMismatch).
			WithDetail("store_mode", string(key.Mode)).
			WithDetail("run_mode", string(o.mode))
	}
	if key.Scenario != catalog.Scenario() {
		return nil, NewValidationError(
			fmt.Sprintf("store %s belongs to scenario %s, catalog is %s", key, key.Scenario, catalog.Scenario()), nil,
		).WithCode(ErrCodeScenarioMismatch)
	}

	store.SetStatusFunc(StatusFunc(catalog))

	run := &runState{
		o:       o,
		catalog: catalog,
		store:   store,
		actions: actions,
		rc:      newRunContext(o.newID(), key, o.params),
	}
	run.logger = o.logger.WithRunID(run.rc.RunID).WithEnvironment(key.Environment, key.Scenario)
	for _, s := range catalog.steps {
		if rec, ok := store.Get(s.Name); ok && rec.ResourceID != "" {
			run.rc.Resources[s.Name] = rec.ResourceID
		}
	}

	result := &RunResult{
		RunID:       run.rc.RunID,
		Environment: key.Environment,
		Scenario:    key.Scenario,
		Mode:        key.Mode,
		Steps:       make([]StepResult, 0, catalog.Len()),
		StartedAt:   time.Now(),
	}

	ctx, span := o.tracer.StartRunSpan(ctx, result.RunID, key.Environment, key.Scenario, string(key.Mode))
	defer span.End()

	o.metrics.RecordRunStarted(key.Environment, key.Scenario, string(key.Mode))
	run.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		Message: fmt.Sprintf("run started for %s", key),
		Level:   telemetry.EventLevelInfo,
		Data:    map[string]interface{}{"steps": catalog.Len()},
	})
	run.logger.Infof("run started (%d steps, mode=%s)", catalog.Len(), key.Mode)

	for i, step := range catalog.steps {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			result.Err = err
			result.Steps = append(result.Steps, notRun(catalog.steps[i:])...)
			break
		}

		sr, err := run.step(ctx, step)
		result.TotalCost += sr.CreateCost + sr.ConfigureCost
		result.Steps = append(result.Steps, sr)
		if err != nil {
			result.FailedStep = step.Name
			result.Err = err
			result.PersistenceSuspect = IsPersistence(err)
			result.Cancelled = ctx.Err() != nil && ClassOf(err) == ""
			result.Steps = append(result.Steps, notRun(catalog.steps[i+1:])...)
			break
		}
	}

	result.Status = Status(catalog, store)
	result.CompletedAt = time.Now()
	run.finish(span, result)

	return result, result.Err
}

// runState holds the per-run collaborators so each step sees the same context.
type runState struct {
	o       *Orchestrator
	catalog *Catalog
	store   ProgressStore
	actions ResourceActions
	rc      *RunContext
	logger  *telemetry.Logger
}

// step executes one step. A non-nil error stops the run.
func (r *runState) step(ctx context.Context, step Step) (StepResult, error) {
	start := time.Now()
	sr := StepResult{Step: step.Name}
	logger := r.logger.WithStep(step.Name)

	rec, found := r.store.Get(step.Name)
	if step.SatisfiedBy(rec, found) {
		sr.Outcome = OutcomeSkipped
		sr.ResourceID = rec.ResourceID
		logger.Debug("skipped")
		r.o.metrics.RecordStep("none", string(OutcomeSkipped), 0)
		r.publish(telemetry.Event{
			Type:       telemetry.EventTypeStepSkipped,
			Step:       step.Name,
			ResourceID: rec.ResourceID,
			Message:    fmt.Sprintf("step %s already satisfied", step.Name),
			Level:      telemetry.EventLevelInfo,
		})
		return sr, nil
	}

	if p, unmet := r.catalog.firstUnmet(r.store, step.Requires); unmet {
		return r.fail(logger, sr, start, "", NewPreconditionError(step.Name, p))
	}

	r.publish(telemetry.Event{
		Type:    telemetry.EventTypeStepStarted,
		Step:    step.Name,
		Message: fmt.Sprintf("step %s started", step.Name),
		Level:   telemetry.EventLevelInfo,
	})

	if step.Create && !(found && rec.Created) {
		req := r.rc.request(step.Name, "", r.rc.inputs(step.Requires))
		res, err := r.invoke(ctx, step.Name, PhaseCreate, req)
		if err == nil && res.ResourceID == "" {
			err = fmt.Errorf("create action returned no resource ID")
		}
		sr.Phases = append(sr.Phases, PhaseCreate)
		if err != nil {
			return r.actionFailed(ctx, logger, sr, start, step, PhaseCreate, stores.Record{}, err)
		}

		rec = stores.Record{ResourceID: res.ResourceID, Created: true, CreateCost: res.Cost}
		if err := r.checkpoint(ctx, step.Name, rec); err != nil {
			return r.fail(logger, sr, start, PhaseCreate, NewPersistenceError(step.Name, PhaseCreate, err))
		}
		found = true
		r.rc.Resources[step.Name] = res.ResourceID
		sr.ResourceID = res.ResourceID
		sr.CreateCost = res.Cost
		r.o.metrics.RecordCost(r.rc.Environment, string(PhaseCreate), res.Cost)
		logger.WithResourceID(res.ResourceID).WithField("cost", res.Cost).Info("created")
	}

	if step.Configure && !rec.Configured {
		gate := step.ConfigureRequires
		if step.Target != "" {
			gate = append([]Prerequisite{AfterCreate(step.Target)}, gate...)
		}
		if p, unmet := r.catalog.firstUnmet(r.store, gate); unmet {
			return r.fail(logger, sr, start, PhaseConfigure, NewPreconditionError(step.Name, p))
		}

		resourceID := rec.ResourceID
		if step.Target != "" {
			resourceID = r.rc.Resources[step.Target]
		}
		req := r.rc.request(step.Name, resourceID, r.rc.inputs(step.Requires, step.ConfigureRequires))
		res, err := r.invoke(ctx, step.Name, PhaseConfigure, req)
		sr.Phases = append(sr.Phases, PhaseConfigure)
		if err != nil {
			return r.actionFailed(ctx, logger, sr, start, step, PhaseConfigure, rec, err)
		}

		rec.Configured = true
		rec.ConfigureCost = res.Cost
		if err := r.checkpoint(ctx, step.Name, rec); err != nil {
			return r.fail(logger, sr, start, PhaseConfigure, NewPersistenceError(step.Name, PhaseConfigure, err))
		}
		sr.ConfigureCost = res.Cost
		r.o.metrics.RecordCost(r.rc.Environment, string(PhaseConfigure), res.Cost)
		logger.WithResourceID(resourceID).WithField("cost", res.Cost).Info("configured")
	}

	sr.Outcome = OutcomeSucceeded
	sr.ResourceID = rec.ResourceID
	sr.Duration = time.Since(start)
	r.publish(telemetry.Event{
		Type:       telemetry.EventTypeStepSucceeded,
		Step:       step.Name,
		ResourceID: rec.ResourceID,
		Message:    fmt.Sprintf("step %s succeeded", step.Name),
		Level:      telemetry.EventLevelInfo,
		Data: map[string]interface{}{
			"create_cost":    sr.CreateCost,
			"configure_cost": sr.ConfigureCost,
		},
	})
	return sr, nil
}

// invoke calls one action phase inside a step span.
func (r *runState) invoke(ctx context.Context, step string, phase Phase, req ActionRequest) (ActionResult, error) {
	ctx, span := r.o.tracer.StartStepSpan(ctx, step, string(phase))
	defer span.End()
	ctx = r.logger.WithStep(step).WithField("phase", string(phase)).WithContext(ctx)

	start := time.Now()
	var (
		res ActionResult
		err error
	)
	switch phase {
	case PhaseCreate:
		res, err = r.actions.Create(ctx, req)
	default:
		res, err = r.actions.Configure(ctx, req)
	}

	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		telemetry.RecordError(span, err)
	} else {
		span.SetAttributes(telemetry.AttrResourceID.String(res.ResourceID), telemetry.AttrCost.Int64(int64(res.Cost)))
		telemetry.RecordSuccess(span)
	}
	r.o.metrics.RecordStep(string(phase), outcome, time.Since(start))
	return res, err
}

// actionFailed applies the step's failure policy to a failed action. rec is
// the record as of the last checkpoint, used to keep create results when a
// configure phase soft-fails.
func (r *runState) actionFailed(ctx context.Context, logger *telemetry.Logger, sr StepResult, start time.Time, step Step, phase Phase, rec stores.Record, cause error) (StepResult, error) {
	// A cancelled run must not record a cancellation as a tolerated failure.
	if ctx.Err() != nil {
		return r.fail(logger, sr, start, phase, cause)
	}

	failure := NewActionFailure(step.Name, phase, cause)
	if step.EffectivePolicy() == PolicyHard {
		return r.fail(logger, sr, start, phase, failure)
	}

	r.o.metrics.RecordError(string(ErrorClassAction))
	rec.Configured = true
	rec.Warning = fmt.Sprintf("%s failed: %v", phase, cause)
	if err := r.checkpoint(ctx, step.Name, rec); err != nil {
		return r.fail(logger, sr, start, phase, NewPersistenceError(step.Name, phase, err))
	}

	sr.Outcome = OutcomeSoftFailed
	sr.ResourceID = rec.ResourceID
	sr.Warning = rec.Warning
	sr.Error = failure
	sr.Duration = time.Since(start)
	logger.WithError(cause).Warnf("%s failed, continuing (soft policy)", phase)
	r.publish(telemetry.Event{
		Type:       telemetry.EventTypeStepSoftFailed,
		Step:       step.Name,
		ResourceID: rec.ResourceID,
		Message:    fmt.Sprintf("step %s %s failed and was tolerated", step.Name, phase),
		Level:      telemetry.EventLevelWarning,
		Data:       map[string]interface{}{"phase": string(phase), "reason": cause.Error()},
	})
	return sr, nil
}

// fail marks the step hard-failed and returns err as the run-stopping error.
func (r *runState) fail(logger *telemetry.Logger, sr StepResult, start time.Time, phase Phase, err error) (StepResult, error) {
	sr.Outcome = OutcomeHardFailed
	sr.Error = err
	sr.Duration = time.Since(start)

	class := ClassOf(err)
	if class == "" {
		class = "cancelled"
	}
	r.o.metrics.RecordError(string(class))
	logger.WithError(err).WithField("class", string(class)).Error("step failed")

	data := map[string]interface{}{"class": string(class), "reason": err.Error()}
	if phase != "" {
		data["phase"] = string(phase)
	}
	r.publish(telemetry.Event{
		Type:    telemetry.EventTypeStepFailed,
		Step:    sr.Step,
		Message: fmt.Sprintf("step %s failed: %v", sr.Step, err),
		Level:   telemetry.EventLevelError,
		Data:    data,
	})
	return sr, err
}

// checkpoint persists a record. Cancellation is detached: an action that
// already took effect must be recorded.
func (r *runState) checkpoint(ctx context.Context, step string, rec stores.Record) error {
	return r.store.Record(context.WithoutCancel(ctx), step, rec)
}

// finish records run-level metrics, events and span status.
func (r *runState) finish(span trace.Span, result *RunResult) {
	outcome := "succeeded"
	switch {
	case result.Cancelled:
		outcome = "cancelled"
	case result.Err != nil:
		outcome = "failed"
	}
	duration := result.CompletedAt.Sub(result.StartedAt)
	r.o.metrics.RecordRunCompleted(r.rc.Environment, r.rc.Scenario, outcome, duration)

	span.SetAttributes(
		telemetry.AttrRunResult.String(outcome),
		telemetry.AttrCost.Int64(int64(result.TotalCost)),
	)

	summary := result.Summary()
	data := map[string]interface{}{
		"status":      string(result.Status),
		"total_cost":  result.TotalCost,
		"duration":    duration.String(),
		"succeeded":   summary[OutcomeSucceeded],
		"skipped":     summary[OutcomeSkipped],
		"soft_failed": summary[OutcomeSoftFailed],
	}

	if result.Err == nil && !result.Cancelled {
		telemetry.RecordSuccess(span)
		r.logger.WithField("status", string(result.Status)).WithField("cost", result.TotalCost).
			Infof("run completed in %s", duration)
		r.publish(telemetry.Event{
			Type:    telemetry.EventTypeRunCompleted,
			Message: fmt.Sprintf("run completed with status %s", result.Status),
			Level:   telemetry.EventLevelInfo,
			Data:    data,
		})
		return
	}

	err := result.Err
	if err == nil {
		err = context.Canceled
	}
	telemetry.RecordError(span, err)
	if class := ClassOf(err); class != "" {
		span.SetAttributes(telemetry.AttrErrorClass.String(string(class)))
		data["class"] = string(class)
	}
	data["reason"] = err.Error()
	data["cancelled"] = result.Cancelled
	data["failed_step"] = result.FailedStep
	data["persistence_suspect"] = result.PersistenceSuspect

	r.logger.WithError(err).WithField("failed_step", result.FailedStep).Error("run failed")
	r.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunFailed,
		Step:    result.FailedStep,
		Message: fmt.Sprintf("run failed: %v", err),
		Level:   telemetry.EventLevelError,
		Data:    data,
	})
}

func (r *runState) publish(event telemetry.Event) {
	if r.o.events == nil {
		return
	}
	event.Source = "orchestrator"
	event.RunID = r.rc.RunID
	event.Environment = r.rc.Environment
	event.Scenario = r.rc.Scenario
	event.Mode = string(r.rc.Mode)
	if err := r.o.events.Publish(event); err != nil {
		r.logger.WithError(err).Debug("failed to publish event")
	}
}

func notRun(steps []Step) []StepResult {
	out := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepResult{Step: s.Name, Outcome: OutcomeNotRun})
	}
	return out
}
