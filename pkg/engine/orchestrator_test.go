package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// Mock actions for testing
type mockActions struct {
	mu            sync.Mutex
	calls         []string
	requests      map[string]ActionRequest
	failCreate    map[string]error
	failConfigure map[string]error
	cost          uint64
	onCall        func(call string)
}

func newMockActions() *mockActions {
	return &mockActions{
		requests:      make(map[string]ActionRequest),
		failCreate:    make(map[string]error),
		failConfigure: make(map[string]error),
		cost:          10,
	}
}

func (m *mockActions) Create(ctx context.Context, req ActionRequest) (ActionResult, error) {
	return m.call(ctx, "create:"+req.Step, req, m.failCreate[req.Step], ActionResult{ResourceID: "res-" + req.Step})
}

func (m *mockActions) Configure(ctx context.Context, req ActionRequest) (ActionResult, error) {
	return m.call(ctx, "configure:"+req.Step, req, m.failConfigure[req.Step], ActionResult{})
}

func (m *mockActions) call(ctx context.Context, call string, req ActionRequest, fail error, res ActionResult) (ActionResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.requests[call] = req
	hook := m.onCall
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if fail != nil {
		return ActionResult{}, fail
	}
	if err := ctx.Err(); err != nil {
		return ActionResult{}, err
	}
	res.Cost = m.cost
	return res, nil
}

func (m *mockActions) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockActions) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = make(map[string]ActionRequest)
	m.failCreate = make(map[string]error)
	m.failConfigure = make(map[string]error)
}

// Mock event publisher for testing
type mockEventPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *mockEventPublisher) Publish(event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func loadStore(t *testing.T, backend stores.Backend, env string, mode stores.Mode) *stores.Progress {
	t.Helper()
	store, err := stores.Load(context.Background(), backend, stores.Key{Environment: env, Scenario: "default", Mode: mode})
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}
	return store
}

// twoStepCatalog is A (create) followed by B (create+configure, requires A).
func twoStepCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog("default",
		Step{Name: "A", Create: true},
		Step{Name: "B", Create: true, Configure: true, Requires: []Prerequisite{After("A")}},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	return c
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(want) == 0 {
		want = []string{}
	}
	if len(got) == 0 {
		got = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	backend := stores.NewMemoryBackend()
	store := loadStore(t, backend, "dev", stores.ModeCommit)
	actions := newMockActions()
	params := map[string]string{"region": "eu-west-1"}

	orch := NewOrchestrator(WithParams(params))
	result, err := orch.Run(context.Background(), twoStepCatalog(t), store, actions)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertCalls(t, actions.getCalls(), "create:A", "create:B", "configure:B")

	if result.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", result.Status)
	}
	if result.TotalCost != 30 {
		t.Errorf("Expected total cost 30, got %d", result.TotalCost)
	}
	if result.RunID == "" {
		t.Error("Expected a run ID")
	}

	createB := actions.requests["create:B"]
	if createB.Inputs["A"] != "res-A" {
		t.Errorf("Expected create B to receive A's resource, got %v", createB.Inputs)
	}
	if createB.Params["region"] != "eu-west-1" {
		t.Errorf("Expected params to be passed, got %v", createB.Params)
	}
	if got := actions.requests["configure:B"].ResourceID; got != "res-B" {
		t.Errorf("Expected configure B on res-B, got %s", got)
	}

	rec, ok := store.Get("B")
	if !ok || !rec.Created || !rec.Configured || rec.ResourceID != "res-B" {
		t.Errorf("Unexpected record for B: %+v", rec)
	}
	if rec.CreateCost != 10 || rec.ConfigureCost != 10 {
		t.Errorf("Expected costs to be recorded, got %+v", rec)
	}

	// One checkpoint per completed phase.
	if backend.Saves() != 3 {
		t.Errorf("Expected 3 saves, got %d", backend.Saves())
	}
	if doc := store.Snapshot(); doc.DeploymentStatus != stores.StatusCompleted {
		t.Errorf("Expected persisted status completed, got %s", doc.DeploymentStatus)
	}
}

func TestOrchestrator_IdempotentResume(t *testing.T) {
	backend := stores.NewMemoryBackend()
	catalog := twoStepCatalog(t)
	actions := newMockActions()
	orch := NewOrchestrator()

	if _, err := orch.Run(context.Background(), catalog, loadStore(t, backend, "dev", stores.ModeCommit), actions); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	saves := backend.Saves()
	actions.reset()

	// A fresh load models a new process.
	result, err := orch.Run(context.Background(), catalog, loadStore(t, backend, "dev", stores.ModeCommit), actions)
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	assertCalls(t, actions.getCalls())
	if backend.Saves() != saves {
		t.Errorf("Expected no saves on a completed store, got %d new", backend.Saves()-saves)
	}
	if got := result.Summary()[OutcomeSkipped]; got != 2 {
		t.Errorf("Expected 2 skipped steps, got %d", got)
	}
	if result.TotalCost != 0 {
		t.Errorf("Expected no cost for a skipped run, got %d", result.TotalCost)
	}
}

func TestOrchestrator_ResumeAfterHardFailure(t *testing.T) {
	backend := stores.NewMemoryBackend()
	catalog := twoStepCatalog(t)
	actions := newMockActions()
	actions.failConfigure["B"] = errors.New("api unavailable")
	orch := NewOrchestrator()

	result, err := orch.Run(context.Background(), catalog, loadStore(t, backend, "dev", stores.ModeCommit), actions)
	if err == nil {
		t.Fatal("Expected run to fail")
	}
	if !IsActionFailure(err) {
		t.Errorf("Expected action failure, got %v", err)
	}
	if result.FailedStep != "B" {
		t.Errorf("Expected failed step B, got %s", result.FailedStep)
	}
	if result.Status != StatusInProgress {
		t.Errorf("Expected status in_progress, got %s", result.Status)
	}

	store := loadStore(t, backend, "dev", stores.ModeCommit)
	rec, _ := store.Get("B")
	if !rec.Created || rec.Configured {
		t.Errorf("Expected B created but not configured, got %+v", rec)
	}

	actions.reset()
	result, err = orch.Run(context.Background(), catalog, store, actions)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	// Only the missing phase runs, on the resource created earlier.
	assertCalls(t, actions.getCalls(), "configure:B")
	if got := actions.requests["configure:B"].ResourceID; got != "res-B" {
		t.Errorf("Expected configure on res-B, got %s", got)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", result.Status)
	}
	if step, _ := result.Step("B"); !reflect.DeepEqual(step.Phases, []Phase{PhaseConfigure}) {
		t.Errorf("Expected only configure to run, got %v", step.Phases)
	}
}

func TestOrchestrator_HardFailureStopsRun(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "A", Create: true},
		Step{Name: "B", Create: true},
		Step{Name: "C", Create: true},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.failCreate["B"] = errors.New("quota exceeded")

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(context.Background(), catalog, store, actions)
	if err == nil {
		t.Fatal("Expected run to fail")
	}

	assertCalls(t, actions.getCalls(), "create:A", "create:B")
	if step, _ := result.Step("C"); step.Outcome != OutcomeNotRun {
		t.Errorf("Expected C not run, got %s", step.Outcome)
	}
	if _, ok := store.Get("B"); ok {
		t.Error("Expected no record for hard-failed B")
	}
	if !result.Failed() {
		t.Error("Expected result to report failure")
	}
}

func TestOrchestrator_CrashSafeCheckpoint(t *testing.T) {
	backend := stores.NewMemoryBackend()
	persistErr := errors.New("disk full")
	backend.SaveHook = func(_ stores.Key, doc *stores.Document) error {
		if _, ok := doc.Steps["B"]; ok {
			return persistErr
		}
		return nil
	}

	catalog := twoStepCatalog(t)
	actions := newMockActions()
	store := loadStore(t, backend, "dev", stores.ModeCommit)

	result, err := NewOrchestrator().Run(context.Background(), catalog, store, actions)
	if !IsPersistence(err) {
		t.Fatalf("Expected persistence error, got %v", err)
	}
	if !errors.Is(err, persistErr) {
		t.Errorf("Expected persistence error to wrap cause, got %v", err)
	}
	if !result.PersistenceSuspect {
		t.Error("Expected persistence suspect flag")
	}

	// The in-memory store never runs ahead of the durable one.
	if _, ok := store.Get("B"); ok {
		t.Error("Expected B to be absent after a failed checkpoint")
	}
	reloaded := loadStore(t, backend, "dev", stores.ModeCommit)
	if reloaded.Len() != 1 {
		t.Errorf("Expected 1 durable record, got %d", reloaded.Len())
	}

	// The unrecorded create is repeated on the next run.
	backend.SaveHook = nil
	actions.reset()
	if _, err := NewOrchestrator().Run(context.Background(), catalog, reloaded, actions); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	assertCalls(t, actions.getCalls(), "create:B", "configure:B")
}

func TestOrchestrator_SoftCreateFailure(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "dns", Create: true, Policy: PolicySoft},
		Step{Name: "app", Create: true, Requires: []Prerequisite{After("dns")}},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.failCreate["dns"] = errors.New("zone not found")
	publisher := &mockEventPublisher{}

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator(WithEventPublisher(publisher)).Run(context.Background(), catalog, store, actions)
	if err != nil {
		t.Fatalf("Expected soft failure to be tolerated, got %v", err)
	}

	step, _ := result.Step("dns")
	if step.Outcome != OutcomeSoftFailed {
		t.Errorf("Expected dns soft-failed, got %s", step.Outcome)
	}
	if !IsActionFailure(step.Error) {
		t.Errorf("Expected action failure on step result, got %v", step.Error)
	}
	if len(result.Warnings()) != 1 {
		t.Errorf("Expected 1 warning, got %v", result.Warnings())
	}

	rec, _ := store.Get("dns")
	if rec.Created || !rec.Configured || rec.ResourceID != "" || rec.Warning == "" {
		t.Errorf("Unexpected soft-failed record: %+v", rec)
	}

	// The dependent runs without an input from the soft-failed step.
	if inputs := actions.requests["create:app"].Inputs; len(inputs) != 0 {
		t.Errorf("Expected no inputs, got %v", inputs)
	}
	if result.Status != StatusCompleted {
		t.Errorf("Expected status completed, got %s", result.Status)
	}

	found := false
	for _, typ := range publisher.types() {
		if typ == telemetry.EventTypeStepSoftFailed {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a soft failure event, got %v", publisher.types())
	}
}

func TestOrchestrator_SoftConfigureFailureKeepsResource(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "cache", Create: true, Configure: true, Policy: PolicySoft},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.failConfigure["cache"] = errors.New("tuning rejected")

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(context.Background(), catalog, store, actions)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec, _ := store.Get("cache")
	if !rec.Created || !rec.Configured || rec.ResourceID != "res-cache" || rec.Warning == "" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.CreateCost != 10 {
		t.Errorf("Expected create cost to be kept, got %d", rec.CreateCost)
	}
	if step, _ := result.Step("cache"); step.ResourceID != "res-cache" {
		t.Errorf("Expected resource ID on step result, got %q", step.ResourceID)
	}
}

func TestOrchestrator_PreconditionAfterSoftCreate(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "bucket", Create: true, Policy: PolicySoft},
		Step{Name: "policy", Create: true, Requires: []Prerequisite{AfterCreate("bucket")}, Policy: PolicySoft},
		Step{Name: "cdn", Create: true},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.failCreate["bucket"] = errors.New("name taken")

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(context.Background(), catalog, store, actions)
	if !IsPrecondition(err) {
		t.Fatalf("Expected precondition error, got %v", err)
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != ErrCodePrerequisiteUnmet || engErr.Step != "policy" {
		t.Errorf("Unexpected error details: %+v", engErr)
	}

	// A soft policy never absorbs a precondition failure.
	assertCalls(t, actions.getCalls(), "create:bucket")
	if result.FailedStep != "policy" {
		t.Errorf("Expected failed step policy, got %s", result.FailedStep)
	}
	if step, _ := result.Step("cdn"); step.Outcome != OutcomeNotRun {
		t.Errorf("Expected cdn not run, got %s", step.Outcome)
	}
}

func TestOrchestrator_ConfigureOnlyTargetBreaksCycle(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "db", Create: true},
		Step{Name: "app", Create: true, Configure: true, Requires: []Prerequisite{After("db")}},
		Step{Name: "db-allow-app", Configure: true, Target: "db", Requires: []Prerequisite{AfterCreate("app")}},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)

	if _, err := NewOrchestrator().Run(context.Background(), catalog, store, actions); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	assertCalls(t, actions.getCalls(), "create:db", "create:app", "configure:app", "configure:db-allow-app")

	req := actions.requests["configure:db-allow-app"]
	if req.ResourceID != "res-db" {
		t.Errorf("Expected configure on target resource res-db, got %s", req.ResourceID)
	}
	if req.Inputs["app"] != "res-app" {
		t.Errorf("Expected app resource as input, got %v", req.Inputs)
	}

	rec, _ := store.Get("db-allow-app")
	if rec.ResourceID != "" || rec.Created || !rec.Configured {
		t.Errorf("Unexpected configure-only record: %+v", rec)
	}
}

func TestOrchestrator_ConfigureRequires(t *testing.T) {
	catalog, err := NewCatalog("default",
		Step{Name: "vpc", Create: true},
		Step{Name: "lb", Create: true, Policy: PolicySoft},
		Step{
			Name:              "service",
			Create:            true,
			Configure:         true,
			Requires:          []Prerequisite{After("vpc")},
			ConfigureRequires: []Prerequisite{AfterCreate("lb")},
		},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.failCreate["lb"] = errors.New("no capacity")

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(context.Background(), catalog, store, actions)
	if !IsPrecondition(err) {
		t.Fatalf("Expected precondition error, got %v", err)
	}

	// The create phase completed and was checkpointed before the gate.
	assertCalls(t, actions.getCalls(), "create:vpc", "create:lb", "create:service")
	rec, _ := store.Get("service")
	if !rec.Created || rec.Configured {
		t.Errorf("Expected service created but not configured, got %+v", rec)
	}
	if step, _ := result.Step("service"); step.Outcome != OutcomeHardFailed {
		t.Errorf("Expected service hard-failed, got %s", step.Outcome)
	}
}

func TestOrchestrator_PreviewIsolation(t *testing.T) {
	backend := stores.NewMemoryBackend()
	catalog := twoStepCatalog(t)

	if _, err := NewOrchestrator().Run(context.Background(), catalog, loadStore(t, backend, "prod", stores.ModeCommit), newMockActions()); err != nil {
		t.Fatalf("Commit run failed: %v", err)
	}
	committed := loadStore(t, backend, "prod", stores.ModeCommit).Snapshot()

	preview := loadStore(t, backend, "prod", stores.ModePreview)
	if preview.Len() != 0 {
		t.Fatalf("Expected empty preview store, got %d records", preview.Len())
	}

	actions := newMockActions()
	result, err := NewOrchestrator(WithMode(stores.ModePreview)).Run(context.Background(), catalog, preview, actions)
	if err != nil {
		t.Fatalf("Preview run failed: %v", err)
	}
	if len(actions.getCalls()) != 3 {
		t.Errorf("Expected preview to run every phase, got %v", actions.getCalls())
	}
	if result.Mode != stores.ModePreview {
		t.Errorf("Expected preview mode on result, got %s", result.Mode)
	}
	if actions.requests["create:A"].Mode != stores.ModePreview {
		t.Error("Expected actions to see preview mode")
	}

	after := loadStore(t, backend, "prod", stores.ModeCommit).Snapshot()
	if !reflect.DeepEqual(committed, after) {
		t.Error("Preview run modified the commit store")
	}
}

func TestOrchestrator_ModeMismatch(t *testing.T) {
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModePreview)

	result, err := NewOrchestrator().Run(context.Background(), twoStepCatalog(t), store, newMockActions())
	if !errors.Is(err, ErrModeMismatch) {
		t.Fatalf("Expected mode mismatch, got %v", err)
	}
	if result != nil {
		t.Error("Expected no result for a rejected run")
	}

	var ee *EngineError
	if !errors.As(err, &ee) || ee.Details["store_mode"] != "preview" || ee.Details["run_mode"] != "commit" {
		t.Errorf("Expected both modes in error details, got %+v", err)
	}
}

func TestOrchestrator_ScenarioMismatch(t *testing.T) {
	catalog, err := NewCatalog("other", Step{Name: "A", Create: true})
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)

	_, err = NewOrchestrator().Run(context.Background(), catalog, store, newMockActions())
	if !errors.Is(err, ErrScenarioMismatch) {
		t.Fatalf("Expected scenario mismatch, got %v", err)
	}
}

func TestOrchestrator_EnvironmentIsolation(t *testing.T) {
	backend := stores.NewMemoryBackend()
	catalog := twoStepCatalog(t)

	staging := loadStore(t, backend, "staging", stores.ModeCommit)
	if _, err := NewOrchestrator().Run(context.Background(), catalog, staging, newMockActions()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	prod := loadStore(t, backend, "prod", stores.ModeCommit)
	if prod.Len() != 0 {
		t.Errorf("Expected prod untouched, got %d records", prod.Len())
	}

	actions := newMockActions()
	if _, err := NewOrchestrator().Run(context.Background(), catalog, prod, actions); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(actions.getCalls()) != 3 {
		t.Errorf("Expected prod to run every phase, got %v", actions.getCalls())
	}
}

func TestOrchestrator_CancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := twoStepCatalog(t)
	actions := newMockActions()
	actions.onCall = func(call string) {
		if call == "create:A" {
			cancel()
		}
	}

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(ctx, catalog, store, &ignoreCancelActions{mockActions: actions})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !result.Cancelled {
		t.Error("Expected cancelled flag")
	}

	// A completed action is recorded even though the context was cancelled.
	if rec, ok := store.Get("A"); !ok || !rec.Created {
		t.Errorf("Expected A recorded, got %+v", rec)
	}
	if step, _ := result.Step("B"); step.Outcome != OutcomeNotRun {
		t.Errorf("Expected B not run, got %s", step.Outcome)
	}
}

func TestOrchestrator_CancelledSoftStepIsNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog, err := NewCatalog("default", Step{Name: "A", Create: true, Policy: PolicySoft})
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	actions := newMockActions()
	actions.onCall = func(string) { cancel() }

	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)
	result, err := NewOrchestrator().Run(ctx, catalog, store, actions)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !result.Cancelled {
		t.Error("Expected cancelled flag")
	}
	if store.Len() != 0 {
		t.Error("Expected cancellation not to be recorded as a soft failure")
	}
}

// ignoreCancelActions succeeds regardless of the context.
type ignoreCancelActions struct {
	*mockActions
}

func (a *ignoreCancelActions) Create(_ context.Context, req ActionRequest) (ActionResult, error) {
	return a.mockActions.Create(context.Background(), req)
}

func TestOrchestrator_CreateWithoutResourceID(t *testing.T) {
	catalog, err := NewCatalog("default", Step{Name: "A", Create: true})
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)

	_, err = NewOrchestrator().Run(context.Background(), catalog, store, emptyIDActions{})
	if !IsActionFailure(err) {
		t.Fatalf("Expected action failure, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("Expected no record for a create without a resource ID")
	}
}

type emptyIDActions struct{}

func (emptyIDActions) Create(context.Context, ActionRequest) (ActionResult, error) {
	return ActionResult{}, nil
}

func (emptyIDActions) Configure(context.Context, ActionRequest) (ActionResult, error) {
	return ActionResult{}, nil
}

func TestOrchestrator_Events(t *testing.T) {
	publisher := &mockEventPublisher{}
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)

	result, err := NewOrchestrator(WithEventPublisher(publisher)).Run(context.Background(), twoStepCatalog(t), store, newMockActions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{
		telemetry.EventTypeRunStarted,
		telemetry.EventTypeStepStarted,
		telemetry.EventTypeStepSucceeded,
		telemetry.EventTypeStepStarted,
		telemetry.EventTypeStepSucceeded,
		telemetry.EventTypeRunCompleted,
	}
	if got := publisher.types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected events %v, got %v", want, got)
	}
	for _, e := range publisher.events {
		if e.RunID != result.RunID || e.Environment != "dev" || e.Scenario != "default" {
			t.Errorf("Event missing run context: %+v", e)
		}
	}
}

func TestOrchestrator_FailedRunEvent(t *testing.T) {
	publisher := &mockEventPublisher{}
	actions := newMockActions()
	actions.failCreate["A"] = fmt.Errorf("boom")
	store := loadStore(t, stores.NewMemoryBackend(), "dev", stores.ModeCommit)

	if _, err := NewOrchestrator(WithEventPublisher(publisher)).Run(context.Background(), twoStepCatalog(t), store, actions); err == nil {
		t.Fatal("Expected run to fail")
	}

	types := publisher.types()
	if types[len(types)-1] != telemetry.EventTypeRunFailed {
		t.Errorf("Expected last event run.failed, got %v", types)
	}
	last := publisher.events[len(publisher.events)-1]
	if last.Data["class"] != string(ErrorClassAction) || last.Step != "A" {
		t.Errorf("Unexpected failure event: %+v", last)
	}
}

func TestOrchestrator_RejectsMissingCollaborators(t *testing.T) {
	_, err := NewOrchestrator().Run(context.Background(), nil, nil, nil)
	if !IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
