// Package engine provides the checkpoint/resume orchestration core of deploykit.
//
// # Overview
//
// A deployment is an ordered catalog of named steps. Each step has an optional
// create phase, which produces a resource, and an optional configure phase,
// which operates on an existing resource. The orchestrator walks the catalog
// in order and persists a checkpoint after every completed phase, so a run
// interrupted at any point can be resumed by running again:
//
//  1. Validate - The catalog is built and validated once (NewCatalog)
//  2. Skip - Steps already satisfied in the progress store are skipped
//  3. Gate - Prerequisites are checked against the progress store
//  4. Act - Create and configure actions are invoked (ResourceActions)
//  5. Checkpoint - Every completed phase is durably recorded (ProgressStore)
//  6. Report - The run result and aggregate status are derived (Report)
//
// # Core Domain Types
//
//   - Step: A named unit of work with create and/or configure phases
//   - Prerequisite: A dependency on an earlier step, "satisfied" or "created"
//   - Catalog: The validated, ordered step list for one scenario
//   - RunContext: Environment parameters and resource IDs threaded through a run
//   - RunResult: The per-step outcomes of one run
//   - StatusReport: The per-step view of a progress store
//
// A step is satisfied when its record is configured, or when it has no
// configure phase and its record is created. Skipping, prerequisite checks,
// and the aggregate deployment status all use this one predicate.
//
// # Breaking Cycles
//
// Two resources that must reference each other are modelled as create steps
// followed by a configure-only step whose Target names the earlier step:
//
//	db := engine.Step{Name: "db", Create: true}
//	app := engine.Step{Name: "app", Create: true, Configure: true,
//	    Requires: []engine.Prerequisite{engine.After("db")}}
//	link := engine.Step{Name: "db-allow-app", Configure: true, Target: "db",
//	    Requires: []engine.Prerequisite{engine.AfterCreate("app")}}
//
// # Error Classification
//
// Errors are classified by how a run reacts to them:
//
//   - Precondition: A prerequisite is unmet. Always stops the run.
//   - Action: An external action failed. Stops hard steps; soft steps record
//     a warning and continue.
//   - Persistence: A checkpoint could not be written. Always stops the run;
//     the store must be inspected before the next run.
//   - Validation: The catalog or run request is invalid.
//
// # Example Usage
//
//	catalog, err := engine.NewCatalog("default", steps...)
//	backend, err := stores.NewFileBackend(dir)
//	store, err := stores.Load(ctx, backend, key)
//	orch := engine.NewOrchestrator(engine.WithParams(params))
//	result, err := orch.Run(ctx, catalog, store, actions)
//
// # Concurrency
//
// Steps run strictly sequentially. Concurrent runs against the same key must
// be prevented by the caller.
package engine
