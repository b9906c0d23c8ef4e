package engine

import (
	"context"

	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// ResourceActions performs the side effects of steps. The engine never acts
// on the target itself. Calls are synchronous and must be safe to repeat
// after a prior failure with the same logical inputs.
type ResourceActions interface {
	// Create creates the step's resource and returns its identifier.
	Create(ctx context.Context, req ActionRequest) (ActionResult, error)

	// Configure invokes a configuration call on req.ResourceID.
	Configure(ctx context.Context, req ActionRequest) (ActionResult, error)
}

// ProgressStore is the durable record of step outcomes for one key.
// *stores.Progress implements it.
type ProgressStore interface {
	stores.Reader

	// Key returns the (environment, scenario, mode) key of the store.
	Key() stores.Key

	// Record inserts or overwrites a step record and persists the whole
	// store before returning.
	Record(ctx context.Context, step string, rec stores.Record) error

	// SetStatusFunc installs the deploymentStatus derivation used on save.
	SetStatusFunc(fn stores.StatusFunc)
}

// EventPublisher receives orchestration events. *telemetry.EventPublisher implements it.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}
