// Package policy evaluates Rego preflight policies before a deployment run.
//
// # Overview
//
// Policies are OPA Rego modules evaluated against an Input document that
// describes the run: the target environment, the scenario and mode, every
// catalog step with its prerequisites, and the current progress records.
// Each module contributes violations through a `deny` set; entries are either
// a message string or an object with "message" and optional "step" and
// "severity" fields.
//
// Violations with severity error or critical block the run. Info and warning
// violations are reported but do not block.
//
// # Built-in Policies
//
//   - protected-environment (error): commit runs against protected
//     environments need explicit approval.
//   - soft-create-dependency (warning): a soft create step whose resource is
//     needed by later steps through a created prerequisite or a target.
//   - progress-integrity (warning): records marked created without a resource ID.
//   - orphaned-progress (info): records for steps no longer in the scenario.
//
// # Custom Policies
//
// Extra .rego or .json files can be loaded with Engine.LoadPolicies. For
// .rego files the leading comment block is the description, and a
// "severity: <level>" line in it sets the default severity:
//
//	# Steps must not be named "tmp".
//	# severity: error
//	package custom.names
//
//	import rego.v1
//
//	deny contains violation if {
//		some step in input.steps
//		step.name == "tmp"
//		violation := {"message": "temporary step", "step": step.name}
//	}
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	input := policy.NewInput(catalog, policy.EnvironmentInput{ID: "prod", Protected: true}, stores.ModeCommit, progress.Snapshot())
//	result, err := eng.Evaluate(ctx, input)
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(); err != nil {
//	    return err
//	}
package policy
