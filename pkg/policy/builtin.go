package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedEnvironmentPolicy(),
		softCreateDependencyPolicy(),
		progressIntegrityPolicy(),
		orphanedProgressPolicy(),
	}
}

// protectedEnvironmentPolicy blocks commit runs against protected environments.
func protectedEnvironmentPolicy() Policy {
	return Policy{
		Name:        "protected-environment",
		Description: "Commit runs against protected environments require explicit approval",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package deploykit.policies.protected

import rego.v1

deny contains violation if {
	input.environment.protected
	input.mode == "commit"
	not input.allow_protected
	violation := {
		"message": sprintf("environment %s is protected and the run was not explicitly allowed", [input.environment.id]),
	}
}`,
	}
}

// softCreateDependencyPolicy warns when a soft create step produces a
// resource that later steps need. A soft failure records the step as done
// without a resource, so those dependents fail their preconditions.
func softCreateDependencyPolicy() Policy {
	return Policy{
		Name:        "soft-create-dependency",
		Description: "Soft create steps should not produce resources that other steps depend on",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package deploykit.policies.softdeps

import rego.v1

created_dependents(name) := {other.name |
	some other in input.steps
	some req in array.concat(other.requires, other.configure_requires)
	req.step == name
	req.phase == "created"
}

target_dependents(name) := {other.name |
	some other in input.steps
	other.target == name
}

deny contains violation if {
	some step in input.steps
	step.policy == "soft"
	step.create
	deps := created_dependents(step.name) | target_dependents(step.name)
	count(deps) > 0
	violation := {
		"message": sprintf("soft step %s creates a resource needed by %s; a failure will block them", [step.name, concat(", ", sort(deps))]),
		"step": step.name,
	}
}`,
	}
}

// progressIntegrityPolicy flags records that claim a resource was created
// but carry no resource ID.
func progressIntegrityPolicy() Policy {
	return Policy{
		Name:        "progress-integrity",
		Description: "Created steps must have a resource ID in the progress document",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package deploykit.policies.integrity

import rego.v1

deny contains violation if {
	some name, rec in input.progress
	rec.created
	not rec.resourceId
	violation := {
		"message": sprintf("step %s is recorded as created without a resource id", [name]),
		"step": name,
	}
}`,
	}
}

// orphanedProgressPolicy reports progress for steps the catalog no longer declares.
func orphanedProgressPolicy() Policy {
	return Policy{
		Name:        "orphaned-progress",
		Description: "Reports recorded steps that are no longer part of the scenario",
		Severity:    SeverityInfo,
		Enabled:     true,
		Rego: `package deploykit.policies.orphans

import rego.v1

step_names := {s.name | some s in input.steps}

deny contains violation if {
	some name, _ in input.progress
	not name in step_names
	violation := {
		"message": sprintf("progress has a record for %s, which is not in scenario %s", [name, input.scenario]),
		"step": name,
	}
}`,
	}
}
