// Package config loads deploykit project files.
//
// # Overview
//
// A project file (deploykit.yaml) declares the environments a project is
// deployed to, the scenarios (ordered step catalogs) that can be run against
// them, the commands that perform each step's actions, and where progress is
// stored.
//
// # Validation
//
// Loading validates a project in three stages, stopping at the first stage
// that reports problems:
//
//  1. Struct validation with go-playground/validator (required fields,
//     identifiers, enumerations).
//  2. The built-in CUE #Project schema held by the SchemaRegistry.
//  3. Cross-reference checks: duplicate environments and scenarios, every
//     scenario builds a valid engine catalog, exec mode has a command for
//     every phase, referenced scripts and policy files exist.
//
// Problems are reported as ValidationErrors.
//
// # Params Scripts
//
// An environment may name a Starlark params script. The script sees the
// environment's static params as the `params` dict and its ID as
// `environment`. Its public top-level globals become additional params;
// lists and dicts are JSON encoded and functions are ignored.
//
//	# params/prod.star
//	replicas = 3 if environment == "prod" else 1
//	endpoint = "https://" + params["region"] + ".example.com"
//
// # Usage Example
//
//	loader := config.NewLoader()
//	project, err := loader.Load(ctx, "deploykit.yaml")
//	if err != nil {
//	    return err
//	}
//
//	catalog, err := project.BuildCatalog("default")
//	if err != nil {
//	    return err
//	}
//
//	params, err := loader.ResolveParams(ctx, project, "prod")
package config
