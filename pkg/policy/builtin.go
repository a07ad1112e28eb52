package policy

// SourceBuiltin marks policies compiled into the binary.
const SourceBuiltin = "builtin"

// poolCapacityRego rejects pool declarations whose per-database bounds do not
// fit inside the pool.
const poolCapacityRego = `package poolhand.policies.capacity

import rego.v1

deny contains violation if {
	some pool in input.infra.pools
	pool.per_database_max > pool.total_capacity_units
	violation := {
		"message": sprintf("pool %s: per-database maximum %d exceeds total capacity %d", [pool.name, pool.per_database_max, pool.total_capacity_units]),
		"severity": "error",
		"resource": pool.name,
	}
}

deny contains violation if {
	some pool in input.infra.pools
	pool.per_database_min > pool.per_database_max
	violation := {
		"message": sprintf("pool %s: per-database minimum %d exceeds per-database maximum %d", [pool.name, pool.per_database_min, pool.per_database_max]),
		"severity": "error",
		"resource": pool.name,
	}
}
`

// requiredTagsRego nags about untagged deployments so cost attribution stays
// possible.
const requiredTagsRego = `package poolhand.policies.tags

import rego.v1

deny contains violation if {
	input.infra
	not input.infra.tags.owner
	violation := {
		"message": sprintf("resource group %s carries no owner tag", [input.infra.resource_group]),
		"severity": "warning",
		"resource": input.infra.resource_group,
	}
}
`

// migrationSafetyRego flags risky placement migrations: unvalidated moves in
// production and polling windows long enough to mask a stuck provider.
const migrationSafetyRego = `package poolhand.policies.migration

import rego.v1

deny contains violation if {
	input.migration
	input.context.environment == "production"
	not input.migration.validate_only
	violation := {
		"message": sprintf("migration of %s targets production without a validate-only dry run", [input.migration.database_id]),
		"severity": "warning",
		"resource": input.migration.database_id,
	}
}

deny contains violation if {
	input.migration
	input.migration.timeout > 7200000000000
	violation := {
		"message": sprintf("migration of %s requests a polling window beyond two hours", [input.migration.database_id]),
		"severity": "error",
		"resource": input.migration.database_id,
	}
}
`

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "pool-capacity",
			Description: "Per-database capacity bounds must fit inside the pool's total capacity.",
			Rego:        poolCapacityRego,
			Severity:    SeverityError,
			Enabled:     true,
			Tags:        []string{"capacity", "provisioning"},
			Source:      SourceBuiltin,
		},
		{
			Name:        "required-tags",
			Description: "Deployments should carry an owner tag for cost attribution.",
			Rego:        requiredTagsRego,
			Severity:    SeverityWarning,
			Enabled:     true,
			Tags:        []string{"governance"},
			Source:      SourceBuiltin,
		},
		{
			Name:        "migration-safety",
			Description: "Placement migrations are checked for dry runs in production and sane polling windows.",
			Rego:        migrationSafetyRego,
			Severity:    SeverityWarning,
			Enabled:     true,
			Tags:        []string{"migration"},
			Source:      SourceBuiltin,
		},
	}
}
