package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		laneBoundsPolicy(),
		serialLanesPolicy(),
		scheduledCostControlPolicy(),
	}
}

// laneBoundsPolicy keeps concurrency, retries and timeouts within limits.
func laneBoundsPolicy() Policy {
	return Policy{
		Name:        "lane-bounds",
		Description: "Lane concurrency must be positive and retries and timeouts must stay within the configured limits",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package lanekeeper.policies.lane_bounds

import rego.v1

deny contains violation if {
	some lane in input.lanes
	lane.concurrency < 1
	violation := {
		"message": sprintf("lane %s: concurrency must be at least 1", [lane.id]),
		"lane": lane.id,
	}
}

deny contains violation if {
	some lane in input.lanes
	input.limits.max_retries > 0
	lane.retries > input.limits.max_retries
	violation := {
		"message": sprintf("lane %s: %d retries exceeds the limit of %d", [lane.id, lane.retries, input.limits.max_retries]),
		"lane": lane.id,
	}
}

deny contains violation if {
	some lane in input.lanes
	input.limits.max_timeout_minutes > 0
	lane.timeout_minutes > input.limits.max_timeout_minutes
	violation := {
		"message": sprintf("lane %s: timeout of %d minutes exceeds the limit of %d", [lane.id, lane.timeout_minutes, input.limits.max_timeout_minutes]),
		"lane": lane.id,
	}
}

deny contains violation if {
	some lane in input.lanes
	lane.timeout_minutes == 0
	violation := {
		"message": sprintf("lane %s has no timeout", [lane.id]),
		"severity": "warning",
		"lane": lane.id,
	}
}
`,
	}
}

// serialLanesPolicy forces lanes that select serial scenarios onto one worker.
func serialLanesPolicy() Policy {
	return Policy{
		Name:        "serial-lanes",
		Description: "Lanes requiring a serial tag must run with concurrency 1",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package lanekeeper.policies.serial_lanes

import rego.v1

deny contains violation if {
	some lane in input.lanes
	lane.concurrency > 1
	some tag in input.limits.serial_tags
	tag in lane.required_tags
	violation := {
		"message": sprintf("lane %s selects @%s scenarios, which must run with concurrency 1 (got %d)", [lane.id, tag, lane.concurrency]),
		"lane": lane.id,
	}
}
`,
	}
}

// scheduledCostControlPolicy keeps costly lanes out of scheduled runs.
func scheduledCostControlPolicy() Policy {
	return Policy{
		Name:        "scheduled-cost-control",
		Description: "Scheduled runs must not enable lanes marked costly",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package lanekeeper.policies.scheduled_cost_control

import rego.v1

deny contains violation if {
	input.trigger.scheduled
	some lane in input.lanes
	lane.costly
	violation := {
		"message": sprintf("lane %s is costly and cannot run on a %s schedule", [lane.id, input.trigger.class]),
		"lane": lane.id,
	}
}
`,
	}
}
