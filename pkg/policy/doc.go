// Package policy vets lane plans with Open Policy Agent before any lane runs.
//
// Each policy is a Rego v1 module with a deny rule. The input document is a
// PlanInput:
//
//	{
//	  "trigger": {"class": "daily", "kind": "schedule", "scheduled": true, "cadence": "daily"},
//	  "lanes": [{"id": "ffi", "tag_expression": "...", "required_tags": ["ffi"],
//	             "concurrency": 1, "retries": 2, "timeout_minutes": 60, "costly": true}],
//	  "limits": {"max_retries": 10, "max_timeout_minutes": 360, "serial_tags": ["ffi"]}
//	}
//
// Deny rules yield either a message string or an object with "message" and
// optional "severity" and "lane" keys. Error and critical violations deny
// the plan, which the scheduler reports as a configuration error; warning
// and info violations are logged.
//
// # Built-in Policies
//
//   - lane-bounds: concurrency of at least 1, retries and timeouts within the
//     configured limits, and a warning for lanes without a timeout.
//   - serial-lanes: lanes requiring a serial tag must run with concurrency 1.
//   - scheduled-cost-control: scheduled runs must not enable costly lanes.
//
// # Custom Policies
//
// Custom policies are loaded from the .rego and .json files named in the
// policy configuration. A .rego file is named after its file and denies by
// default. A .json file holds a Policy document:
//
//	{"name": "no-remote-nightly", "severity": "warning", "rego": "package ..."}
//
// Example:
//
//	package lanekeeper.custom.no_wallet
//
//	import rego.v1
//
//	deny contains msg if {
//		some lane in input.lanes
//		"wallet" in lane.required_tags
//		input.trigger.class == "change"
//		msg := sprintf("lane %s: wallet scenarios are not run on pull requests", [lane.id])
//	}
//
// Loader.Watch reloads custom policies when their files change.
package policy
