// Package config loads and validates lanekeeper configuration.
//
// # Overview
//
// A configuration file describes the scenario runner command, the execution
// lanes, the tag expression used for each trigger class, the cron schedules
// that map to the daily and weekly cadences, and the ambient services (artifact
// storage, run history, policy guardrails and telemetry).
//
// Files are read by extension:
//
//   - .cue files are unified with the embedded #Config schema, so unknown
//     fields and out-of-range values are reported with file positions.
//   - .yaml, .yml and .json files are decoded with unknown fields rejected.
//
// Fields a file leaves out keep the values of Default, so an empty file is a
// valid configuration. Every loaded configuration is then checked with
// validator struct tags and cross-field rules (unique lane ids, parseable tag
// expressions, known remotes, unique crons).
//
// # Usage Example
//
//	cfg, err := config.Load("lanekeeper.cue")
//	if err != nil {
//	    var verrs config.ValidationErrors
//	    if errors.As(err, &verrs) {
//	        for _, e := range verrs {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//
// A minimal CUE configuration adding a third lane:
//
//	lanes: [
//	    {id: "binaries", tag_filter_suffix: "NOT ffi AND NOT broken", concurrency: 5, retries: 2, timeout_minutes: 90},
//	    {id: "ffi", tag_filter_suffix: "ffi AND NOT broken", concurrency: 1, retries: 2, timeout_minutes: 60, costly: true},
//	    {id: "wallet", tag_filter_suffix: "wallet", concurrency: 2, toggle: "binaries"},
//	]
//
// # Watching
//
// Watch reloads a file on every change and hands the result to a callback;
// the plan command uses it to re-plan as the file is edited.
package config
