// Package runner starts the scenario test runner for a lane.
//
// A runner command is an argv template. Its arguments may contain these
// placeholders, substituted per lane:
//
//	{tags}         tag expression rendered in the configured syntax
//	{concurrency}  scenario parallelism
//	{retries}      per-scenario retry count
//	{report}       report path
//	{lane}         lane id
//	{timeout}      lane timeout in minutes, 0 when unbounded
//
// LocalRunner runs the command as a child process in its own process group.
// SSHRunner runs it on a remote host and copies the report back over SFTP.
// Router dispatches each invocation to one of them by the lane's remote.
package runner
