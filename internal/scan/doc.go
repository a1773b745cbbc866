package scan

// Package scan implements the lifecycle of a single external network scan.
//
// Overview
// The Service owns at most one in-flight scan. Start launches the configured
// scanner binary in a background goroutine, Cancel asks it to stop, Progress
// and Params return point-in-time copies for any number of concurrent
// callers. A second Start while a scan is active returns ErrAlreadyRunning;
// scans are never queued or replaced.
//
// The supervisor goroutine drives a small state machine over statuses:
//
//	starting -> scanning* -> completed | cancelled | error
//
// scanning repeats once per stdout line. Every state change replaces the
// current Progress snapshot; Progress merges the snapshot with a copy of the
// full log sequence, so a polling client can reconstruct the whole history
// from a single call.
//
// Data flow:
//
//	caller                 Service                supervisor goroutine
//	  |                       |                       |
//	  | Start(params) ------->| single-flight check   |
//	  |                       | reset store+signal    |
//	  |                       | go run() ------------>| exec + stream stdout
//	  | Cancel() ------------>| signal.Set() . . . . >| observed before reads
//	  | Progress() ---------->| store snapshot        |
//
// Invariants:
//   - At most one supervisor goroutine at a time.
//   - Log order equals stdout arrival order, reset on every Start.
//   - Cancellation is cooperative; the process gets a SIGTERM and is reaped
//     in the background, the supervisor does not wait for it to die.
//   - Every exit path publishes a terminal status, failures are observable
//     by polling alone.
//   - The process exit code is not inspected; a scan that exits non-zero
//     after closing stdout still counts as completed.
