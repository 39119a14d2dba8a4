// Package machine implements the statechart execution engine: the running
// instance, the microstep/macrostep transition algorithm, the delayed
// transition timers and the invoked-service manager.
//
// An Instance processes at most one macrostep at a time. Serialization of
// concurrent senders is the orchestrator's job; the instance itself guards a
// single mutex so that timer and service completions delivered on their own
// goroutines remain safe in standalone use.
package machine
