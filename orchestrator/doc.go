// Package orchestrator owns the table of running machine instances and
// mediates all communication between them. Each instance gets a mailbox
// goroutine that drains inbound events strictly in arrival order, so at most
// one macrostep executes per instance at any time while distinct instances
// run concurrently. Requests emitted by actions via RequestSend are held
// until the sender's macrostep completes, then appended to the target's
// mailbox behind any prior entries; they are never delivered synchronously.
package orchestrator
