// Package engine implements the execution state machine driving agent runs.
//
// The Engine owns every AgentContext mutation (single writer per agent),
// persists a snapshot after each state transition, and delegates model
// reasoning to a debate router. Runs progress through a small lifecycle:
//
//	Queued → Running ⇄ WaitingForHuman → {Completed | Error}
//
// Errored runs stay resumable: an operator can branch the context with
// feedback (ResumeError) or, for runs paused on an exhausted human-in-the-loop
// budget, approve, complete or abort them (ResumeHIL).
package engine
