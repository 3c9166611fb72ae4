// Package session holds the checkout session record, the status state
// machine and session storage.
//
// A [Record] is mutated only by the checkout orchestrator while it holds the
// per-session lock from a [Locker]. That lock is the serialization boundary for
// verifying mandates at most once and completing a session at most once.
package session
