// Package migration implements the database migration state machine. A
// migration validates its request, issues exactly one placement update, then
// polls the database status at a fixed interval until it comes back online or
// the timeout elapses. Timing out is a distinct, legitimate outcome: the
// underlying move may still complete after poolhand stops watching. The final
// placement is always re-read after the terminal state, so the reported
// outcome reflects what the provider says rather than what was requested.
package migration
