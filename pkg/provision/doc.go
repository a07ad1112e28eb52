// Package provision implements the idempotent provisioning coordinator. It
// walks a declared topology in dependency order, checks every object for
// existence, and creates only what is absent, so re-running against converged
// infrastructure performs zero mutations. Firewall rules and caller address
// resolution are best-effort; placement drift on existing databases is
// delegated to the migration state machine when one is wired in.
package provision
