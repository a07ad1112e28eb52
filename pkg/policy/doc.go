// Package policy gates engine operations through Rego policies evaluated
// with OPA. Each policy contributes to a deny set; members carry a message,
// severity, and resource. In enforcing mode, error and critical violations
// block the operation; in advisory mode only critical ones do and the rest
// surface as run warnings. Policies come from a built-in set plus optional
// .rego/.json files, which can be hot reloaded via a filesystem watcher.
package policy
