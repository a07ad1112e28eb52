// Package pipeline orchestrates deployment runs. A pipeline is an ordered
// list of stages under a two-tier failure policy: critical stages abort the
// remaining pipeline, tolerant stages record their error and let it continue,
// best-effort stages downgrade to warnings. Every run produces a complete
// audit trail with one entry per stage, and the final report renders as text,
// JSON, or YAML.
package pipeline
