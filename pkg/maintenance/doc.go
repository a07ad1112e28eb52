// Package maintenance implements the index fragmentation decision engine.
// Fragmentation above 30 percent earns a rebuild, above 10 percent a
// reorganize, anything at or below the thresholds is left alone. Structures
// under the page-count noise floor are never touched. Application continues
// past individual statement failures so one locked structure cannot starve
// the rest of the pass.
package maintenance
