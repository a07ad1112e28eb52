// Package analysis reads query performance statistics from a database's
// diagnostic views: the most expensive queries by average elapsed time, and
// missing-index recommendations ranked by estimated improvement. Results are
// advisory; nothing in this package mutates the database.
package analysis
