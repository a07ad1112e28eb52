// Package stores persists run history: every engine run, its pipeline steps,
// and the placement migrations it performed. The backing store is a local
// SQLite database in WAL mode with an embedded, versioned schema.
package stores
