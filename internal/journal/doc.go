// Package journal keeps an append-only SQLite record of conversion outcomes.
//
// The journal is an audit trail, not session state: nothing is restored from
// it at start-up. Each drained entity becomes one row naming the entity, its
// source and target formats, where it landed, and the failure message when it
// failed. The schema lives in schema.sql and is versioned; a mismatched
// journal is reported rather than migrated.
package journal
