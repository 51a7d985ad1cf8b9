// Package ledger records which upstream item ids have already been relayed.
//
// Three backends share one interface:
//   - "file": a single pretty-printed JSON document {"processedIds": [...]}
//   - "sqlite": a local SQLite database (modernc.org/sqlite, no cgo)
//   - "postgres": a shared Postgres table via pgx's database/sql driver
//
// Ids are compared in canonical string form (see CanonicalID), so an id
// seen once as a number and later as a string is still one id.
package ledger
