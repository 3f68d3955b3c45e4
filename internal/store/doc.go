// Package store persists counties, ballot records, audit ledgers and round
// state in SQLite.
//
// Store wraps the database handle and retries statements that hit SQLITE_BUSY
// with a short exponential backoff. Tx exposes the same query methods bound to
// a single transaction; read-decide-write sequences (sign-off, ACVR
// submission, round start, reset) run inside WithTx so concurrent readers never
// see a half-applied ledger update. Status and result updates issued by the
// importer go through the Store directly: each is its own short statement and
// survives a rolled-back import batch.
//
// Schema changes are goose migrations under migrations/; Open applies any that
// are pending.
package store
