// Package database stores the facts produced by the miner engine.
//
// A [Database] implements miner.CommitSink, miner.IndexedLister and
// miner.GenerationSource over database/sql. Two drivers are supported:
//   - "sqlite3" (github.com/mattn/go-sqlite3), the default, opened in WAL mode
//   - "pgx" (github.com/jackc/pgx/v5/stdlib) for a shared PostgreSQL index
//
// Each committed fact becomes one row in the resources table keyed by path.
// A batch is written in a single transaction, and a row is only overwritten
// by a fact of the same or newer crawl generation. Roots added to an engine
// continue from [Database.MaxGeneration], so the guard holds across
// restarts. Retract removes a path and everything beneath it.
//
// A small metadata table keeps bookkeeping such as the last finished crawl
// per root.
package database
