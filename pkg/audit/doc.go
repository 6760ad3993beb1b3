// Package audit records every authorization decision.
//
// # Overview
//
// An Entry names the actor, the permission or resource checked, the
// outcome and, for denials, the reason. Entries are written by a Logger:
//
//   - DBLogger stores them in the audit_entries table
//   - FileLogger appends JSON lines with size based rotation
//   - MemoryLogger keeps them in process
//   - MultiLogger fans out to several sinks
//
// # Ordering and durability
//
// AsyncLogger takes writes off the decision path. Entries are sharded by
// actor so one actor's entries are written in the order they were
// recorded. DrainMiddleware holds an HTTP response until everything
// recorded while serving it is written:
//
//	async := audit.NewAsyncLogger(audit.NewMultiLogger(db, file), audit.DefaultAsyncConfig(), logger, metrics)
//	router.Use(audit.DrainMiddleware(async, 2*time.Second, logger))
//
// A run of failed writes marks the pipeline unhealthy, which the readiness
// probe reports through HealthCheck.
//
// # Querying
//
// Store implementations serve GET /audit/entries and GET /audit/export
// (json, ndjson or csv).
package audit
